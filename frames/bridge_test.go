package frames

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGeometry(t *testing.T, buf *bytes.Buffer, w, h int) {
	t.Helper()
	data, err := json.Marshal(testGeometry(w, h))
	require.NoError(t, err)
	require.NoError(t, binary.Write(buf, binary.BigEndian, uint32(len(data))))
	buf.Write(data)
}

func writeFrame(t *testing.T, buf *bytes.Buffer, flags uint8, w, h int, depth uint16) {
	t.Helper()
	hdr := bridgeHeader{Magic: bridgeMagic, Flags: flags, CW: uint16(w), CH: uint16(h), DW: uint16(w), DH: uint16(h)}
	require.NoError(t, binary.Write(buf, binary.BigEndian, hdr))
	if flags&FlagColor != 0 {
		for i := 0; i < w*h; i++ {
			buf.Write([]byte{10, 20, 30}) // B, G, R
		}
	}
	if flags&FlagDepth != 0 {
		px := make([]uint16, w*h)
		for i := range px {
			px[i] = depth
		}
		require.NoError(t, binary.Write(buf, binary.LittleEndian, px))
	}
}

func TestBridgeDeviceReadsFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	writeGeometry(t, buf, 4, 3)
	writeFrame(t, buf, FlagColor|FlagDepth, 4, 3, 900)
	writeFrame(t, buf, FlagColor, 4, 3, 0)

	dev := newBridgeFromReader(buf)
	geom, err := dev.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, geom.Color.Width)

	fs, err := dev.WaitForFrames(context.Background())
	require.NoError(t, err)
	require.True(t, fs.Complete())
	px := fs.Color.NRGBAAt(1, 1)
	assert.Equal(t, [3]uint8{30, 20, 10}, [3]uint8{px.R, px.G, px.B}, "BGR must be swapped to RGB")
	assert.Equal(t, uint16(900), fs.Depth.At(3, 2))
	assert.InDelta(t, 0.9, fs.Depth.Meters(3, 2), 1e-9)

	fs, err = dev.WaitForFrames(context.Background())
	assert.ErrorIs(t, err, ErrFrameUnavailable)
	assert.NotNil(t, fs.Color)

	_, err = dev.WaitForFrames(context.Background())
	assert.ErrorIs(t, err, ErrDeviceClosed)
}

func TestBridgeDeviceRejectsBadMagic(t *testing.T) {
	buf := new(bytes.Buffer)
	writeGeometry(t, buf, 2, 2)
	buf.Write([]byte("JUNKJUNKJUNKJUNK"))

	dev := newBridgeFromReader(buf)
	_, err := dev.Start(context.Background())
	require.NoError(t, err)
	_, err = dev.WaitForFrames(context.Background())
	assert.ErrorContains(t, err, "bad frame magic")
}

func TestBridgeDeviceThroughSource(t *testing.T) {
	buf := new(bytes.Buffer)
	writeGeometry(t, buf, 4, 3)
	writeFrame(t, buf, FlagDepth, 4, 3, 700)
	writeFrame(t, buf, FlagColor|FlagDepth, 4, 3, 700)

	src := NewSource(newBridgeFromReader(buf), nil)
	require.NoError(t, src.Start(context.Background()))
	pair, err := src.NextFramePair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pair.Index)
	assert.Equal(t, uint64(1), src.Skipped())
}
