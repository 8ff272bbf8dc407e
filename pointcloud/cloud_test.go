package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/Tutortoise/depth-capture-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame() (*models.FramePair, models.Intrinsics) {
	c := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	c.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	c.SetNRGBA(3, 1, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	d := models.NewDepthImage(4, 2, 0.001)
	d.Set(1, 0, 1000)
	d.Set(3, 1, 2000)

	intr := models.Intrinsics{Width: 4, Height: 2, Fx: 2, Fy: 2, Ppx: 2, Ppy: 1}
	return &models.FramePair{Color: c, Depth: d}, intr
}

func TestFromFrameSkipsHoles(t *testing.T) {
	frame, intr := testFrame()
	cloud, err := FromFrame(frame, intr)
	require.NoError(t, err)
	require.Equal(t, 2, cloud.Len())

	v := cloud.Vertices[0]
	assert.InDelta(t, -0.5, v.Position.X, 1e-9)
	assert.InDelta(t, -0.5, v.Position.Y, 1e-9)
	assert.InDelta(t, 1.0, v.Position.Z, 1e-9)
	assert.Equal(t, [3]uint8{10, 20, 30}, [3]uint8{v.R, v.G, v.B})

	lo, hi, ok := cloud.Bounds()
	require.True(t, ok)
	assert.InDelta(t, 1.0, lo.Z, 1e-9)
	assert.InDelta(t, 2.0, hi.Z, 1e-9)
}

func TestFromFrameRejectsUnaligned(t *testing.T) {
	frame, intr := testFrame()
	frame.Depth = models.NewDepthImage(2, 2, 0.001)
	_, err := FromFrame(frame, intr)
	assert.Error(t, err)

	frame, _ = testFrame()
	_, err = FromFrame(frame, models.Intrinsics{})
	assert.ErrorIs(t, err, models.ErrNoIntrinsics)
}

// readHeader consumes the PLY header and returns the vertex count and the
// property lines in order.
func readHeader(t *testing.T, r *bufio.Reader) (int, []string) {
	t.Helper()
	var count int
	var props []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case line == "end_header":
			return count, props
		case strings.HasPrefix(line, "element vertex "):
			count, err = strconv.Atoi(strings.TrimPrefix(line, "element vertex "))
			require.NoError(t, err)
		case strings.HasPrefix(line, "property "):
			props = append(props, line)
		case strings.HasPrefix(line, "format "):
			assert.Equal(t, "format binary_little_endian 1.0", line)
		}
	}
}

func TestWritePLY(t *testing.T) {
	frame, intr := testFrame()
	cloud, err := FromFrame(frame, intr)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cloud.WritePLY(&buf))

	r := bufio.NewReader(&buf)
	count, props := readHeader(t, r)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{
		"property float x", "property float y", "property float z",
		"property uchar red", "property uchar green", "property uchar blue",
	}, props)

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Len(t, body, 2*vertexSize)

	second := body[vertexSize:]
	z := math.Float32frombits(binary.LittleEndian.Uint32(second[8:]))
	assert.InDelta(t, 2.0, z, 1e-6)
	assert.Equal(t, []byte{200, 100, 50}, second[12:15])
}

func TestWriteFile(t *testing.T) {
	frame, intr := testFrame()
	cloud, err := FromFrame(frame, intr)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.ply")
	require.NoError(t, cloud.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("ply\n")))

	assert.Error(t, cloud.WriteFile(filepath.Join(t.TempDir(), "missing", "model.ply")))
}
