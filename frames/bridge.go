package frames

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/Tutortoise/depth-capture-service/models"
)

// Frame records written by a bridge helper:
//
//	geometry: [uint32 len][JSON models.CameraGeometry]     (once)
//	frame:    [4]byte "RGBD" | flags u8 | cw,ch,dw,dh u16  (big endian)
//	          colour: cw*ch*3 bytes BGR8 when flags&FlagColor
//	          depth:  dw*dh*2 bytes little endian Z16 when flags&FlagDepth
const (
	FlagColor = 1 << 0
	FlagDepth = 1 << 1
)

var bridgeMagic = [4]byte{'R', 'G', 'B', 'D'}

const maxGeometryRecord = 64 << 10

// BridgeDevice drives a vendor SDK helper process (for example a small
// RealSense wrapper) and reads frames from its stdout.
type BridgeDevice struct {
	name string
	args []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	stdout  io.ReadCloser
	r       *bufio.Reader
	geom    models.CameraGeometry
	stopped bool
}

func NewBridgeDevice(name string, args ...string) *BridgeDevice {
	return &BridgeDevice{name: name, args: args}
}

// newBridgeFromReader wires a device to an already-open frame stream.
func newBridgeFromReader(r io.Reader) *BridgeDevice {
	return &BridgeDevice{r: bufio.NewReaderSize(r, 1<<20), stderr: &bytes.Buffer{}}
}

func (d *BridgeDevice) Start(ctx context.Context) (models.CameraGeometry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.r == nil {
		cmd := exec.Command(d.name, d.args...)
		d.stderr = &bytes.Buffer{}
		cmd.Stderr = d.stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return models.CameraGeometry{}, fmt.Errorf("bridge stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return models.CameraGeometry{}, fmt.Errorf("start bridge %s: %w", d.name, err)
		}
		d.cmd = cmd
		d.stdout = stdout
		d.r = bufio.NewReaderSize(stdout, 1<<20)
	}

	var n uint32
	if err := binary.Read(d.r, binary.BigEndian, &n); err != nil {
		return models.CameraGeometry{}, d.wrapReadErr("read geometry length", err)
	}
	if n == 0 || n > maxGeometryRecord {
		return models.CameraGeometry{}, fmt.Errorf("geometry record of %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return models.CameraGeometry{}, d.wrapReadErr("read geometry", err)
	}
	if err := json.Unmarshal(buf, &d.geom); err != nil {
		return models.CameraGeometry{}, fmt.Errorf("parse geometry: %w", err)
	}
	return d.geom, nil
}

type bridgeHeader struct {
	Magic  [4]byte
	Flags  uint8
	CW, CH uint16
	DW, DH uint16
}

func (d *BridgeDevice) WaitForFrames(ctx context.Context) (Frameset, error) {
	if err := ctx.Err(); err != nil {
		return Frameset{}, err
	}
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return Frameset{}, ErrDeviceClosed
	}

	// reads happen outside the lock so Stop can kill a stalled helper
	var h bridgeHeader
	if err := binary.Read(d.r, binary.BigEndian, &h); err != nil {
		return Frameset{}, d.wrapReadErr("read frame header", err)
	}
	if h.Magic != bridgeMagic {
		return Frameset{}, fmt.Errorf("bad frame magic %q", h.Magic[:])
	}

	var fs Frameset
	if h.Flags&FlagColor != 0 {
		img, err := readBGR(d.r, int(h.CW), int(h.CH))
		if err != nil {
			return Frameset{}, d.wrapReadErr("read colour", err)
		}
		fs.Color = img
	}
	if h.Flags&FlagDepth != 0 {
		dm := models.NewDepthImage(int(h.DW), int(h.DH), d.geom.DepthScale)
		if err := binary.Read(d.r, binary.LittleEndian, dm.Pix); err != nil {
			return Frameset{}, d.wrapReadErr("read depth", err)
		}
		fs.Depth = dm
	}
	if !fs.Complete() {
		return fs, ErrFrameUnavailable
	}
	return fs, nil
}

func readBGR(r io.Reader, w, h int) (*image.NRGBA, error) {
	raw := make([]byte, w*h*3)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(raw); i, j = i+3, j+4 {
		img.Pix[j] = raw[i+2]
		img.Pix[j+1] = raw[i+1]
		img.Pix[j+2] = raw[i]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// wrapReadErr maps end of stream to ErrDeviceClosed and attaches whatever
// the helper printed on stderr.
func (d *BridgeDevice) wrapReadErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrDeviceClosed
	}
	if d.stderr != nil && d.stderr.Len() > 0 {
		return fmt.Errorf("%s: %w (bridge stderr: %s)", what, err, strings.TrimSpace(d.stderr.String()))
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (d *BridgeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	d.stopped = true
	if d.cmd == nil {
		return nil
	}
	if d.stdout != nil {
		d.stdout.Close()
	}
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	// exit status after a kill is expected noise
	_ = d.cmd.Wait()
	return nil
}
