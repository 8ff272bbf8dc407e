package frames

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/Tutortoise/depth-capture-service/models"
)

// SyntheticOptions configures a SyntheticDevice.
type SyntheticOptions struct {
	Width, Height int
	FPS           int
	// DepthScale is metres per raw unit; 0 means millimetres.
	DepthScale float64
	// BaseDepth is the raw depth of the background plane at the left edge.
	BaseDepth uint16
	// Target is painted bright and closer than the background. Empty means none.
	Target image.Rectangle
	// DropColorEvery / DropDepthEvery drop that stream on every Nth wait.
	DropColorEvery int
	DropDepthEvery int
	// MaxFrames ends the stream with ErrDeviceClosed after that many waits.
	MaxFrames int
}

// SyntheticDevice generates a deterministic scene. It is used for dry runs
// without hardware and throughout the tests.
type SyntheticDevice struct {
	opts SyntheticOptions

	mu      sync.Mutex
	waits   int
	stopped bool
	ticker  *time.Ticker
}

func NewSyntheticDevice(opts SyntheticOptions) *SyntheticDevice {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	if opts.DepthScale <= 0 {
		opts.DepthScale = 0.001
	}
	if opts.BaseDepth == 0 {
		opts.BaseDepth = 800
	}
	return &SyntheticDevice{opts: opts}
}

func (d *SyntheticDevice) Start(_ context.Context) (models.CameraGeometry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opts.FPS > 0 {
		d.ticker = time.NewTicker(time.Second / time.Duration(d.opts.FPS))
	}
	in := models.Intrinsics{
		Width:  d.opts.Width,
		Height: d.opts.Height,
		Fx:     float64(d.opts.Width) * 0.95,
		Fy:     float64(d.opts.Width) * 0.95,
		Ppx:    float64(d.opts.Width) / 2,
		Ppy:    float64(d.opts.Height) / 2,
	}
	return models.CameraGeometry{
		Depth:        in,
		Color:        in,
		DepthToColor: models.IdentityExtrinsics(),
		DepthScale:   d.opts.DepthScale,
	}, nil
}

func (d *SyntheticDevice) WaitForFrames(ctx context.Context) (Frameset, error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return Frameset{}, ErrDeviceClosed
	}
	if d.opts.MaxFrames > 0 && d.waits >= d.opts.MaxFrames {
		d.mu.Unlock()
		return Frameset{}, ErrDeviceClosed
	}
	d.waits++
	n := d.waits
	ticker := d.ticker
	d.mu.Unlock()

	if ticker != nil {
		select {
		case <-ctx.Done():
			return Frameset{}, ctx.Err()
		case <-ticker.C:
		}
	}

	var fs Frameset
	if d.opts.DropColorEvery <= 0 || n%d.opts.DropColorEvery != 0 {
		fs.Color = d.renderColor(n)
	}
	if d.opts.DropDepthEvery <= 0 || n%d.opts.DropDepthEvery != 0 {
		fs.Depth = d.renderDepth()
	}
	return fs, nil
}

func (d *SyntheticDevice) renderColor(n int) *image.NRGBA {
	w, h := d.opts.Width, d.opts.Height
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	shift := uint8(n)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: shift,
				A: 255,
			}
			if image.Pt(x, y).In(d.opts.Target) {
				c = color.NRGBA{R: 250, G: 240, B: 230, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func (d *SyntheticDevice) renderDepth() *models.DepthImage {
	w, h := d.opts.Width, d.opts.Height
	dm := models.NewDepthImage(w, h, d.opts.DepthScale)
	near := d.opts.BaseDepth / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := d.opts.BaseDepth + uint16(x/4)
			if image.Pt(x, y).In(d.opts.Target) {
				v = near
			}
			dm.Pix[y*w+x] = v
		}
	}
	return dm
}

func (d *SyntheticDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticker != nil {
		d.ticker.Stop()
	}
	d.stopped = true
	return nil
}
