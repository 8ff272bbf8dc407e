// Package frames turns an RGB-D device into a stream of pixel-aligned
// colour + depth pairs.
package frames

import (
	"context"
	"errors"
	"image"

	"github.com/Tutortoise/depth-capture-service/models"
)

var (
	// ErrFrameUnavailable means the device had no coherent frame set this
	// time around. Callers skip the iteration and wait again.
	ErrFrameUnavailable = errors.New("frame unavailable")
	// ErrDeviceClosed means the device stopped delivering frames for good.
	ErrDeviceClosed = errors.New("device closed")
)

// Frameset is what a device hands back from one wait. Either stream may be
// missing; depth is in the depth sensor's own pixel grid.
type Frameset struct {
	Color *image.NRGBA
	Depth *models.DepthImage
}

// Complete reports whether both streams are present.
func (f Frameset) Complete() bool {
	return f.Color != nil && f.Depth != nil
}

// Device is the camera capability the pipeline consumes.
type Device interface {
	// Start opens the streams and returns the sensor geometry.
	Start(ctx context.Context) (models.CameraGeometry, error)
	// WaitForFrames blocks until the next frame set is available.
	WaitForFrames(ctx context.Context) (Frameset, error)
	// Stop releases the device. It is safe to call more than once.
	Stop() error
}
