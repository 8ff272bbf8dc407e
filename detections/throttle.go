package detections

import (
	"context"
	"image"

	"github.com/Tutortoise/depth-capture-service/models"

	"go.uber.org/atomic"
)

// Throttler runs the detector on every Nth frame and serves the cached box
// in between. It is owned by the frame loop and not safe for concurrent use.
type Throttler struct {
	detector Detector
	interval uint64
	cached   *models.BoundingBox
	runs     atomic.Uint64
}

func NewThrottler(detector Detector, interval int) *Throttler {
	if interval < 1 {
		interval = 1
	}
	return &Throttler{detector: detector, interval: uint64(interval)}
}

// MaybeDetect returns the best box for frameIndex. The detector only runs
// when frameIndex is a multiple of the interval; a run that finds nothing
// replaces the cache with nil. On error the cache is left untouched.
func (t *Throttler) MaybeDetect(ctx context.Context, img image.Image, frameIndex uint64) (*models.BoundingBox, error) {
	if frameIndex%t.interval != 0 {
		return t.cached, nil
	}
	detections, err := t.detector.Detect(ctx, img)
	if err != nil {
		return t.cached, err
	}
	t.runs.Inc()
	t.cached = Best(detections)
	return t.cached, nil
}

// Cached is the last detection result.
func (t *Throttler) Cached() *models.BoundingBox { return t.cached }

// Runs counts completed detector invocations.
func (t *Throttler) Runs() uint64 { return t.runs.Load() }

func (t *Throttler) Interval() int { return int(t.interval) }
