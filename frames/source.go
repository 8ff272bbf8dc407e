package frames

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/Tutortoise/depth-capture-service/models"
)

// Source wraps a Device and hands out aligned frame pairs.
type Source struct {
	dev    Device
	logger *zap.Logger

	geom    models.CameraGeometry
	aligner *Aligner
	started time.Time

	mu      sync.RWMutex
	current *models.FramePair
	next    uint64

	delivered atomic.Uint64
	skipped   atomic.Uint64
	stopOnce  sync.Once
	stopErr   error
}

func NewSource(dev Device, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{dev: dev, logger: logger}
}

// Start opens the device and validates its geometry.
func (s *Source) Start(ctx context.Context) error {
	geom, err := s.dev.Start(ctx)
	if err != nil {
		return fmt.Errorf("start device: %w", err)
	}
	if err := geom.Color.CheckValid(); err != nil {
		return fmt.Errorf("colour stream: %w", err)
	}
	if err := geom.Depth.CheckValid(); err != nil {
		return fmt.Errorf("depth stream: %w", err)
	}
	if geom.DepthScale <= 0 {
		return fmt.Errorf("invalid depth scale %v", geom.DepthScale)
	}

	s.geom = geom
	s.aligner = NewAligner(geom)
	s.started = time.Now()
	s.logger.Info("device started",
		zap.Int("width", geom.Color.Width),
		zap.Int("height", geom.Color.Height),
		zap.Float64("depth_scale", geom.DepthScale),
		zap.Bool("align", geom.NeedsAlignment()),
	)
	return nil
}

// Geometry returns the sensor geometry reported at Start.
func (s *Source) Geometry() models.CameraGeometry {
	return s.geom
}

// NextFramePair blocks until a complete frame set arrives. Incomplete sets
// are dropped without advancing the frame index.
func (s *Source) NextFramePair(ctx context.Context) (*models.FramePair, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fs, err := s.dev.WaitForFrames(ctx)
		if errors.Is(err, ErrFrameUnavailable) {
			s.skipped.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("wait for frames: %w", err)
		}
		if !fs.Complete() {
			s.skipped.Inc()
			continue
		}

		pair, err := s.assemble(fs)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.current = pair
		s.mu.Unlock()
		s.delivered.Inc()
		return pair, nil
	}
}

func (s *Source) assemble(fs Frameset) (*models.FramePair, error) {
	b := fs.Color.Bounds()
	if b.Dx() != s.geom.Color.Width || b.Dy() != s.geom.Color.Height {
		return nil, fmt.Errorf("colour frame is %dx%d, expected %dx%d",
			b.Dx(), b.Dy(), s.geom.Color.Width, s.geom.Color.Height)
	}
	if fs.Depth.Scale <= 0 {
		fs.Depth.Scale = s.geom.DepthScale
	}

	depth := s.aligner.Align(fs.Depth)
	if depth.Width != b.Dx() || depth.Height != b.Dy() {
		return nil, fmt.Errorf("depth frame is %dx%d after alignment, expected %dx%d",
			depth.Width, depth.Height, b.Dx(), b.Dy())
	}

	pair := &models.FramePair{
		Index:     s.next,
		Timestamp: time.Since(s.started),
		Color:     fs.Color,
		Depth:     depth,
	}
	s.next++
	return pair, nil
}

// DistanceAt samples the current pair's depth in metres. It is NaN before
// the first pair and outside the frame.
func (s *Source) DistanceAt(x, y int) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return math.NaN()
	}
	return s.current.Depth.Meters(x, y)
}

func (s *Source) Delivered() uint64 { return s.delivered.Load() }
func (s *Source) Skipped() uint64   { return s.skipped.Load() }

// Close stops the device once.
func (s *Source) Close() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.dev.Stop()
		s.logger.Info("device stopped",
			zap.Uint64("delivered", s.delivered.Load()),
			zap.Uint64("skipped", s.skipped.Load()),
		)
	})
	return s.stopErr
}
