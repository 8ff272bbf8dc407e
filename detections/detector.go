package detections

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/Tutortoise/depth-capture-service/inference"
	"github.com/Tutortoise/depth-capture-service/models"

	"github.com/disintegration/imaging"
)

// Detector locates objects in a colour frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]models.Detection, error)
}

type Config struct {
	ModelPath     string
	InputSize     int
	NumClasses    int
	TargetClass   int
	ConfThreshold float64
	IoUThreshold  float64
}

func DefaultConfig() Config {
	return Config{
		InputSize:     DefaultInputSize,
		NumClasses:    DefaultNumClasses,
		TargetClass:   AnyClass,
		ConfThreshold: DefaultConfThreshold,
		IoUThreshold:  DefaultIoUThreshold,
	}
}

// SessionConfig is the ONNX session layout a YOLO model with this config uses.
func (c Config) SessionConfig() inference.SessionConfig {
	size := int64(c.InputSize)
	return inference.SessionConfig{
		ModelPath:   c.ModelPath,
		InputName:   "images",
		OutputName:  "output0",
		InputShape:  []int64{1, 3, size, size},
		OutputShape: []int64{1, int64(4 + c.NumClasses), int64(NumAnchors(c.InputSize))},
	}
}

// OnnxDetector runs a YOLO model from a session pool.
type OnnxDetector struct {
	cfg          Config
	pool         *inference.Pool[inference.Runner]
	preprocessor *inference.Preprocessor
	bufferPool   sync.Pool
}

func NewOnnxDetector(cfg Config, pool *inference.Pool[inference.Runner]) *OnnxDetector {
	pre := inference.NewPreprocessor(cfg.InputSize, cfg.InputSize)
	return &OnnxDetector{
		cfg:          cfg,
		pool:         pool,
		preprocessor: pre,
		bufferPool: sync.Pool{
			New: func() interface{} {
				buf := make([]float32, pre.Len())
				return &buf
			},
		},
	}
}

func (d *OnnxDetector) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, &ProcessingError{Message: "empty image"}
	}

	resized := imaging.Resize(img, d.cfg.InputSize, d.cfg.InputSize, imaging.Linear)

	bufPtr := d.bufferPool.Get().(*[]float32)
	defer d.bufferPool.Put(bufPtr)
	if err := d.preprocessor.Process(resized, *bufPtr); err != nil {
		return nil, &ProcessingError{Message: "prepare input buffer", Cause: err}
	}

	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, &ProcessingError{Message: "acquire detector session", Cause: err}
	}

	output, err := session.Run(*bufPtr)
	if err != nil {
		d.pool.Discard(session)
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}

	detections, err := DecodeYOLO(output, DecodeOptions{
		InputSize:      d.cfg.InputSize,
		NumClasses:     d.cfg.NumClasses,
		ConfThreshold:  d.cfg.ConfThreshold,
		TargetClass:    d.cfg.TargetClass,
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
	})
	d.pool.Release(session)
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}

	return NonMaxSuppression(detections, d.cfg.IoUThreshold), nil
}

// Validate reports configuration errors before any session is created.
func (c Config) Validate() error {
	switch {
	case c.InputSize <= 0 || c.InputSize%32 != 0:
		return fmt.Errorf("detector input size %d must be a positive multiple of 32", c.InputSize)
	case c.NumClasses <= 0:
		return fmt.Errorf("detector class count %d must be positive", c.NumClasses)
	case c.TargetClass >= c.NumClasses:
		return fmt.Errorf("detector target class %d out of range", c.TargetClass)
	case c.ConfThreshold < 0 || c.ConfThreshold > 1:
		return fmt.Errorf("detector confidence threshold %v out of [0,1]", c.ConfThreshold)
	case c.IoUThreshold < 0 || c.IoUThreshold > 1:
		return fmt.Errorf("detector IoU threshold %v out of [0,1]", c.IoUThreshold)
	}
	return nil
}

// NopDetector never finds anything. It stands in when no detector model is
// configured, which turns every capture into a degraded one.
type NopDetector struct{}

func (NopDetector) Detect(context.Context, image.Image) ([]models.Detection, error) {
	return nil, nil
}
