// Package embeddings turns an image crop into a unit-length feature vector.
package embeddings

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/Tutortoise/depth-capture-service/inference"
	"github.com/Tutortoise/depth-capture-service/models"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultInputSize = 224
	DefaultDimension = 512
)

// Embedder maps an image to an embedding.
type Embedder interface {
	Embed(ctx context.Context, img image.Image) (models.Embedding, error)
}

type Config struct {
	ModelPath  string
	InputSize  int
	Dimension  int
	InputName  string
	OutputName string
}

func DefaultConfig() Config {
	return Config{
		InputSize:  DefaultInputSize,
		Dimension:  DefaultDimension,
		InputName:  "input",
		OutputName: "output",
	}
}

func (c Config) Validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("embedding input size %d must be positive", c.InputSize)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedding dimension %d must be positive", c.Dimension)
	}
	return nil
}

func (c Config) SessionConfig() inference.SessionConfig {
	size := int64(c.InputSize)
	return inference.SessionConfig{
		ModelPath:   c.ModelPath,
		InputName:   c.InputName,
		OutputName:  c.OutputName,
		InputShape:  []int64{1, 3, size, size},
		OutputShape: []int64{1, int64(c.Dimension)},
	}
}

// OnnxEmbedder resizes to the model input, applies ImageNet normalisation
// and L2-normalises the model output.
type OnnxEmbedder struct {
	cfg          Config
	pool         *inference.Pool[inference.Runner]
	preprocessor *inference.Preprocessor
}

func NewOnnxEmbedder(cfg Config, pool *inference.Pool[inference.Runner]) *OnnxEmbedder {
	return &OnnxEmbedder{
		cfg:          cfg,
		pool:         pool,
		preprocessor: inference.NewPreprocessor(cfg.InputSize, cfg.InputSize).WithImageNetNormalization(),
	}
}

func (e *OnnxEmbedder) Embed(ctx context.Context, img image.Image) (models.Embedding, error) {
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("embed: empty image")
	}

	resized := imaging.Resize(img, e.cfg.InputSize, e.cfg.InputSize, imaging.Linear)
	input := make([]float32, e.preprocessor.Len())
	if err := e.preprocessor.Process(resized, input); err != nil {
		return nil, fmt.Errorf("embed: prepare input: %w", err)
	}

	session, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("embed: acquire session: %w", err)
	}
	output, err := session.Run(input)
	if err != nil {
		e.pool.Discard(session)
		return nil, fmt.Errorf("embed: %w", err)
	}
	raw := append([]float32(nil), output...)
	e.pool.Release(session)

	if len(raw) != e.cfg.Dimension {
		return nil, fmt.Errorf("embed: model returned %d values, want %d", len(raw), e.cfg.Dimension)
	}
	return Normalize(raw), nil
}

// Normalize scales v to unit L2 length. A zero or non-finite norm yields
// an all-zero vector of the same dimension.
func Normalize(v []float32) models.Embedding {
	out := make(models.Embedding, len(v))
	if len(v) == 0 {
		return out
	}

	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	norm := floats.Norm(f, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return out
	}

	floats.Scale(1/norm, f)
	for i, x := range f {
		out[i] = float32(x)
	}
	return out
}
