package detections

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/Tutortoise/depth-capture-service/inference"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	output    []float32
	err       error
	lastInput []float32
	destroyed bool
}

func (f *fakeRunner) Run(input []float32) ([]float32, error) {
	f.lastInput = append([]float32(nil), input...)
	return f.output, f.err
}

func (f *fakeRunner) Destroy() { f.destroyed = true }

func testDetector(t *testing.T, runner *fakeRunner) *OnnxDetector {
	t.Helper()
	pool, err := inference.NewPool(func() (inference.Runner, error) { return runner, nil }, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)

	cfg := DefaultConfig()
	cfg.InputSize = 32
	return NewOnnxDetector(cfg, pool)
}

func TestOnnxDetectorDetect(t *testing.T) {
	runner := &fakeRunner{output: yoloTensor(32, 1,
		yoloHit{anchor: 5, cx: 16, cy: 16, w: 16, h: 16, classScores: []float32{0.9}},
		yoloHit{anchor: 6, cx: 17, cy: 16, w: 16, h: 16, classScores: []float32{0.85}},
	)}
	det := testDetector(t, runner)

	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	dets, err := det.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 16, dets[0].Box.X1)
	assert.Equal(t, 48, dets[0].Box.X2)

	require.Len(t, runner.lastInput, 3*32*32)
	assert.InDelta(t, 1.0, runner.lastInput[0], 1e-6)
}

func TestOnnxDetectorDiscardsFailedSession(t *testing.T) {
	runner := &fakeRunner{err: errors.New("bad model")}
	det := testDetector(t, runner)

	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	img.Set(0, 0, color.White)
	_, err := det.Detect(context.Background(), img)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "model inference", perr.Message)
	assert.True(t, runner.destroyed)
	assert.Equal(t, int64(1), det.pool.Metrics().TotalDiscarded)
}

func TestOnnxDetectorEmptyImage(t *testing.T) {
	det := testDetector(t, &fakeRunner{})
	_, err := det.Detect(context.Background(), image.NewNRGBA(image.Rectangle{}))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.InputSize = 100
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.TargetClass = 3
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ConfThreshold = 1.5
	assert.Error(t, cfg.Validate())
}
