package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tutortoise/depth-capture-service/capture"
	"github.com/Tutortoise/depth-capture-service/command"
	"github.com/Tutortoise/depth-capture-service/detections"
	"github.com/Tutortoise/depth-capture-service/embeddings"
	"github.com/Tutortoise/depth-capture-service/frames"
	"github.com/Tutortoise/depth-capture-service/models"
	"github.com/Tutortoise/depth-capture-service/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// brightDetector boxes the pixels the synthetic device paints for its target.
type brightDetector struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *brightDetector) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}

	b := img.Bounds()
	box := models.BoundingBox{X1: b.Max.X, Y1: b.Max.Y, X2: -1, Y2: -1, Score: 0.9}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, _, _ := img.At(x, y).RGBA()
			if r>>8 == 250 && g>>8 == 240 {
				box.X1, box.Y1 = min(box.X1, x), min(box.Y1, y)
				box.X2, box.Y2 = max(box.X2, x), max(box.Y2, y)
			}
		}
	}
	if box.Empty() {
		return nil, nil
	}
	return []models.Detection{{Box: box}}, nil
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, image.Image) (models.Embedding, error) {
	return embeddings.Normalize([]float32{3, 4}), nil
}

type harness struct {
	runner   *Runner
	detector *brightDetector
	requests *command.RequestState
	out      *syncBuffer
}

// syncBuffer lets the test read output while the loop is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) lines(t *testing.T) []map[string]json.RawMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(s.buf.Bytes()))
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func newHarness(t *testing.T, dev frames.Device, interval int) *harness {
	t.Helper()
	// Equivalent of t.Chdir (Go 1.24+) for the go1.21 toolchain.
	prevWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(prevWD) })
	logger := zaptest.NewLogger(t)

	source := frames.NewSource(dev, logger)
	require.NoError(t, source.Start(context.Background()))
	t.Cleanup(func() { source.Close() })

	det := &brightDetector{}
	requests := command.NewRequestState()
	pipe := capture.NewPipeline(capture.DefaultOptions(), source.Geometry().Color, unitEmbedder{}, nil, logger)
	out := &syncBuffer{}

	runner := NewRunner(source, detections.NewThrottler(det, interval), requests, pipe,
		stream.NewEmitter(out), Options{}, logger)
	return &harness{runner: runner, detector: det, requests: requests, out: out}
}

func kinds(lines []map[string]json.RawMessage) []string {
	var k []string
	for _, l := range lines {
		switch {
		case l["status"] != nil:
			k = append(k, "ready")
		case l["info"] != nil:
			k = append(k, "info")
		case l["event"] != nil:
			k = append(k, "saved")
		case l["error"] != nil:
			k = append(k, "error")
		case l["image"] != nil:
			k = append(k, "preview")
		}
	}
	return k
}

func armFromCommand(t *testing.T, requests *command.RequestState, line string) {
	t.Helper()
	l := command.NewListener(strings.NewReader(line+"\n"), requests, zaptest.NewLogger(t))
	require.NoError(t, l.Run(context.Background()))
	require.True(t, requests.Armed())
}

func TestRunCaptureWithDetection(t *testing.T) {
	dev := frames.NewSyntheticDevice(frames.SyntheticOptions{
		Width: 64, Height: 48, Target: image.Rect(20, 10, 40, 30), MaxFrames: 3,
	})
	h := newHarness(t, dev, 1)
	armFromCommand(t, h.requests, `{"cmd":"save","hn":"123","mode":"pre"}`)

	err := h.runner.Run(context.Background())
	require.ErrorIs(t, err, frames.ErrDeviceClosed)

	lines := h.out.lines(t)
	assert.Equal(t, []string{"ready", "info", "saved", "preview", "preview", "preview", "error"}, kinds(lines))

	saved := lines[2]
	assert.JSONEq(t, `"patients/123_pre"`, string(saved["folder"]))
	var emb []float32
	require.NoError(t, json.Unmarshal(saved["embedding"], &emb))
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, emb, 1e-6)

	entries, err := os.ReadDir(filepath.Join("patients", "123_pre"))
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	preview := lines[3]
	assert.NotEqual(t, "null", string(preview["bbox"]))
	assert.JSONEq(t, `[0.6,0.8]`, string(preview["embeddings"]))
	assert.JSONEq(t, `0.4`, string(preview["distance"]))

	assert.False(t, h.requests.Armed())
	snap := h.runner.Stats().Snapshot()
	assert.Equal(t, uint64(3), snap.Frames)
	assert.Equal(t, uint64(1), snap.Captures)
	assert.False(t, snap.Running)
}

func TestRunCaptureWithoutDetection(t *testing.T) {
	dev := frames.NewSyntheticDevice(frames.SyntheticOptions{Width: 64, Height: 48, MaxFrames: 2})
	h := newHarness(t, dev, 1)
	armFromCommand(t, h.requests, `{"cmd":"save","hn":"123","mode":"pre"}`)

	_ = h.runner.Run(context.Background())

	lines := h.out.lines(t)
	require.Equal(t, []string{"ready", "info", "saved", "preview", "preview", "error"}, kinds(lines))
	assert.Equal(t, "null", string(lines[2]["embedding"]))
	assert.Equal(t, "null", string(lines[3]["bbox"]))
	assert.Equal(t, "null", string(lines[3]["embeddings"]))

	entries, err := os.ReadDir(filepath.Join("patients", "123_pre"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRunThrottlesDetectorAndKeepsBox(t *testing.T) {
	dev := frames.NewSyntheticDevice(frames.SyntheticOptions{
		Width: 32, Height: 24, Target: image.Rect(4, 4, 12, 12), MaxFrames: 5,
	})
	h := newHarness(t, dev, 2)

	_ = h.runner.Run(context.Background())

	assert.Equal(t, 3, h.detector.calls)
	assert.Equal(t, uint64(3), h.runner.Stats().Snapshot().DetectorRuns)
	for _, l := range h.out.lines(t) {
		if l["image"] != nil {
			assert.JSONEq(t, `{"x1":4,"y1":4,"x2":11,"y2":11,"score":0.9}`, string(l["bbox"]))
		}
	}
}

func TestRunSkipsIncompleteFramesWithoutPreview(t *testing.T) {
	dev := frames.NewSyntheticDevice(frames.SyntheticOptions{
		Width: 16, Height: 12, MaxFrames: 6, DropDepthEvery: 2,
	})
	h := newHarness(t, dev, 1)

	_ = h.runner.Run(context.Background())

	previews := 0
	for _, k := range kinds(h.out.lines(t)) {
		if k == "preview" {
			previews++
		}
	}
	assert.Equal(t, 3, previews)
	assert.Equal(t, 3, h.detector.calls)
}

func TestRunDetectorErrorIsFatal(t *testing.T) {
	dev := frames.NewSyntheticDevice(frames.SyntheticOptions{Width: 16, Height: 12, MaxFrames: 5})
	h := newHarness(t, dev, 1)
	h.detector.err = errors.New("detector session lost")

	err := h.runner.Run(context.Background())
	require.Error(t, err)

	lines := h.out.lines(t)
	assert.Equal(t, []string{"ready", "error"}, kinds(lines))
	assert.JSONEq(t, `"detector session lost"`, string(lines[1]["error"]))
}

func TestRunStopsOnCancel(t *testing.T) {
	dev := frames.NewSyntheticDevice(frames.SyntheticOptions{Width: 16, Height: 12, FPS: 200})
	h := newHarness(t, dev, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return h.runner.Stats().Previews.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
	assert.NotContains(t, kinds(h.out.lines(t)), "error")
}
