package detections

import (
	"testing"

	"github.com/Tutortoise/depth-capture-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type yoloHit struct {
	anchor       int
	cx, cy, w, h float32
	classScores  []float32
}

// yoloTensor builds a [1, 4+classes, anchors] output with the given hits.
func yoloTensor(inputSize, classes int, hits ...yoloHit) []float32 {
	anchors := NumAnchors(inputSize)
	out := make([]float32, (4+classes)*anchors)
	for _, h := range hits {
		out[h.anchor] = h.cx
		out[anchors+h.anchor] = h.cy
		out[2*anchors+h.anchor] = h.w
		out[3*anchors+h.anchor] = h.h
		for c, s := range h.classScores {
			out[(4+c)*anchors+h.anchor] = s
		}
	}
	return out
}

func TestNumAnchors(t *testing.T) {
	assert.Equal(t, 8400, NumAnchors(640))
	assert.Equal(t, 1344, NumAnchors(256))
	assert.Equal(t, 21, NumAnchors(32))
}

func TestDecodeYOLOScalesToOriginal(t *testing.T) {
	preds := yoloTensor(32, 1,
		yoloHit{anchor: 3, cx: 16, cy: 16, w: 8, h: 8, classScores: []float32{0.9}},
		yoloHit{anchor: 7, cx: 4, cy: 4, w: 2, h: 2, classScores: []float32{0.2}},
	)

	dets, err := DecodeYOLO(preds, DecodeOptions{
		InputSize: 32, NumClasses: 1, ConfThreshold: 0.5, TargetClass: AnyClass,
		OriginalWidth: 64, OriginalHeight: 32,
	})
	require.NoError(t, err)
	require.Len(t, dets, 1)

	box := dets[0].Box
	assert.Equal(t, 24, box.X1)
	assert.Equal(t, 12, box.Y1)
	assert.Equal(t, 40, box.X2)
	assert.Equal(t, 20, box.Y2)
	assert.InDelta(t, 0.9, box.Score, 1e-6)
}

func TestDecodeYOLOClampsAndPicksClass(t *testing.T) {
	preds := yoloTensor(32, 2,
		yoloHit{anchor: 0, cx: 2, cy: 2, w: 10, h: 10, classScores: []float32{0.6, 0.8}},
	)

	dets, err := DecodeYOLO(preds, DecodeOptions{
		InputSize: 32, NumClasses: 2, ConfThreshold: 0.5, TargetClass: AnyClass,
		OriginalWidth: 32, OriginalHeight: 32,
	})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].Class)
	assert.Equal(t, 0, dets[0].Box.X1)
	assert.Equal(t, 0, dets[0].Box.Y1)

	dets, err = DecodeYOLO(preds, DecodeOptions{
		InputSize: 32, NumClasses: 2, ConfThreshold: 0.7, TargetClass: 0,
		OriginalWidth: 32, OriginalHeight: 32,
	})
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestDecodeYOLORejectsBadLength(t *testing.T) {
	_, err := DecodeYOLO(make([]float32, 10), DecodeOptions{InputSize: 32, NumClasses: 1})
	assert.Error(t, err)

	_, err = DecodeYOLO(make([]float32, 5*22), DecodeOptions{InputSize: 32, NumClasses: 1})
	assert.Error(t, err)
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []models.Detection{
		{Box: models.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10, Score: 0.9}},
		{Box: models.BoundingBox{X1: 1, Y1: 1, X2: 11, Y2: 11, Score: 0.8}},
		{Box: models.BoundingBox{X1: 50, Y1: 50, X2: 60, Y2: 60, Score: 0.7}},
		{Box: models.BoundingBox{X1: 1, Y1: 1, X2: 11, Y2: 11, Score: 0.6}, Class: 1},
	}

	kept := NonMaxSuppression(dets, 0.45)
	require.Len(t, kept, 3)
	assert.Equal(t, 0.9, kept[0].Box.Score)
	assert.Equal(t, 0.7, kept[1].Box.Score)
	assert.Equal(t, 1, kept[2].Class)
}

func TestBest(t *testing.T) {
	assert.Nil(t, Best(nil))

	dets := []models.Detection{
		{Box: models.BoundingBox{X1: 1, Score: 0.4}},
		{Box: models.BoundingBox{X1: 2, Score: 0.95}},
	}
	best := Best(dets)
	require.NotNil(t, best)
	assert.Equal(t, 2, best.X1)

	best.X1 = 99
	assert.Equal(t, 2, dets[1].Box.X1)
}
