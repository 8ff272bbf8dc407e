package stream

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/Tutortoise/depth-capture-service/models"

	"github.com/disintegration/imaging"
)

const (
	DefaultPreviewScale   = 0.5
	DefaultPreviewQuality = 80
)

// Preview is the payload sent every loop iteration.
type Preview struct {
	Distance   float64             `json:"distance"`
	Image      string              `json:"image"`
	BBox       *models.BoundingBox `json:"bbox"`
	Embeddings models.Embedding    `json:"embeddings"`
}

// RoundDistance rounds metres to millimetres. NaN and infinities become 0
// so the payload stays valid JSON.
func RoundDistance(d float64) float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return math.Round(d*1000) / 1000
}

// BuildPreview downsizes the colour frame by scale, JPEG encodes it and
// packs it with the telemetry for this iteration.
func BuildPreview(frame *models.FramePair, distance float64, bbox *models.BoundingBox, emb models.Embedding, scale float64, quality int) (*Preview, error) {
	w := int(math.Round(float64(frame.Width()) * scale))
	h := int(math.Round(float64(frame.Height()) * scale))
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("preview scale %v leaves no pixels", scale)
	}

	small := imaging.Resize(frame.Color, w, h, imaging.Linear)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	return &Preview{
		Distance:   RoundDistance(distance),
		Image:      base64.StdEncoding.EncodeToString(buf.Bytes()),
		BBox:       bbox,
		Embeddings: emb,
	}, nil
}
