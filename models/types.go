package models

import (
	"image"
	"time"
)

// Detection is a single detector hit in original image coordinates.
type Detection struct {
	Box   BoundingBox
	Class int
}

// BoundingBox is an axis-aligned pixel rectangle with a confidence score.
// A nil *BoundingBox means nothing was detected.
type BoundingBox struct {
	X1    int     `json:"x1"`
	Y1    int     `json:"y1"`
	X2    int     `json:"x2"`
	Y2    int     `json:"y2"`
	Score float64 `json:"score"`
}

func (b BoundingBox) Width() int  { return b.X2 - b.X1 }
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Empty reports whether the box covers no pixels.
func (b BoundingBox) Empty() bool {
	return b.X2 < b.X1 || b.Y2 < b.Y1
}

// Rect returns the inclusive box as a half-open image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	if b.Empty() {
		return image.Rectangle{}
	}
	return image.Rect(b.X1, b.Y1, b.X2+1, b.Y2+1)
}

// IOU is the intersection over union of two boxes.
func (b BoundingBox) IOU(o BoundingBox) float64 {
	x1 := max(b.X1, o.X1)
	y1 := max(b.Y1, o.Y1)
	x2 := min(b.X2, o.X2)
	y2 := min(b.Y2, o.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := float64((x2 - x1) * (y2 - y1))
	area1 := float64(b.Width() * b.Height())
	area2 := float64(o.Width() * o.Height())
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}
	return intersection / union
}

// Embedding is a fixed-dimension feature vector, unit length or all zero.
type Embedding []float32

// ProcessingTimings records how long each part of one loop iteration took.
type ProcessingTimings struct {
	Frame   uint64
	Acquire time.Duration
	Detect  time.Duration
	Capture time.Duration
	Emit    time.Duration
	Total   time.Duration
}
