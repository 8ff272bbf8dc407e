package models

import (
	"image"
	"math"
	"time"
)

// DepthImage is a 16-bit depth grid. Scale converts raw units to metres.
type DepthImage struct {
	Width  int
	Height int
	Pix    []uint16
	Scale  float64
}

// NewDepthImage allocates an all-zero depth grid.
func NewDepthImage(width, height int, scale float64) *DepthImage {
	return &DepthImage{
		Width:  width,
		Height: height,
		Pix:    make([]uint16, width*height),
		Scale:  scale,
	}
}

func (d *DepthImage) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < d.Width && y < d.Height
}

// At returns the raw depth at (x, y), or 0 outside the grid.
func (d *DepthImage) At(x, y int) uint16 {
	if !d.In(x, y) {
		return 0
	}
	return d.Pix[y*d.Width+x]
}

func (d *DepthImage) Set(x, y int, v uint16) {
	if d.In(x, y) {
		d.Pix[y*d.Width+x] = v
	}
}

// Meters returns the distance at (x, y) in metres. Points outside the grid
// yield NaN; holes yield 0.
func (d *DepthImage) Meters(x, y int) float64 {
	if !d.In(x, y) {
		return math.NaN()
	}
	return float64(d.Pix[y*d.Width+x]) * d.Scale
}

// FramePair is one synchronised, pixel-aligned colour + depth capture.
type FramePair struct {
	Index     uint64
	Timestamp time.Duration
	Color     *image.NRGBA
	Depth     *DepthImage
}

func (f *FramePair) Width() int  { return f.Color.Bounds().Dx() }
func (f *FramePair) Height() int { return f.Color.Bounds().Dy() }
