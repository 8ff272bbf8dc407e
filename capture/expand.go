package capture

import (
	"image"
	"math"

	"github.com/Tutortoise/depth-capture-service/models"

	"github.com/disintegration/imaging"
)

// DefaultExpandScale grows a detection so the crop keeps some context.
const DefaultExpandScale = 1.5

// ExpandBox scales box about its centre and clamps each coordinate to the
// image. The result is empty when nothing of the box lies inside the image.
func ExpandBox(box models.BoundingBox, scale float64, width, height int) models.BoundingBox {
	w := float64(box.X2 - box.X1)
	h := float64(box.Y2 - box.Y1)
	cx := float64(box.X1) + w/2
	cy := float64(box.Y1) + h/2
	hw := w * scale / 2
	hh := h * scale / 2

	return models.BoundingBox{
		X1:    clamp(int(math.Round(cx-hw)), 0, width-1),
		Y1:    clamp(int(math.Round(cy-hh)), 0, height-1),
		X2:    clamp(int(math.Round(cx+hw)), 0, width-1),
		Y2:    clamp(int(math.Round(cy+hh)), 0, height-1),
		Score: box.Score,
	}
}

// Crop cuts the inclusive box out of img. An empty box yields nil.
func Crop(img image.Image, box models.BoundingBox) *image.NRGBA {
	rect := box.Rect().Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	return imaging.Crop(img, rect)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
