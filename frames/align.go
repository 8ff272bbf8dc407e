package frames

import (
	"math"

	"github.com/Tutortoise/depth-capture-service/models"
)

// Aligner reprojects depth samples into the colour camera's pixel grid so
// the same (x, y) addresses the same physical point in both images.
type Aligner struct {
	geom models.CameraGeometry
}

func NewAligner(geom models.CameraGeometry) *Aligner {
	return &Aligner{geom: geom}
}

// Align returns depth expressed in the colour grid. When both sensors share
// intrinsics and the extrinsics are identity the input is returned as is.
func (a *Aligner) Align(depth *models.DepthImage) *models.DepthImage {
	if !a.geom.NeedsAlignment() {
		return depth
	}

	scale := depth.Scale
	if scale <= 0 {
		scale = a.geom.DepthScale
	}
	color := &a.geom.Color
	out := models.NewDepthImage(color.Width, color.Height, scale)

	for v := 0; v < depth.Height; v++ {
		for u := 0; u < depth.Width; u++ {
			raw := depth.Pix[v*depth.Width+u]
			if raw == 0 {
				continue
			}
			p := a.geom.Depth.PixelToPoint(float64(u), float64(v), float64(raw)*scale)
			q := a.geom.DepthToColor.Apply(p)
			x, y := color.PointToPixel(q)
			cx, cy := int(x), int(y)
			if !out.In(cx, cy) {
				continue
			}
			z := math.Round(q.Z / scale)
			if z <= 0 || z > math.MaxUint16 {
				continue
			}
			// nearest surface wins when several samples land on one pixel
			cur := out.At(cx, cy)
			if cur == 0 || uint16(z) < cur {
				out.Set(cx, cy, uint16(z))
			}
		}
	}
	return out
}
