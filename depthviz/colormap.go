// Package depthviz renders 16-bit depth maps as 8-bit false colour images.
package depthviz

import (
	"image"
	"math"

	"github.com/Tutortoise/depth-capture-service/models"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultAlpha maps roughly 8.5 m of millimetre depth onto the 0..255 range.
const DefaultAlpha = 0.03

type stop struct {
	at    float64
	color colorful.Color
}

var jetStops = []stop{
	{0, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.375, colorful.Color{R: 0, G: 1, B: 1}},
	{0.625, colorful.Color{R: 1, G: 1, B: 0}},
	{0.875, colorful.Color{R: 1, G: 0, B: 0}},
	{1, colorful.Color{R: 0.5, G: 0, B: 0}},
}

// Jet is the 256 entry JET lookup table.
var Jet = buildLUT(jetStops)

func buildLUT(stops []stop) [256][3]uint8 {
	var lut [256][3]uint8
	for i := range lut {
		t := float64(i) / 255
		j := 1
		for j < len(stops)-1 && t > stops[j].at {
			j++
		}
		lo, hi := stops[j-1], stops[j]
		f := (t - lo.at) / (hi.at - lo.at)
		r, g, b := lo.color.BlendRgb(hi.color, f).RGB255()
		lut[i] = [3]uint8{r, g, b}
	}
	return lut
}

// ScaleAbs converts one raw depth unit to 8 bits as |v*alpha|, rounded and
// saturated.
func ScaleAbs(v uint16, alpha float64) uint8 {
	s := math.Round(math.Abs(float64(v) * alpha))
	if s > 255 {
		return 255
	}
	return uint8(s)
}

// Colorize scales raw depth values by alpha and maps them through Jet.
func Colorize(depth *models.DepthImage, alpha float64) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, depth.Width, depth.Height))
	for y := 0; y < depth.Height; y++ {
		row := out.Pix[y*out.Stride:]
		for x := 0; x < depth.Width; x++ {
			c := Jet[ScaleAbs(depth.Pix[y*depth.Width+x], alpha)]
			row[x*4] = c[0]
			row[x*4+1] = c[1]
			row[x*4+2] = c[2]
			row[x*4+3] = 0xff
		}
	}
	return out
}
