package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tutortoise/depth-capture-service/models"
)

func TestAlignIdentityReturnsInput(t *testing.T) {
	geom := testGeometry(8, 6)
	dm := models.NewDepthImage(8, 6, 0.001)
	assert.Same(t, dm, NewAligner(geom).Align(dm))
}

func TestAlignResamplesIntoColourGrid(t *testing.T) {
	depthIn := models.Intrinsics{Width: 4, Height: 4, Fx: 50, Fy: 50, Ppx: 2, Ppy: 2}
	colorIn := models.Intrinsics{Width: 8, Height: 8, Fx: 100, Fy: 100, Ppx: 4, Ppy: 4}
	geom := models.CameraGeometry{Depth: depthIn, Color: colorIn, DepthToColor: models.IdentityExtrinsics(), DepthScale: 0.001}

	dm := models.NewDepthImage(4, 4, 0.001)
	dm.Set(2, 2, 1000) // on the optical axis
	dm.Set(3, 2, 1000) // one depth pixel to the right

	out := NewAligner(geom).Align(dm)
	assert.Equal(t, 8, out.Width)
	assert.Equal(t, 8, out.Height)
	assert.Equal(t, uint16(1000), out.At(4, 4))
	// 1 px at f=50 is 2 px at f=100
	assert.Equal(t, uint16(1000), out.At(6, 4))
	assert.Equal(t, uint16(0), out.At(5, 4))
}

func TestAlignAppliesTranslationAndKeepsNearest(t *testing.T) {
	in := models.Intrinsics{Width: 10, Height: 10, Fx: 100, Fy: 100, Ppx: 5, Ppy: 5}
	ext := models.IdentityExtrinsics()
	ext.Translation = [3]float64{0.01, 0, 0} // 1cm baseline
	geom := models.CameraGeometry{Depth: in, Color: in, DepthToColor: ext, DepthScale: 0.001}

	dm := models.NewDepthImage(10, 10, 0.001)
	dm.Set(5, 5, 1000) // lands on x = 5 + 0.01/1*100 = 6
	dm.Set(4, 5, 500)  // lands on x = 4 + 0.01/0.5*100 = 6, nearer

	out := NewAligner(geom).Align(dm)
	assert.Equal(t, uint16(500), out.At(6, 5))
	assert.Equal(t, uint16(0), out.At(5, 5))
}
