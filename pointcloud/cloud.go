// Package pointcloud builds textured point clouds from aligned depth and
// colour frames and exports them as PLY.
package pointcloud

import (
	"fmt"

	"github.com/Tutortoise/depth-capture-service/models"

	"github.com/golang/geo/r3"
)

// Vertex is one textured point in camera space, metres.
type Vertex struct {
	Position r3.Vector
	R, G, B  uint8
}

type Cloud struct {
	Vertices []Vertex
}

func (c *Cloud) Len() int { return len(c.Vertices) }

// FromFrame deprojects every non-zero depth pixel through the colour
// intrinsics and attaches the colour of the same pixel. The frame must
// already be aligned to the colour grid.
func FromFrame(frame *models.FramePair, intr models.Intrinsics) (*Cloud, error) {
	if err := intr.CheckValid(); err != nil {
		return nil, err
	}
	depth := frame.Depth
	if depth.Width != frame.Width() || depth.Height != frame.Height() {
		return nil, fmt.Errorf("depth %dx%d is not aligned to colour %dx%d",
			depth.Width, depth.Height, frame.Width(), frame.Height())
	}

	cloud := &Cloud{Vertices: make([]Vertex, 0, depth.Width*depth.Height/2)}
	color := frame.Color
	origin := color.Bounds().Min
	for y := 0; y < depth.Height; y++ {
		for x := 0; x < depth.Width; x++ {
			raw := depth.Pix[y*depth.Width+x]
			if raw == 0 {
				continue
			}
			z := float64(raw) * depth.Scale
			off := color.PixOffset(origin.X+x, origin.Y+y)
			cloud.Vertices = append(cloud.Vertices, Vertex{
				Position: intr.PixelToPoint(float64(x), float64(y), z),
				R:        color.Pix[off],
				G:        color.Pix[off+1],
				B:        color.Pix[off+2],
			})
		}
	}
	return cloud, nil
}

// Bounds returns the axis-aligned extent of the cloud.
func (c *Cloud) Bounds() (lo, hi r3.Vector, ok bool) {
	if len(c.Vertices) == 0 {
		return lo, hi, false
	}
	lo, hi = c.Vertices[0].Position, c.Vertices[0].Position
	for _, v := range c.Vertices[1:] {
		p := v.Position
		lo = r3.Vector{X: min(lo.X, p.X), Y: min(lo.Y, p.Y), Z: min(lo.Z, p.Z)}
		hi = r3.Vector{X: max(hi.X, p.X), Y: max(hi.Y, p.Y), Z: max(hi.Z, p.Z)}
	}
	return lo, hi, true
}
