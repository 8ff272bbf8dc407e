package models

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// ErrNoIntrinsics is returned when camera parameters are missing or unusable.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// Intrinsics are pinhole camera parameters in pixels.
type Intrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks that the parameters can be used for projection.
func (in *Intrinsics) CheckValid() error {
	if in == nil {
		return ErrNoIntrinsics
	}
	if in.Width <= 0 || in.Height <= 0 {
		return fmt.Errorf("%w: invalid size (%d, %d)", ErrNoIntrinsics, in.Width, in.Height)
	}
	if in.Fx <= 0 || in.Fy <= 0 {
		return fmt.Errorf("%w: invalid focal length (%v, %v)", ErrNoIntrinsics, in.Fx, in.Fy)
	}
	if in.Ppx < 0 || in.Ppy < 0 {
		return fmt.Errorf("%w: invalid principal point (%v, %v)", ErrNoIntrinsics, in.Ppx, in.Ppy)
	}
	return nil
}

// PixelToPoint deprojects pixel (x, y) at depth z (metres) into camera space.
func (in *Intrinsics) PixelToPoint(x, y, z float64) r3.Vector {
	return r3.Vector{
		X: (x - in.Ppx) / in.Fx * z,
		Y: (y - in.Ppy) / in.Fy * z,
		Z: z,
	}
}

// PointToPixel projects a camera-space point onto the image plane. Points
// at or behind the camera map to (-1, -1) so bounds checks drop them.
func (in *Intrinsics) PointToPixel(p r3.Vector) (float64, float64) {
	if p.Z <= 0 {
		return -1, -1
	}
	return math.Round(p.X/p.Z*in.Fx + in.Ppx), math.Round(p.Y/p.Z*in.Fy + in.Ppy)
}

// Extrinsics is a rigid transform from one sensor frame to another.
// Rotation is row-major 3x3; Translation is in metres.
type Extrinsics struct {
	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

// IdentityExtrinsics maps a frame onto itself.
func IdentityExtrinsics() Extrinsics {
	return Extrinsics{Rotation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// IsIdentity also treats the zero value as identity so an omitted
// extrinsics block in config means "same frame".
func (e Extrinsics) IsIdentity() bool {
	return e == (Extrinsics{}) || e == IdentityExtrinsics()
}

// Apply transforms p into the target frame.
func (e Extrinsics) Apply(p r3.Vector) r3.Vector {
	if e == (Extrinsics{}) {
		return p
	}
	r := e.Rotation
	return r3.Vector{
		X: r[0]*p.X + r[1]*p.Y + r[2]*p.Z + e.Translation[0],
		Y: r[3]*p.X + r[4]*p.Y + r[5]*p.Z + e.Translation[1],
		Z: r[6]*p.X + r[7]*p.Y + r[8]*p.Z + e.Translation[2],
	}
}

// CameraGeometry describes both sensors of an RGB-D device.
type CameraGeometry struct {
	Depth        Intrinsics `json:"depth"`
	Color        Intrinsics `json:"color"`
	DepthToColor Extrinsics `json:"depth_to_color"`
	DepthScale   float64    `json:"depth_scale"`
}

// NeedsAlignment reports whether depth must be reprojected into the colour grid.
func (g CameraGeometry) NeedsAlignment() bool {
	return g.Depth != g.Color || !g.DepthToColor.IsIdentity()
}
