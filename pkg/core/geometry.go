// pkg/core/geometry.go
package core

import "math"

// Vec3 is a position or scale in local camera-space metres.
type Vec3 struct {
	X float32 `json:"x" mapstructure:"x"`
	Y float32 `json:"y" mapstructure:"y"`
	Z float32 `json:"z" mapstructure:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Scale returns v multiplied component-wise by s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Quat is a rotation quaternion. The zero value is treated as identity.
type Quat struct {
	X float32 `json:"x" mapstructure:"x"`
	Y float32 `json:"y" mapstructure:"y"`
	Z float32 `json:"z" mapstructure:"z"`
	W float32 `json:"w" mapstructure:"w"`
}

// IdentityQuat is the no-rotation quaternion.
var IdentityQuat = Quat{W: 1}

// IsZero reports whether q is the zero value.
func (q Quat) IsZero() bool {
	return q == Quat{}
}

// Normalized returns q, or IdentityQuat for the zero value.
func (q Quat) Normalized() Quat {
	if q.IsZero() {
		return IdentityQuat
	}
	return q
}

// AxisAngle builds a rotation of degrees around axis.
func AxisAngle(axis Vec3, degrees float64) Quat {
	l := math.Sqrt(float64(axis.X*axis.X + axis.Y*axis.Y + axis.Z*axis.Z))
	if l == 0 {
		return IdentityQuat
	}
	half := degrees * math.Pi / 360
	s := math.Sin(half) / l
	return Quat{
		X: float32(float64(axis.X) * s),
		Y: float32(float64(axis.Y) * s),
		Z: float32(float64(axis.Z) * s),
		W: float32(math.Cos(half)),
	}
}

// Mul returns the Hamilton product q*r.
func (q Quat) Mul(r Quat) Quat {
	q, r = q.Normalized(), r.Normalized()
	return Quat{
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

// Pose is a position and orientation.
type Pose struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// Extent is the estimated physical size of a marker.
type Extent struct {
	X float32 `json:"x"`
	Z float32 `json:"z"`
}
