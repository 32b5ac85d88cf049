package physics

import "math"

// Up is the world vertical axis.
var Up = Vec3{Y: 1}

// Forward is the fallback heading used when a direction degenerates to zero length.
var Forward = Vec3{Z: 1}

// Vec3 is a three component vector in world space. Y is vertical.
type Vec3 struct {
	X float64 `json:"x" yaml:"x" msgpack:"x"`
	Y float64 `json:"y" yaml:"y" msgpack:"y"`
	Z float64 `json:"z" yaml:"z" msgpack:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// Scale multiplies every component by s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

// Dot returns the scalar product.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Cross returns the vector product v x o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Len returns the euclidean length.
func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

// Distance returns |v - o|.
func (v Vec3) Distance(o Vec3) float64 { return v.Sub(o).Len() }

// Flat drops the vertical component.
func (v Vec3) Flat() Vec3 { return Vec3{X: v.X, Z: v.Z} }

// IsZero reports whether every component is exactly zero.
func (v Vec3) IsZero() bool { return v.X == 0 && v.Y == 0 && v.Z == 0 }

// Normalize returns the unit vector in the direction of v, or false when v has no length.
func (v Vec3) Normalize() (Vec3, bool) {
	length := v.Len()
	if length < 1e-9 || math.IsNaN(length) || math.IsInf(length, 0) {
		return Vec3{}, false
	}
	return v.Scale(1 / length), true
}

// NormalizeOr returns the unit vector of v or the supplied fallback when v is degenerate.
func (v Vec3) NormalizeOr(fallback Vec3) Vec3 {
	if unit, ok := v.Normalize(); ok {
		return unit
	}
	return fallback
}

// ClampLength shortens v to at most max while keeping its direction.
func (v Vec3) ClampLength(max float64) Vec3 {
	length := v.Len()
	if length <= max || length == 0 {
		return v
	}
	return v.Scale(max / length)
}

// Lerp interpolates between a and b. t is not clamped.
func Lerp(a, b Vec3, t float64) Vec3 {
	return Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// Clamp01 restricts t to the unit interval.
func Clamp01(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	default:
		return t
	}
}
