package physics

// QuadraticBezier evaluates the curve through start and end pulled toward control.
func QuadraticBezier(start, control, end Vec3, t float64) Vec3 {
	u := 1 - t
	return start.Scale(u * u).Add(control.Scale(2 * u * t)).Add(end.Scale(t * t))
}

// Parabola returns the lob height offset at normalised time t. It peaks at height when t is 0.5.
func Parabola(height, t float64) float64 {
	return height * 4 * (t - t*t)
}

// Curve maps normalised time onto a scalar.
type Curve interface {
	Evaluate(t float64) float64
}

// EaseInOut is a two key curve with flat tangents at both ends.
type EaseInOut struct {
	StartTime  float64 `json:"start_time" yaml:"start_time"`
	StartValue float64 `json:"start_value" yaml:"start_value"`
	EndTime    float64 `json:"end_time" yaml:"end_time"`
	EndValue   float64 `json:"end_value" yaml:"end_value"`
}

// Evaluate implements Curve using a smoothstep blend between the keys.
func (c EaseInOut) Evaluate(t float64) float64 {
	span := c.EndTime - c.StartTime
	if span <= 0 {
		return c.EndValue
	}
	s := Clamp01((t - c.StartTime) / span)
	s = s * s * (3 - 2*s)
	return c.StartValue + (c.EndValue-c.StartValue)*s
}

// CurveFunc adapts a function into a Curve.
type CurveFunc func(t float64) float64

// Evaluate implements Curve.
func (f CurveFunc) Evaluate(t float64) float64 { return f(t) }
