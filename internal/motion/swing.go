package motion

import (
	"math"

	"arenaclash/server/internal/physics"
)

// SwingParams configures the curved swing projectile.
type SwingParams struct {
	TravelSeconds float64 `json:"travel_seconds" yaml:"travel_seconds"`
	CurveStrength float64 `json:"curve_strength" yaml:"curve_strength"`
	// FlightHeight pins the end point height so the swing never dives into the floor.
	FlightHeight float64 `json:"flight_height" yaml:"flight_height"`
	SpinSpeed    float64 `json:"spin_speed" yaml:"spin_speed"`
	WobbleAngle  float64 `json:"wobble_angle" yaml:"wobble_angle"`
	WobbleSpeed  float64 `json:"wobble_speed" yaml:"wobble_speed"`
}

// DefaultSwingParams mirrors the baked Curved definition.
func DefaultSwingParams() SwingParams {
	return SwingParams{
		TravelSeconds: 1,
		CurveStrength: 1,
		FlightHeight:  2.8,
		SpinSpeed:     360,
		WobbleAngle:   10,
		WobbleSpeed:   8,
	}
}

// Swing follows a quadratic Bezier from the spawn point to the resolved ground point. The
// control point sits beside the straight line by CurveStrength.
type Swing struct {
	base
	params  SwingParams
	aim     physics.Ray
	start   physics.Vec3
	control physics.Vec3
	end     physics.Vec3
	elapsed float64
}

// NewSwing builds a curved swing trajectory.
func NewSwing(launch Launch, params SwingParams) *Swing {
	launch = launch.normalized()
	if params.TravelSeconds <= 0 {
		params.TravelSeconds = DefaultSwingParams().TravelSeconds
	}
	s := &Swing{params: params, aim: launch.Aim, start: launch.Origin}
	s.pose = Pose{Position: launch.Origin, Heading: launch.Direction}
	return s
}

// Kind implements Policy.
func (s *Swing) Kind() Kind { return KindCurvedSwing }

// Control exposes the Bezier control point once the end point is fixed.
func (s *Swing) Control() physics.Vec3 { return s.control }

// Step implements Policy.
func (s *Swing) Step(env Env, dt float64) error {
	if s.IsTerminal() || dt <= 0 {
		return nil
	}
	if s.phase == PhaseArriving {
		s.Terminate()
		return nil
	}
	if s.phase == PhaseSpawned {
		if env == nil {
			s.Terminate()
			return ErrNoGround
		}
		end, ok := env.RaycastGround(s.aim)
		if !ok {
			s.Terminate()
			return ErrNoGround
		}
		//1.- Pin the end height and offset the midpoint sideways to bend the path.
		end.Y = s.params.FlightHeight
		s.end = end
		mid := physics.Lerp(s.start, end, 0.5)
		right := physics.Up.Cross(end.Sub(s.start).NormalizeOr(physics.Forward))
		s.control = mid.Add(right.Scale(s.params.CurveStrength))
		s.phase = PhaseTraveling
	}
	s.elapsed += dt
	t := physics.Clamp01(s.elapsed / s.params.TravelSeconds)
	s.moveTo(physics.QuadraticBezier(s.start, s.control, s.end, t), dt)
	//2.- Spin and wobble only decorate the pose.
	s.pose.Spin = math.Mod(s.params.SpinSpeed*s.elapsed, 360)
	s.pose.Wobble = math.Sin(s.elapsed*s.params.WobbleSpeed) * s.params.WobbleAngle
	if t >= 1 {
		//3.- Hold the end point for one more step so arrival overlaps still resolve.
		s.phase = PhaseArriving
	}
	return nil
}
