package motion

import "arenaclash/server/internal/physics"

// StraightParams configures a projectile that flies along its launch direction.
type StraightParams struct {
	MaxDistance float64 `json:"max_distance" yaml:"max_distance"`
}

// DefaultStraightParams mirrors the baked Bullet definition.
func DefaultStraightParams() StraightParams { return StraightParams{MaxDistance: 20} }

// Straight travels linearly and terminates at MaxDistance from the spawn point.
type Straight struct {
	base
	params    StraightParams
	direction physics.Vec3
	speed     float64
	traveled  float64
}

// NewStraight builds a straight trajectory.
func NewStraight(launch Launch, params StraightParams) *Straight {
	launch = launch.normalized()
	if params.MaxDistance <= 0 {
		params.MaxDistance = DefaultStraightParams().MaxDistance
	}
	s := &Straight{params: params, direction: launch.Direction, speed: launch.Speed}
	s.pose = Pose{Position: launch.Origin, Heading: launch.Direction}
	return s
}

// Kind implements Policy.
func (s *Straight) Kind() Kind { return KindStraight }

// Step implements Policy.
func (s *Straight) Step(_ Env, dt float64) error {
	if s.IsTerminal() || dt <= 0 {
		return nil
	}
	s.phase = PhaseTraveling
	//1.- Advance along the fixed heading and terminate once the travel budget is spent.
	s.traveled += s.speed * dt
	s.moveTo(s.pose.Position.Add(s.direction.Scale(s.speed*dt)), dt)
	if s.traveled >= s.params.MaxDistance {
		s.Terminate()
	}
	return nil
}
