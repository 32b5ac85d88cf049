package motion

import "arenaclash/server/internal/physics"

// BoomerangParams configures the out-and-back projectile.
type BoomerangParams struct {
	MaxDistance       float64 `json:"max_distance" yaml:"max_distance"`
	ReturnMaxDistance float64 `json:"return_max_distance" yaml:"return_max_distance"`
	// CooldownRefundSeconds is credited to the shooter when a teammate catches the return leg.
	CooldownRefundSeconds float64 `json:"cooldown_refund_seconds" yaml:"cooldown_refund_seconds"`
}

// DefaultBoomerangParams mirrors the baked Boomerang definition.
func DefaultBoomerangParams() BoomerangParams {
	return BoomerangParams{MaxDistance: 30, ReturnMaxDistance: 30, CooldownRefundSeconds: 2}
}

// Boomerang flies out to MaxDistance, then heads back toward where the shooter stood at the
// turn. The return heading is sampled once and never tracks the shooter afterwards.
type Boomerang struct {
	base
	params    BoomerangParams
	direction physics.Vec3
	speed     float64
	outbound  float64
	inbound   float64
}

// NewBoomerang builds a boomerang trajectory.
func NewBoomerang(launch Launch, params BoomerangParams) *Boomerang {
	launch = launch.normalized()
	defaults := DefaultBoomerangParams()
	if params.MaxDistance <= 0 {
		params.MaxDistance = defaults.MaxDistance
	}
	if params.ReturnMaxDistance <= 0 {
		params.ReturnMaxDistance = defaults.ReturnMaxDistance
	}
	b := &Boomerang{params: params, direction: launch.Direction, speed: launch.Speed}
	b.pose = Pose{Position: launch.Origin, Heading: launch.Direction}
	return b
}

// Kind implements Policy.
func (b *Boomerang) Kind() Kind { return KindBoomerang }

// Params exposes the configuration, used for the catch refund.
func (b *Boomerang) Params() BoomerangParams { return b.params }

// PierceOnHit keeps the outbound leg flying after an enemy hit.
func (b *Boomerang) PierceOnHit() bool { return b.phase != PhaseReturning }

// Step implements Policy.
func (b *Boomerang) Step(env Env, dt float64) error {
	if b.IsTerminal() || dt <= 0 {
		return nil
	}
	if b.phase == PhaseSpawned {
		b.phase = PhaseTraveling
	}
	distance := b.speed * dt
	b.moveTo(b.pose.Position.Add(b.direction.Scale(distance)), dt)
	switch b.phase {
	case PhaseTraveling:
		b.outbound += distance
		if b.outbound >= b.params.MaxDistance {
			b.turn(env)
		}
	case PhaseReturning:
		b.inbound += distance
		if b.inbound >= b.params.ReturnMaxDistance {
			b.Terminate()
		}
	}
	return nil
}

func (b *Boomerang) turn(env Env) {
	b.phase = PhaseReturning
	//1.- Aim back at the shooter as seen right now, or reverse when the shooter is gone.
	reverse := b.direction.Scale(-1)
	if env != nil {
		if home, ok := env.ShooterPosition(); ok {
			home.Y = b.pose.Position.Y
			b.direction = home.Sub(b.pose.Position).NormalizeOr(reverse)
			return
		}
	}
	b.direction = reverse
}
