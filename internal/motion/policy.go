// Package motion holds the per variant projectile trajectories. Every variant is driven through
// the Policy interface and configured by its own parameter struct.
package motion

import (
	"errors"

	"arenaclash/server/internal/physics"
)

// Kind enumerates the projectile motion variants.
type Kind uint8

const (
	KindStraight Kind = iota + 1
	KindBoomerang
	KindArcingLob
	KindHoming
	KindCurvedSwing
)

func (k Kind) String() string {
	switch k {
	case KindStraight:
		return "straight"
	case KindBoomerang:
		return "boomerang"
	case KindArcingLob:
		return "arcing_lob"
	case KindHoming:
		return "homing"
	case KindCurvedSwing:
		return "curved_swing"
	default:
		return "unknown"
	}
}

// Phase is the lifecycle state of a trajectory.
type Phase uint8

const (
	PhaseSpawned Phase = iota
	PhaseTraveling
	PhaseReturning
	PhaseExploding
	PhaseArriving
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseSpawned:
		return "spawned"
	case PhaseTraveling:
		return "traveling"
	case PhaseReturning:
		return "returning"
	case PhaseExploding:
		return "exploding"
	case PhaseArriving:
		return "arriving"
	default:
		return "terminated"
	}
}

// ErrNoGround is returned on the first step of a ground targeted variant whose aim ray never
// reaches the arena floor. The policy has already terminated itself when it is returned.
var ErrNoGround = errors.New("aim ray does not reach the ground")

// DefaultSpeed is used when a variant is configured without a positive speed.
const DefaultSpeed = 20.0

// Pose is the presentation state of a projectile after a step.
type Pose struct {
	Position physics.Vec3 `json:"position" msgpack:"position"`
	Heading  physics.Vec3 `json:"heading" msgpack:"heading"`
	// Spin and Wobble are cosmetic rotations in degrees and never affect collision.
	Spin   float64 `json:"spin,omitempty" msgpack:"spin,omitempty"`
	Wobble float64 `json:"wobble,omitempty" msgpack:"wobble,omitempty"`
}

// Launch carries what every variant needs at spawn.
type Launch struct {
	Origin    physics.Vec3
	Direction physics.Vec3
	Aim       physics.Ray
	Speed     float64
}

func (l Launch) normalized() Launch {
	l.Direction = l.Direction.NormalizeOr(physics.Forward)
	if l.Speed <= 0 {
		l.Speed = DefaultSpeed
	}
	return l
}

// Env is the world a trajectory may query while stepping.
type Env interface {
	// RaycastGround resolves an aim ray against the arena floor.
	RaycastGround(ray physics.Ray) (physics.Vec3, bool)
	// ShooterPosition looks the shooter up by handle. It fails soft once the shooter is gone.
	ShooterPosition() (physics.Vec3, bool)
}

// Policy advances one projectile trajectory.
type Policy interface {
	Kind() Kind
	Phase() Phase
	Pose() Pose
	// Velocity is the displacement per second produced by the last step.
	Velocity() physics.Vec3
	// Step advances the trajectory by dt seconds.
	Step(env Env, dt float64) error
	IsTerminal() bool
	// Terminate ends the trajectory immediately.
	Terminate()
	// Returning reports whether the projectile is on its way back to the shooter.
	Returning() bool
	// PierceOnHit reports whether an enemy hit leaves the projectile flying.
	PierceOnHit() bool
}

// Blaster is implemented by trajectories that deal damage by an area query on arrival.
type Blaster interface {
	// PendingBlast reports the blast centre and radius once the trajectory is exploding.
	PendingBlast() (center physics.Vec3, radius float64, ok bool)
	// Detonate forces an early explosion at the current position.
	Detonate()
	// Resolve marks the blast as applied and terminates the trajectory.
	Resolve()
}

// Steerable is implemented by trajectories whose heading is corrected by the owning client.
type Steerable interface {
	// Lateral returns the current sideways component of the heading.
	Lateral() float64
	// Steer replaces the sideways component of the heading.
	Steer(lateral float64)
	// Sensitivity is how strongly each owner correction pulls toward the aim point.
	Sensitivity() float64
}

// base carries the state every variant shares.
type base struct {
	phase    Phase
	pose     Pose
	velocity physics.Vec3
}

func (b *base) Phase() Phase           { return b.phase }
func (b *base) Pose() Pose             { return b.pose }
func (b *base) Velocity() physics.Vec3 { return b.velocity }
func (b *base) IsTerminal() bool       { return b.phase == PhaseTerminated }
func (b *base) Terminate()             { b.phase = PhaseTerminated; b.velocity = physics.Vec3{} }
func (b *base) Returning() bool        { return b.phase == PhaseReturning }
func (b *base) PierceOnHit() bool      { return false }

func (b *base) moveTo(next physics.Vec3, dt float64) {
	if dt > 0 {
		b.velocity = next.Sub(b.pose.Position).Scale(1 / dt)
	}
	if heading, ok := next.Sub(b.pose.Position).Normalize(); ok {
		b.pose.Heading = heading
	}
	b.pose.Position = next
}

// ErrUnknownKind is returned when a policy is requested for a kind outside the catalog.
var ErrUnknownKind = errors.New("unknown motion kind")

// Params bundles the per variant parameter structs. Only the one matching the kind is read.
type Params struct {
	Straight  StraightParams
	Boomerang BoomerangParams
	Lob       LobParams
	Homing    HomingParams
	Swing     SwingParams
}

// New builds the trajectory for kind.
func New(kind Kind, launch Launch, params Params) (Policy, error) {
	switch kind {
	case KindStraight:
		return NewStraight(launch, params.Straight), nil
	case KindBoomerang:
		return NewBoomerang(launch, params.Boomerang), nil
	case KindArcingLob:
		return NewLob(launch, params.Lob), nil
	case KindHoming:
		return NewHoming(launch, params.Homing), nil
	case KindCurvedSwing:
		return NewSwing(launch, params.Swing), nil
	default:
		return nil, ErrUnknownKind
	}
}

// ParseKind maps a wire name onto a Kind.
func ParseKind(raw string) (Kind, bool) {
	for _, kind := range []Kind{KindStraight, KindBoomerang, KindArcingLob, KindHoming, KindCurvedSwing} {
		if kind.String() == raw {
			return kind, true
		}
	}
	return 0, false
}
