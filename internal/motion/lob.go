package motion

import "arenaclash/server/internal/physics"

// LobParams configures the ground targeted mortar.
type LobParams struct {
	TravelSeconds   float64 `json:"travel_seconds" yaml:"travel_seconds"`
	ArcHeight       float64 `json:"arc_height" yaml:"arc_height"`
	ExplosionRadius float64 `json:"explosion_radius" yaml:"explosion_radius"`
	// SpeedCurve scales how fast normalised flight time advances. Nil advances linearly.
	SpeedCurve *physics.EaseInOut `json:"speed_curve,omitempty" yaml:"speed_curve,omitempty"`
	// HeightCurve replaces the default parabola with a custom height profile.
	HeightCurve physics.Curve `json:"-" yaml:"-"`
}

// minSpeedScale keeps a misconfigured speed curve from stalling a lob forever.
const minSpeedScale = 0.05

// DefaultLobParams mirrors the baked Mortar definition.
func DefaultLobParams() LobParams {
	return LobParams{
		TravelSeconds:   1,
		ArcHeight:       5,
		ExplosionRadius: 4,
		SpeedCurve:      &physics.EaseInOut{StartTime: 0, StartValue: 0.5, EndTime: 1, EndValue: 1.5},
	}
}

// Lob fixes its end point by raycasting the aim ray on the first step, then sweeps from the
// spawn point to the end point along a height curve. Damage is dealt by an area query once
// the lob is exploding, never by per-step overlap.
type Lob struct {
	base
	params   LobParams
	aim      physics.Ray
	start    physics.Vec3
	end      physics.Vec3
	elapsed  float64
	progress float64
	center   physics.Vec3
}

// NewLob builds a mortar trajectory.
func NewLob(launch Launch, params LobParams) *Lob {
	launch = launch.normalized()
	defaults := DefaultLobParams()
	if params.TravelSeconds <= 0 {
		params.TravelSeconds = defaults.TravelSeconds
	}
	if params.ExplosionRadius <= 0 {
		params.ExplosionRadius = defaults.ExplosionRadius
	}
	l := &Lob{params: params, aim: launch.Aim, start: launch.Origin}
	l.pose = Pose{Position: launch.Origin, Heading: launch.Direction}
	return l
}

// Kind implements Policy.
func (l *Lob) Kind() Kind { return KindArcingLob }

// End reports the fixed impact point. It is zero until the first step resolved the aim.
func (l *Lob) End() physics.Vec3 { return l.end }

// Step implements Policy.
func (l *Lob) Step(env Env, dt float64) error {
	if l.IsTerminal() || l.phase == PhaseExploding || dt <= 0 {
		return nil
	}
	if l.phase == PhaseSpawned {
		//1.- Resolve the impact point once; a miss ends the lob without an effect.
		if env == nil {
			l.Terminate()
			return ErrNoGround
		}
		end, ok := env.RaycastGround(l.aim)
		if !ok {
			l.Terminate()
			return ErrNoGround
		}
		l.end = end
		l.phase = PhaseTraveling
	}
	//2.- Advance normalised time through the speed curve, then place the shell on the arc.
	scale := 1.0
	if l.params.SpeedCurve != nil {
		scale = l.params.SpeedCurve.Evaluate(l.progress)
	}
	if scale < minSpeedScale {
		scale = minSpeedScale
	}
	l.elapsed += dt * scale
	l.progress = physics.Clamp01(l.elapsed / l.params.TravelSeconds)
	next := physics.Lerp(l.start, l.end, l.progress)
	next.Y += l.height(l.progress)
	l.moveTo(next, dt)
	if l.progress >= 1 {
		//3.- Land exactly on the impact point and wait for the authority to resolve the blast.
		l.pose.Position = l.end
		l.center = l.end
		l.phase = PhaseExploding
	}
	return nil
}

func (l *Lob) height(t float64) float64 {
	if l.params.HeightCurve != nil {
		return l.params.ArcHeight * l.params.HeightCurve.Evaluate(t)
	}
	return physics.Parabola(l.params.ArcHeight, t)
}

// PendingBlast implements Blaster.
func (l *Lob) PendingBlast() (physics.Vec3, float64, bool) {
	if l.phase != PhaseExploding {
		return physics.Vec3{}, 0, false
	}
	return l.center, l.params.ExplosionRadius, true
}

// Detonate implements Blaster. A lob that already landed or ended is left untouched.
func (l *Lob) Detonate() {
	if l.phase == PhaseExploding || l.IsTerminal() {
		return
	}
	l.center = l.pose.Position
	l.velocity = physics.Vec3{}
	l.phase = PhaseExploding
}

// Resolve implements Blaster.
func (l *Lob) Resolve() { l.Terminate() }
