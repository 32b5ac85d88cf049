package motion

import "arenaclash/server/internal/physics"

// HomingParams configures the owner steered projectile.
type HomingParams struct {
	MaxDistance     float64 `json:"max_distance" yaml:"max_distance"`
	TurnSensitivity float64 `json:"turn_sensitivity" yaml:"turn_sensitivity"`
}

// DefaultHomingParams mirrors the baked Homing definition.
func DefaultHomingParams() HomingParams {
	return HomingParams{MaxDistance: 30, TurnSensitivity: 0.002}
}

// HomingNudge pulls the lateral heading component toward the aim point's lateral coordinate.
// Only the owning client evaluates it; the result travels to the authority as a steer request.
func HomingNudge(lateral, aimLateral, sensitivity float64) float64 {
	return lateral + (aimLateral-lateral)*sensitivity
}

// Homing flies along a heading whose lateral (X) component is replaced by authoritative steer
// updates. It terminates once its accumulated path reaches MaxDistance.
type Homing struct {
	base
	params    HomingParams
	direction physics.Vec3
	speed     float64
	traveled  float64
}

// NewHoming builds a homing trajectory.
func NewHoming(launch Launch, params HomingParams) *Homing {
	launch = launch.normalized()
	defaults := DefaultHomingParams()
	if params.MaxDistance <= 0 {
		params.MaxDistance = defaults.MaxDistance
	}
	if params.TurnSensitivity <= 0 {
		params.TurnSensitivity = defaults.TurnSensitivity
	}
	h := &Homing{params: params, direction: launch.Direction, speed: launch.Speed}
	h.pose = Pose{Position: launch.Origin, Heading: launch.Direction}
	return h
}

// Kind implements Policy.
func (h *Homing) Kind() Kind { return KindHoming }

// Lateral implements Steerable.
func (h *Homing) Lateral() float64 { return h.direction.X }

// Sensitivity implements Steerable.
func (h *Homing) Sensitivity() float64 { return h.params.TurnSensitivity }

// Steer implements Steerable.
func (h *Homing) Steer(lateral float64) {
	if h.IsTerminal() {
		return
	}
	steered := h.direction
	steered.X = lateral
	h.direction = steered.NormalizeOr(h.direction)
}

// Step implements Policy.
func (h *Homing) Step(_ Env, dt float64) error {
	if h.IsTerminal() || dt <= 0 {
		return nil
	}
	h.phase = PhaseTraveling
	h.traveled += h.speed * dt
	h.moveTo(h.pose.Position.Add(h.direction.Scale(h.speed*dt)), dt)
	if h.traveled >= h.params.MaxDistance {
		h.Terminate()
	}
	return nil
}
