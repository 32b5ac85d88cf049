package ability

import (
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/state"
)

// TeleportParams configures Blink.
type TeleportParams struct {
	Radius float64 `json:"radius" yaml:"radius"`
	// SearchStep is how much the nav search radius shrinks on every retry.
	SearchStep float64 `json:"search_step" yaml:"search_step"`
}

// DefaultTeleportParams mirrors the baked Blink definition.
func DefaultTeleportParams() TeleportParams { return TeleportParams{Radius: 10, SearchStep: 0.5} }

// Teleport relocates the caster to the walkable point nearest the aim, never further than
// Radius away.
type Teleport struct {
	params TeleportParams
}

// NewTeleport builds a Blink effect.
func NewTeleport(params TeleportParams) *Teleport {
	defaults := DefaultTeleportParams()
	if params.Radius <= 0 {
		params.Radius = defaults.Radius
	}
	if params.SearchStep <= 0 {
		params.SearchStep = defaults.SearchStep
	}
	return &Teleport{params: params}
}

// Kind implements Effect.
func (t *Teleport) Kind() Kind { return KindTeleport }

// Active implements Effect. Teleport is instantaneous.
func (t *Teleport) Active() bool { return false }

// Deactivate implements Effect.
func (t *Teleport) Deactivate(Host, state.Handle) {}

// Activate implements Effect.
func (t *Teleport) Activate(host Host, caster state.Handle, activation Activation) error {
	origin, ok := host.Position(caster)
	if !ok {
		return ErrCasterGone
	}
	aimed, ok := host.RaycastGround(activation.Aim)
	if !ok {
		return ErrNoGround
	}
	destination, err := t.Resolve(host, origin, aimed)
	if err != nil {
		return err
	}
	host.Teleport(caster, destination)
	return nil
}

// Resolve clamps the aimed point to the blink radius and snaps it to the nav mesh, retrying
// with a shrinking search radius before giving up.
func (t *Teleport) Resolve(host Host, origin, aimed physics.Vec3) (physics.Vec3, error) {
	//1.- Pull destinations beyond the radius back onto its boundary.
	clamped := origin.Add(aimed.Sub(origin).ClampLength(t.params.Radius))
	//2.- Search the full radius first, then keep narrowing the search.
	if point, ok := host.SampleNav(clamped, t.params.Radius); ok {
		return point, nil
	}
	for radius := t.params.Radius - t.params.SearchStep; radius > t.params.SearchStep; radius -= t.params.SearchStep {
		if point, ok := host.SampleNav(clamped, radius); ok {
			return point, nil
		}
	}
	return physics.Vec3{}, ErrNoNavPoint
}
