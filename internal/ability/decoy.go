package ability

import "arenaclash/server/internal/state"

// Decoy fires a cosmetic copy of the caster's selected projectile. The copy has no collider
// and never touches the caster's real projectile cooldown.
type Decoy struct{}

// NewDecoy builds a Decoy-Shot effect.
func NewDecoy() *Decoy { return &Decoy{} }

// Kind implements Effect.
func (d *Decoy) Kind() Kind { return KindDecoy }

// Active implements Effect.
func (d *Decoy) Active() bool { return false }

// Deactivate implements Effect.
func (d *Decoy) Deactivate(Host, state.Handle) {}

// Activate implements Effect.
func (d *Decoy) Activate(host Host, caster state.Handle, activation Activation) error {
	if _, ok := host.Position(caster); !ok {
		return ErrCasterGone
	}
	return host.SpawnDecoy(caster, activation.Aim)
}
