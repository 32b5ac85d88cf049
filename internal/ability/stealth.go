package ability

import "arenaclash/server/internal/state"

// StealthParams configures Invisibility.
type StealthParams struct {
	DurationSeconds float64 `json:"duration_seconds" yaml:"duration_seconds"`
	AllyAlpha       float64 `json:"ally_alpha" yaml:"ally_alpha"`
	EnemyAlpha      float64 `json:"enemy_alpha" yaml:"enemy_alpha"`
}

// DefaultStealthParams mirrors the baked Invisibility definition.
func DefaultStealthParams() StealthParams {
	return StealthParams{DurationSeconds: 5, AllyAlpha: 0.3, EnemyAlpha: 0}
}

// Stealth fades the caster for a fixed duration. Casting again while faded restarts the
// duration instead of stacking.
type Stealth struct {
	params StealthParams
	window window
	active bool
}

// NewStealth builds an Invisibility effect.
func NewStealth(params StealthParams) *Stealth {
	if params.DurationSeconds <= 0 {
		params.DurationSeconds = DefaultStealthParams().DurationSeconds
	}
	return &Stealth{params: params}
}

// Kind implements Effect.
func (s *Stealth) Kind() Kind { return KindStealth }

// Active implements Effect.
func (s *Stealth) Active() bool { return s.active }

// Activate implements Effect.
func (s *Stealth) Activate(host Host, caster state.Handle, activation Activation) error {
	if _, ok := host.Position(caster); !ok {
		return ErrCasterGone
	}
	host.SetVisibility(caster, Visibility{Team: activation.Team, Ally: s.params.AllyAlpha, Enemy: s.params.EnemyAlpha})
	s.active = true
	s.window.open(host, seconds(s.params.DurationSeconds), func() {
		s.window.task = nil
		s.Deactivate(host, caster)
	})
	return nil
}

// Deactivate implements Effect.
func (s *Stealth) Deactivate(host Host, caster state.Handle) {
	s.window.close()
	if !s.active {
		return
	}
	s.active = false
	host.SetVisibility(caster, Opaque)
}
