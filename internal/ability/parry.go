package ability

import "arenaclash/server/internal/state"

// ParryParams configures Deflect-Parry.
type ParryParams struct {
	DurationSeconds float64 `json:"duration_seconds" yaml:"duration_seconds"`
}

// DefaultParryParams mirrors the baked Parry definition.
func DefaultParryParams() ParryParams { return ParryParams{DurationSeconds: 0.5} }

// Parry swaps the caster's hit collider for a parry collider during a short window. The
// authority consumes the window when it deflects a projectile.
type Parry struct {
	params ParryParams
	window window
	active bool
}

// NewParry builds a Deflect-Parry effect.
func NewParry(params ParryParams) *Parry {
	if params.DurationSeconds <= 0 {
		params.DurationSeconds = DefaultParryParams().DurationSeconds
	}
	return &Parry{params: params}
}

// Kind implements Effect.
func (p *Parry) Kind() Kind { return KindParry }

// Active implements Effect.
func (p *Parry) Active() bool { return p.active }

// Activate implements Effect.
func (p *Parry) Activate(host Host, caster state.Handle, _ Activation) error {
	if _, ok := host.Position(caster); !ok {
		return ErrCasterGone
	}
	host.SetParry(caster, true)
	p.active = true
	p.window.open(host, seconds(p.params.DurationSeconds), func() {
		p.window.task = nil
		p.end(host, caster)
	})
	return nil
}

// Consume closes the window after a successful deflect.
func (p *Parry) Consume(host Host, caster state.Handle) { p.Deactivate(host, caster) }

// Deactivate implements Effect.
func (p *Parry) Deactivate(host Host, caster state.Handle) {
	p.window.close()
	p.end(host, caster)
}

func (p *Parry) end(host Host, caster state.Handle) {
	if !p.active {
		return
	}
	p.active = false
	host.SetParry(caster, false)
}
