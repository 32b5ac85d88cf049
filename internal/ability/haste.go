package ability

import "arenaclash/server/internal/state"

// HasteParams configures SpeedBoost.
type HasteParams struct {
	DurationSeconds float64 `json:"duration_seconds" yaml:"duration_seconds"`
	Multiplier      float64 `json:"multiplier" yaml:"multiplier"`
}

// DefaultHasteParams mirrors the baked SpeedBoost definition.
func DefaultHasteParams() HasteParams { return HasteParams{DurationSeconds: 5, Multiplier: 2.5} }

// Haste multiplies the caster's movement speed for a fixed duration. The baseline is captured
// when a boost cycle starts and restored when it ends, so overlapping casts never compound.
type Haste struct {
	params   HasteParams
	window   window
	active   bool
	baseline float64
}

// NewHaste builds a SpeedBoost effect.
func NewHaste(params HasteParams) *Haste {
	defaults := DefaultHasteParams()
	if params.DurationSeconds <= 0 {
		params.DurationSeconds = defaults.DurationSeconds
	}
	if params.Multiplier <= 0 {
		params.Multiplier = defaults.Multiplier
	}
	return &Haste{params: params}
}

// Kind implements Effect.
func (h *Haste) Kind() Kind { return KindHaste }

// Active implements Effect.
func (h *Haste) Active() bool { return h.active }

// Activate implements Effect.
func (h *Haste) Activate(host Host, caster state.Handle, _ Activation) error {
	speed, ok := host.Speed(caster)
	if !ok {
		return ErrCasterGone
	}
	if !h.active {
		h.baseline = speed
	}
	h.active = true
	host.SetSpeed(caster, h.baseline*h.params.Multiplier)
	h.window.open(host, seconds(h.params.DurationSeconds), func() {
		h.window.task = nil
		h.restore(host, caster)
	})
	return nil
}

// Deactivate implements Effect.
func (h *Haste) Deactivate(host Host, caster state.Handle) {
	h.window.close()
	h.restore(host, caster)
}

func (h *Haste) restore(host Host, caster state.Handle) {
	if !h.active {
		return
	}
	h.active = false
	host.SetSpeed(caster, h.baseline)
}
