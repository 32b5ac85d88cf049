package match

import (
	"time"

	"arenaclash/server/internal/simulation"
)

// DefaultHazardPause is the settle gap between the volume closing and the next quiet period.
const DefaultHazardPause = 100 * time.Millisecond

const countdownStep = time.Second

// HazardConfig parameterises the arena heal cycle.
type HazardConfig struct {
	Cooldown     time.Duration
	Countdown    int
	DropDuration time.Duration
	Pause        time.Duration
}

// HazardHooks receive the cycle notifications. Either hook may be nil.
type HazardHooks struct {
	OnCountdown func(value int)
	OnVolume    func(open bool)
}

// HazardCycle drives the heal volume: a quiet period, a one second countdown down to zero, then
// the volume opens for DropDuration and closes again before the next quiet period.
type HazardCycle struct {
	sched   *simulation.Scheduler
	cfg     HazardConfig
	hooks   HazardHooks
	task    *simulation.Task
	open    bool
	running bool
}

// NewHazardCycle binds the cycle to a scheduler. Negative values in cfg are clamped to zero.
func NewHazardCycle(sched *simulation.Scheduler, cfg HazardConfig, hooks HazardHooks) *HazardCycle {
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.Countdown < 0 {
		cfg.Countdown = 0
	}
	if cfg.DropDuration < 0 {
		cfg.DropDuration = 0
	}
	if cfg.Pause <= 0 {
		cfg.Pause = DefaultHazardPause
	}
	return &HazardCycle{sched: sched, cfg: cfg, hooks: hooks}
}

// Start arms the first quiet period. Starting a running cycle is a no-op.
func (h *HazardCycle) Start() {
	if h == nil || h.running {
		return
	}
	h.running = true
	h.task = h.sched.After(h.cfg.Cooldown, func() { h.countdown(h.cfg.Countdown) })
}

// Stop cancels the pending continuation and closes the volume when it is open.
func (h *HazardCycle) Stop() {
	if h == nil || !h.running {
		return
	}
	h.running = false
	h.task.Cancel()
	h.task = nil
	if h.open {
		h.setVolume(false)
	}
}

// Running reports whether the cycle is armed.
func (h *HazardCycle) Running() bool { return h != nil && h.running }

// Open reports whether the heal volume is currently active.
func (h *HazardCycle) Open() bool { return h != nil && h.open }

func (h *HazardCycle) countdown(value int) {
	//1.- Announce the current value, zero included.
	if h.hooks.OnCountdown != nil {
		h.hooks.OnCountdown(value)
	}
	if value > 0 {
		h.task = h.sched.After(countdownStep, func() { h.countdown(value - 1) })
		return
	}
	//2.- Zero opens the volume for the drop window.
	h.setVolume(true)
	h.task = h.sched.After(h.cfg.DropDuration, h.close)
}

func (h *HazardCycle) close() {
	h.setVolume(false)
	h.task = h.sched.After(h.cfg.Pause+h.cfg.Cooldown, func() { h.countdown(h.cfg.Countdown) })
}

func (h *HazardCycle) setVolume(open bool) {
	h.open = open
	if h.hooks.OnVolume != nil {
		h.hooks.OnVolume(open)
	}
}
