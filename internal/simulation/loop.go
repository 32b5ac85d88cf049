package simulation

import (
	"context"
	"time"
)

// StepFunc advances the simulation by one fixed timestep. Tick counts from 1.
type StepFunc func(tick uint64, step time.Duration)

// LoopOption customises a Loop at construction time.
type LoopOption func(*Loop)

// WithTickMonitor records the wall time spent inside every step.
func WithTickMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) {
		l.monitor = monitor
	}
}

// WithMaxCatchUp bounds how many fixed steps a single wakeup may run after a stall.
func WithMaxCatchUp(steps int) LoopOption {
	return func(l *Loop) {
		if steps > 0 {
			l.maxCatchUp = steps
		}
	}
}

// Loop drives a fixed timestep simulation at the configured target frequency.
type Loop struct {
	step       time.Duration
	stepFunc   StepFunc
	monitor    *TickMonitor
	maxCatchUp int
	tick       uint64
	ticker     *time.Ticker
	done       chan struct{}
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, step StepFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 30
	}
	if step == nil {
		step = func(uint64, time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 30
	}
	loop := &Loop{
		step:       interval,
		stepFunc:   step,
		maxCatchUp: 5,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(loop)
		}
	}
	loop.monitor.SetBudget(interval)
	return loop
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}

	l.ticker = time.NewTicker(l.step)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		defer l.ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-l.ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				steps := 0
				for accumulator >= l.step && steps < l.maxCatchUp {
					l.runStep()
					accumulator -= l.step
					steps++
				}
				//2.- Drop the backlog after a long stall instead of fast forwarding the match.
				if accumulator >= l.step {
					accumulator = 0
				}
			}
		}
	}()
}

func (l *Loop) runStep() {
	l.tick++
	started := time.Now()
	l.stepFunc(l.tick, l.step)
	l.monitor.Observe(time.Since(started))
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	if l.ticker != nil {
		l.ticker.Stop()
	}
	if l.done != nil {
		<-l.done
		l.done = nil
	}
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
