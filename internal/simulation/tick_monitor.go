package simulation

import (
	"sort"
	"sync"
	"time"
)

// StepPhase names one stage of an authority step.
type StepPhase string

const (
	PhaseRequests      StepPhase = "requests"
	PhaseContinuations StepPhase = "continuations"
	PhaseActors        StepPhase = "actors"
	PhaseProjectiles   StepPhase = "projectiles"
	PhaseHeal          StepPhase = "heal"
	PhaseReplication   StepPhase = "replication"
)

// PhaseStats aggregates the wall time of one step phase.
type PhaseStats struct {
	Samples int
	Total   time.Duration
	Max     time.Duration
}

// Average is the mean time per sample.
func (p PhaseStats) Average() time.Duration {
	if p.Samples == 0 {
		return 0
	}
	return p.Total / time.Duration(p.Samples)
}

func (p *PhaseStats) add(d time.Duration) {
	p.Samples++
	p.Total += d
	if d > p.Max {
		p.Max = d
	}
}

// TickMetricsSnapshot summarises observed step durations, whole and per phase.
type TickMetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
	// Budget is the fixed step length; steps slower than it are Overruns.
	Budget   time.Duration
	Overruns int
	Phases   map[StepPhase]PhaseStats
}

// AverageFPS derives the steps per second the authority could sustain at the average cost.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// PhaseNames lists the observed phases in a stable order.
func (s TickMetricsSnapshot) PhaseNames() []StepPhase {
	names := make([]StepPhase, 0, len(s.Phases))
	for phase := range s.Phases {
		names = append(names, phase)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// TickMonitor profiles the authority step. The loop reports whole steps through Observe and
// the world reports its stages through Time.
type TickMonitor struct {
	mu       sync.Mutex
	budget   time.Duration
	steps    PhaseStats
	last     time.Duration
	overruns int
	phases   map[StepPhase]*PhaseStats
}

// NewTickMonitor returns an empty monitor without a budget.
func NewTickMonitor() *TickMonitor {
	return &TickMonitor{phases: make(map[StepPhase]*PhaseStats)}
}

// SetBudget sets the step length that counts as an overrun when exceeded.
func (m *TickMonitor) SetBudget(budget time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.budget = budget
	m.mu.Unlock()
}

// Observe records a completed step. Zero durations fall under the clock resolution and are skipped.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	m.steps.add(duration)
	m.last = duration
	if m.budget > 0 && duration > m.budget {
		m.overruns++
	}
	m.mu.Unlock()
}

// ObservePhase records the time one phase took inside a step.
func (m *TickMonitor) ObservePhase(phase StepPhase, duration time.Duration) {
	if m == nil || duration < 0 {
		return
	}
	m.mu.Lock()
	stats, ok := m.phases[phase]
	if !ok {
		stats = &PhaseStats{}
		m.phases[phase] = stats
	}
	stats.add(duration)
	m.mu.Unlock()
}

// Time starts timing phase and returns the function that stops it.
func (m *TickMonitor) Time(phase StepPhase) (stop func()) {
	if m == nil {
		return func() {}
	}
	started := time.Now()
	return func() { m.ObservePhase(phase, time.Since(started)) }
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	phases := make(map[StepPhase]PhaseStats, len(m.phases))
	for phase, stats := range m.phases {
		phases[phase] = *stats
	}
	return TickMetricsSnapshot{
		Samples:  m.steps.Samples,
		Average:  m.steps.Average(),
		Max:      m.steps.Max,
		Last:     m.last,
		Budget:   m.budget,
		Overruns: m.overruns,
		Phases:   phases,
	}
}

// Reset clears the statistics when a match restarts. The budget is kept.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.steps = PhaseStats{}
	m.last = 0
	m.overruns = 0
	m.phases = make(map[StepPhase]*PhaseStats)
	m.mu.Unlock()
}
