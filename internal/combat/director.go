package combat

import (
	"sort"
	"sync"
)

// Outcome describes the result of an elimination check.
type Outcome struct {
	Over   bool
	Winner Team
}

// Director watches every registered Target and declares the match over once a whole team is
// depleted. Each check is derived from scratch so targets may join or leave mid match.
type Director struct {
	mu      sync.Mutex
	targets map[string]*Target
	decided bool
	outcome Outcome
	nextID  uint64
	onOver  map[uint64]func(Outcome)
}

// NewDirector returns an empty director.
func NewDirector() *Director {
	return &Director{
		targets: make(map[string]*Target),
		onOver:  make(map[uint64]func(Outcome)),
	}
}

// Track registers a target under the owning actor identifier.
func (d *Director) Track(id string, target *Target) {
	if d == nil || id == "" || target == nil {
		return
	}
	d.mu.Lock()
	d.targets[id] = target
	d.mu.Unlock()
}

// Forget removes a target, typically on disconnect.
func (d *Director) Forget(id string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.targets, id)
	d.mu.Unlock()
}

// Tracked returns the registered actor identifiers in sorted order.
func (d *Director) Tracked() []string {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.targets))
	for id := range d.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate recomputes the elimination state without raising any signal.
func (d *Director) Evaluate() Outcome {
	if d == nil {
		return Outcome{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.evaluateLocked()
}

func (d *Director) evaluateLocked() Outcome {
	members := map[Team]int{}
	alive := map[Team]int{}
	for _, target := range d.targets {
		team := target.Team()
		if !team.Valid() {
			continue
		}
		members[team]++
		if target.Alive() {
			alive[team]++
		}
	}
	//1.- A team is eliminated only when it has members and none of them stand.
	aOut := members[TeamA] > 0 && alive[TeamA] == 0
	bOut := members[TeamB] > 0 && alive[TeamB] == 0
	switch {
	case aOut && bOut:
		return Outcome{Over: true, Winner: TeamNone}
	case aOut:
		return Outcome{Over: true, Winner: TeamB}
	case bOut:
		return Outcome{Over: true, Winner: TeamA}
	default:
		return Outcome{}
	}
}

// DamageResolved runs the elimination check after a damage event and raises match over the
// first time a team is wiped. It returns the outcome either way.
func (d *Director) DamageResolved() Outcome {
	if d == nil {
		return Outcome{}
	}
	d.mu.Lock()
	if d.decided {
		outcome := d.outcome
		d.mu.Unlock()
		return outcome
	}
	outcome := d.evaluateLocked()
	var listeners []func(Outcome)
	if outcome.Over {
		d.decided = true
		d.outcome = outcome
		for _, listener := range d.onOver {
			listeners = append(listeners, listener)
		}
	}
	d.mu.Unlock()
	for _, listener := range listeners {
		listener(outcome)
	}
	return outcome
}

// OnMatchOver registers a listener and returns its removal function.
func (d *Director) OnMatchOver(listener func(Outcome)) func() {
	if d == nil || listener == nil {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.onOver[id] = listener
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onOver, id)
		d.mu.Unlock()
	}
}

// Reset clears the decision so a restarted match can be judged again.
func (d *Director) Reset() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.decided = false
	d.outcome = Outcome{}
	d.mu.Unlock()
}
