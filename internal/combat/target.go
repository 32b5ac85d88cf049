package combat

import (
	"errors"
	"sync"
)

// DefaultMaxHealth is the health pool of a freshly spawned player.
const DefaultMaxHealth = 100

// ErrNotAuthority is returned when a replica tries to author a health change.
var ErrNotAuthority = errors.New("health may only be changed by the authority")

// HealthListener receives the new health value after every change.
type HealthListener func(current, max int)

// Target is a damageable actor. It holds no team logic: callers decide who may hurt whom.
type Target struct {
	mu        sync.Mutex
	current   int
	max       int
	team      Team
	authority bool
	depleted  bool

	nextID     uint64
	onHealth   map[uint64]HealthListener
	onDepleted map[uint64]func()
}

// NewTarget creates an authoritative target at full health.
func NewTarget(team Team, maxHealth int) *Target {
	return newTarget(team, maxHealth, true)
}

// NewReplicaTarget creates an observer side target that only mirrors broadcast health.
func NewReplicaTarget(team Team, maxHealth int) *Target {
	return newTarget(team, maxHealth, false)
}

func newTarget(team Team, maxHealth int, authority bool) *Target {
	if maxHealth <= 0 {
		maxHealth = DefaultMaxHealth
	}
	return &Target{
		current:    maxHealth,
		max:        maxHealth,
		team:       team,
		authority:  authority,
		onHealth:   make(map[uint64]HealthListener),
		onDepleted: make(map[uint64]func()),
	}
}

// Team returns the team the target was spawned on.
func (t *Target) Team() Team {
	if t == nil {
		return TeamNone
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.team
}

// SetTeam reassigns the target, used when teams are reshuffled between matches.
func (t *Target) SetTeam(team Team) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.team = team
	t.mu.Unlock()
}

// Health returns the current and maximum health.
func (t *Target) Health() (current, max int) {
	if t == nil {
		return 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.max
}

// Depleted reports whether health reached zero during this life.
func (t *Target) Depleted() bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.depleted
}

// Alive is the negation of Depleted.
func (t *Target) Alive() bool { return !t.Depleted() }

// ApplyDamage subtracts amount, flooring at zero, and returns the health actually removed.
// The depleted signal fires the first time zero is reached in a life.
func (t *Target) ApplyDamage(amount int) (int, error) {
	if t == nil {
		return 0, nil
	}
	if amount <= 0 {
		return 0, nil
	}
	t.mu.Lock()
	if !t.authority {
		t.mu.Unlock()
		return 0, ErrNotAuthority
	}
	before := t.current
	t.current -= amount
	if t.current < 0 {
		t.current = 0
	}
	applied := before - t.current
	//1.- Latch depletion so later hits on a dead target never fire the signal again.
	fireDepleted := t.current == 0 && !t.depleted
	if fireDepleted {
		t.depleted = true
	}
	t.mu.Unlock()

	if applied > 0 {
		t.notifyHealth()
	}
	if fireDepleted {
		t.notifyDepleted()
	}
	return applied, nil
}

// Heal restores health up to max. Depleted targets stay down until Respawn.
func (t *Target) Heal(amount int) (int, error) {
	if t == nil || amount <= 0 {
		return 0, nil
	}
	t.mu.Lock()
	if !t.authority {
		t.mu.Unlock()
		return 0, ErrNotAuthority
	}
	if t.depleted {
		t.mu.Unlock()
		return 0, nil
	}
	before := t.current
	t.current += amount
	if t.current > t.max {
		t.current = t.max
	}
	healed := t.current - before
	t.mu.Unlock()
	if healed > 0 {
		t.notifyHealth()
	}
	return healed, nil
}

// Respawn starts a new life at full health.
func (t *Target) Respawn() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.current = t.max
	t.depleted = false
	t.mu.Unlock()
	t.notifyHealth()
}

// SetReplicated mirrors a broadcast health value on an observer. Authority targets ignore it.
func (t *Target) SetReplicated(current int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.authority {
		t.mu.Unlock()
		return
	}
	if current < 0 {
		current = 0
	}
	if current > t.max {
		current = t.max
	}
	changed := current != t.current
	t.current = current
	fireDepleted := current == 0 && !t.depleted
	if fireDepleted {
		t.depleted = true
	}
	if current > 0 {
		t.depleted = false
	}
	t.mu.Unlock()
	if changed {
		t.notifyHealth()
	}
	if fireDepleted {
		t.notifyDepleted()
	}
}

// OnHealthChanged registers a listener and returns its removal function.
func (t *Target) OnHealthChanged(listener HealthListener) func() {
	if t == nil || listener == nil {
		return func() {}
	}
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.onHealth[id] = listener
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.onHealth, id)
		t.mu.Unlock()
	}
}

// OnDepleted registers a listener and returns its removal function.
func (t *Target) OnDepleted(listener func()) func() {
	if t == nil || listener == nil {
		return func() {}
	}
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.onDepleted[id] = listener
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.onDepleted, id)
		t.mu.Unlock()
	}
}

func (t *Target) notifyHealth() {
	t.mu.Lock()
	current, max := t.current, t.max
	listeners := make([]HealthListener, 0, len(t.onHealth))
	for _, listener := range t.onHealth {
		listeners = append(listeners, listener)
	}
	t.mu.Unlock()
	for _, listener := range listeners {
		listener(current, max)
	}
}

func (t *Target) notifyDepleted() {
	t.mu.Lock()
	listeners := make([]func(), 0, len(t.onDepleted))
	for _, listener := range t.onDepleted {
		listeners = append(listeners, listener)
	}
	t.mu.Unlock()
	for _, listener := range listeners {
		listener()
	}
}
