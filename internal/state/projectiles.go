package state

import (
	"sort"
	"sync"

	"arenaclash/server/internal/physics"
)

// ProjectileState is the replicated view of a projectile entity.
type ProjectileState struct {
	ID        string       `json:"id" msgpack:"id"`
	Variant   string       `json:"variant" msgpack:"variant"`
	Owner     string       `json:"owner" msgpack:"owner"`
	Team      string       `json:"team" msgpack:"team"`
	Position  physics.Vec3 `json:"position" msgpack:"position"`
	Velocity  physics.Vec3 `json:"velocity" msgpack:"velocity"`
	Heading   physics.Vec3 `json:"heading" msgpack:"heading"`
	Spin      float64      `json:"spin,omitempty" msgpack:"spin,omitempty"`
	Wobble    float64      `json:"wobble,omitempty" msgpack:"wobble,omitempty"`
	Phase     string       `json:"phase" msgpack:"phase"`
	Cosmetic  bool         `json:"cosmetic,omitempty" msgpack:"cosmetic,omitempty"`
	UpdatedAt int64        `json:"updated_at_ms" msgpack:"updated_at_ms"`
}

// ProjectileDiff aggregates updates and removals for projectiles.
type ProjectileDiff struct {
	Updated []*ProjectileState `json:"updated,omitempty" msgpack:"updated,omitempty"`
	Removed []string           `json:"removed,omitempty" msgpack:"removed,omitempty"`
}

// ProjectileStore maintains projectile states with dirty tracking.
type ProjectileStore struct {
	mu      sync.RWMutex
	states  map[string]*ProjectileState
	dirty   map[string]struct{}
	removed map[string]struct{}
}

// NewProjectileStore constructs a projectile container with initialized maps.
func NewProjectileStore() *ProjectileStore {
	return &ProjectileStore{
		states:  make(map[string]*ProjectileState),
		dirty:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}
}

// Upsert records or updates a projectile state and schedules it for the next diff.
func (s *ProjectileStore) Upsert(state *ProjectileState) {
	if s == nil || state == nil || state.ID == "" {
		return
	}

	clone := *state

	s.mu.Lock()
	//1.- Store the cloned projectile and mark it dirty while clearing removal markers.
	s.states[clone.ID] = &clone
	delete(s.removed, clone.ID)
	s.dirty[clone.ID] = struct{}{}
	s.mu.Unlock()
}

// Get returns a copy of the stored projectile.
func (s *ProjectileStore) Get(projectileID string) (ProjectileState, bool) {
	if s == nil {
		return ProjectileState{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[projectileID]
	if !ok {
		return ProjectileState{}, false
	}
	return *state, true
}

// Remove deletes a projectile and queues its ID for removal broadcasting.
func (s *ProjectileStore) Remove(projectileID string) {
	if s == nil || projectileID == "" {
		return
	}

	s.mu.Lock()
	//1.- Remove any stored projectile, clear dirty flag, and track the removal.
	delete(s.states, projectileID)
	delete(s.dirty, projectileID)
	s.removed[projectileID] = struct{}{}
	s.mu.Unlock()
}

// Advance extrapolates mirrored projectiles along their last known velocity. Observers use it
// between authoritative updates; the authority moves projectiles through their motion policy.
func (s *ProjectileStore) Advance(stepSeconds float64) {
	if s == nil || stepSeconds <= 0 {
		return
	}

	s.mu.Lock()
	for id, projectile := range s.states {
		if projectile == nil || projectile.Velocity.IsZero() {
			continue
		}
		projectile.Position = projectile.Position.Add(projectile.Velocity.Scale(stepSeconds))
		s.dirty[id] = struct{}{}
	}
	s.mu.Unlock()
}

// Len reports how many projectiles are tracked.
func (s *ProjectileStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// ConsumeDiff retrieves and clears pending projectile updates.
func (s *ProjectileStore) ConsumeDiff() ProjectileDiff {
	if s == nil {
		return ProjectileDiff{}
	}

	s.mu.Lock()
	//1.- Capture dirty IDs and removals before resetting trackers.
	dirtyIDs := sortedKeys(s.dirty)
	removedIDs := sortedKeys(s.removed)

	s.dirty = make(map[string]struct{})
	s.removed = make(map[string]struct{})

	//2.- Clone the projectile states referenced by the dirty identifiers.
	updated := make([]*ProjectileState, 0, len(dirtyIDs))
	for _, id := range dirtyIDs {
		projectile, ok := s.states[id]
		if !ok || projectile == nil {
			continue
		}
		clone := *projectile
		updated = append(updated, &clone)
	}
	s.mu.Unlock()

	return ProjectileDiff{Updated: updated, Removed: removedIDs}
}

// Snapshot clones and returns every projectile state currently tracked.
func (s *ProjectileStore) Snapshot() []*ProjectileState {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	snapshot := make([]*ProjectileState, 0, len(s.states))
	for _, id := range sortedKeys(s.states) {
		clone := *s.states[id]
		snapshot = append(snapshot, &clone)
	}
	s.mu.RUnlock()
	return snapshot
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
