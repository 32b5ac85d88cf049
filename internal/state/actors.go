package state

import (
	"sync"

	"arenaclash/server/internal/physics"
)

// ActorState is the replicated view of a player or bot.
type ActorState struct {
	ID         string       `json:"id" msgpack:"id"`
	Name       string       `json:"name" msgpack:"name"`
	Team       string       `json:"team" msgpack:"team"`
	Bot        bool         `json:"bot,omitempty" msgpack:"bot,omitempty"`
	Position   physics.Vec3 `json:"position" msgpack:"position"`
	Facing     physics.Vec3 `json:"facing" msgpack:"facing"`
	Health     int          `json:"health" msgpack:"health"`
	MaxHealth  int          `json:"max_health" msgpack:"max_health"`
	MoveSpeed  float64      `json:"move_speed" msgpack:"move_speed"`
	Projectile string       `json:"projectile" msgpack:"projectile"`
	Ability    string       `json:"ability" msgpack:"ability"`
	Parrying   bool         `json:"parrying,omitempty" msgpack:"parrying,omitempty"`
}

// ActorDiff groups updated and removed actors for a tick.
type ActorDiff struct {
	Updated []*ActorState `json:"updated,omitempty" msgpack:"updated,omitempty"`
	Removed []string      `json:"removed,omitempty" msgpack:"removed,omitempty"`
}

// ActorStore maintains replicated actor states with dirty tracking.
type ActorStore struct {
	mu      sync.RWMutex
	states  map[string]*ActorState
	dirty   map[string]struct{}
	removed map[string]struct{}
}

// NewActorStore constructs a thread-safe actor state container.
func NewActorStore() *ActorStore {
	return &ActorStore{
		states:  make(map[string]*ActorState),
		dirty:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}
}

// Upsert records or updates the actor state and flags it for the next diff.
func (s *ActorStore) Upsert(state *ActorState) {
	if s == nil || state == nil || state.ID == "" {
		return
	}
	clone := *state

	s.mu.Lock()
	//1.- Replace the stored state and mark it dirty for the diff collector.
	s.states[clone.ID] = &clone
	delete(s.removed, clone.ID)
	s.dirty[clone.ID] = struct{}{}
	s.mu.Unlock()
}

// Remove deletes the actor state and marks its identifier for removal in the diff.
func (s *ActorStore) Remove(actorID string) {
	if s == nil || actorID == "" {
		return
	}

	s.mu.Lock()
	delete(s.states, actorID)
	delete(s.dirty, actorID)
	s.removed[actorID] = struct{}{}
	s.mu.Unlock()
}

// Get returns a copy of the stored actor state if present.
func (s *ActorStore) Get(actorID string) (ActorState, bool) {
	if s == nil || actorID == "" {
		return ActorState{}, false
	}

	s.mu.RLock()
	state, ok := s.states[actorID]
	s.mu.RUnlock()
	if !ok {
		return ActorState{}, false
	}
	return *state, true
}

// ConsumeDiff collects and clears the pending actor updates and removals.
func (s *ActorStore) ConsumeDiff() ActorDiff {
	if s == nil {
		return ActorDiff{}
	}

	s.mu.Lock()
	dirtyIDs := sortedKeys(s.dirty)
	removedIDs := sortedKeys(s.removed)
	s.dirty = make(map[string]struct{})
	s.removed = make(map[string]struct{})

	updated := make([]*ActorState, 0, len(dirtyIDs))
	for _, id := range dirtyIDs {
		if actor, ok := s.states[id]; ok {
			clone := *actor
			updated = append(updated, &clone)
		}
	}
	s.mu.Unlock()
	return ActorDiff{Updated: updated, Removed: removedIDs}
}

// Snapshot clones every tracked actor in identifier order.
func (s *ActorStore) Snapshot() []*ActorState {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]*ActorState, 0, len(s.states))
	for _, id := range sortedKeys(s.states) {
		clone := *s.states[id]
		snapshot = append(snapshot, &clone)
	}
	return snapshot
}
