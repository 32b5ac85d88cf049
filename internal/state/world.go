package state

import "time"

// TickDiff collates all state deltas emitted for a simulation tick.
type TickDiff struct {
	Tick        uint64         `json:"tick" msgpack:"tick"`
	Actors      ActorDiff      `json:"actors" msgpack:"actors"`
	Projectiles ProjectileDiff `json:"projectiles" msgpack:"projectiles"`
	Events      EventDiff      `json:"events" msgpack:"events"`
}

// HasChanges reports whether the diff contains any modifications worth broadcasting.
func (d TickDiff) HasChanges() bool {
	//1.- Check each sub diff for non-empty updates or removals.
	if len(d.Actors.Updated) > 0 || len(d.Actors.Removed) > 0 {
		return true
	}
	if len(d.Projectiles.Updated) > 0 || len(d.Projectiles.Removed) > 0 {
		return true
	}
	return len(d.Events.Events) > 0
}

// WorldState holds the replicated state containers.
type WorldState struct {
	Actors      *ActorStore
	Projectiles *ProjectileStore
	Events      *EventStore
}

// NewWorldState constructs the world containers with default implementations.
func NewWorldState() *WorldState {
	return &WorldState{
		Actors:      NewActorStore(),
		Projectiles: NewProjectileStore(),
		Events:      NewEventStore(),
	}
}

// Collect drains every store into a diff stamped with tick.
func (w *WorldState) Collect(tick uint64) TickDiff {
	if w == nil {
		return TickDiff{}
	}
	return TickDiff{
		Tick:        tick,
		Actors:      w.Actors.ConsumeDiff(),
		Projectiles: w.Projectiles.ConsumeDiff(),
		Events:      w.Events.ConsumeDiff(),
	}
}

// AdvanceTick extrapolates mirrored projectiles for the step and collects the diff.
func (w *WorldState) AdvanceTick(tick uint64, step time.Duration) TickDiff {
	if w == nil {
		return TickDiff{}
	}
	w.Projectiles.Advance(step.Seconds())
	return w.Collect(tick)
}

// Snapshot captures the entire world state for late joiners and debugging.
func (w *WorldState) Snapshot(tick uint64) TickDiff {
	if w == nil {
		return TickDiff{}
	}
	return TickDiff{
		Tick:        tick,
		Actors:      ActorDiff{Updated: w.Actors.Snapshot()},
		Projectiles: ProjectileDiff{Updated: w.Projectiles.Snapshot()},
	}
}
