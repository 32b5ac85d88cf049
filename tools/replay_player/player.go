package replayplayer

import (
	"encoding/json"
	"fmt"
	"sort"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/replay"
	"arenaclash/server/internal/state"
)

// Hit is one health change observed while replaying.
type Hit struct {
	Tick     uint64 `json:"tick"`
	Actor    string `json:"actor"`
	Attacker string `json:"attacker,omitempty"`
	Health   int    `json:"health"`
}

// Summary is the reconstructed outcome of a bundle.
type Summary struct {
	Manifest    replay.Manifest          `json:"manifest"`
	FirstTick   uint64                   `json:"first_tick"`
	LastTick    uint64                   `json:"last_tick"`
	Events      map[string]int           `json:"events"`
	Frames      int                      `json:"frames"`
	Winner      string                   `json:"winner,omitempty"`
	Hits        []Hit                    `json:"hits,omitempty"`
	Actors      []*state.ActorState      `json:"actors"`
	Projectiles []*state.ProjectileState `json:"projectiles,omitempty"`
	actors      map[string]*state.ActorState
	projectiles map[string]*state.ProjectileState
}

// Options bounds the replayed tick window. A zero UntilTick replays the whole bundle.
type Options struct {
	UntilTick uint64
}

// ReplayBundle loads the bundle in dir and folds its timeline into a summary.
func ReplayBundle(dir string, opts Options) (*Summary, error) {
	loader, err := replay.Load(dir)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		Manifest:    loader.Manifest(),
		Events:      make(map[string]int),
		actors:      make(map[string]*state.ActorState),
		projectiles: make(map[string]*state.ProjectileState),
	}
	first := true
	err = loader.Replay(func(entry replay.TimelineEntry) error {
		if opts.UntilTick > 0 && entry.Tick > opts.UntilTick {
			return nil
		}
		if first {
			summary.FirstTick = entry.Tick
			first = false
		}
		summary.LastTick = entry.Tick
		//1.- Frames rebuild the replicated state, events feed the tallies.
		if entry.Type == replay.EntryFrame {
			diff, err := entry.Frame()
			if err != nil {
				return fmt.Errorf("tick %d: %w", entry.Tick, err)
			}
			summary.apply(diff)
			summary.Frames++
			return nil
		}
		return summary.observe(entry)
	})
	if err != nil {
		return nil, err
	}
	summary.finish()
	return summary, nil
}

func (s *Summary) apply(diff state.TickDiff) {
	for _, actor := range diff.Actors.Updated {
		if actor != nil {
			s.actors[actor.ID] = actor
		}
	}
	for _, id := range diff.Actors.Removed {
		delete(s.actors, id)
	}
	for _, projectile := range diff.Projectiles.Updated {
		if projectile != nil {
			s.projectiles[projectile.ID] = projectile
		}
	}
	for _, id := range diff.Projectiles.Removed {
		delete(s.projectiles, id)
	}
}

func (s *Summary) observe(entry replay.TimelineEntry) error {
	var msg arena.Message
	if err := json.Unmarshal(entry.Payload, &msg); err != nil {
		return fmt.Errorf("tick %d %s: %w", entry.Tick, entry.Kind, err)
	}
	s.Events[string(msg.Kind)]++
	switch msg.Kind {
	case arena.KindHealthChanged:
		s.Hits = append(s.Hits, Hit{Tick: entry.Tick, Actor: msg.Actor, Attacker: msg.Target, Health: msg.Value})
	case arena.KindMatchOver:
		s.Winner = msg.Winner
	}
	return nil
}

func (s *Summary) finish() {
	s.Actors = make([]*state.ActorState, 0, len(s.actors))
	for _, actor := range s.actors {
		s.Actors = append(s.Actors, actor)
	}
	sort.Slice(s.Actors, func(i, j int) bool { return s.Actors[i].ID < s.Actors[j].ID })
	s.Projectiles = make([]*state.ProjectileState, 0, len(s.projectiles))
	for _, projectile := range s.projectiles {
		s.Projectiles = append(s.Projectiles, projectile)
	}
	sort.Slice(s.Projectiles, func(i, j int) bool { return s.Projectiles[i].ID < s.Projectiles[j].ID })
}

// Actor returns the last replicated state of id.
func (s *Summary) Actor(id string) (*state.ActorState, bool) {
	actor, ok := s.actors[id]
	return actor, ok
}
