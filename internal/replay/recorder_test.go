package replay

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/state"
	"arenaclash/server/internal/tuning"
)

func broadcastEvent(t *testing.T, msg arena.Message) state.Event {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal %s: %v", msg.Kind, err)
	}
	return state.Event{Kind: string(msg.Kind), Payload: payload}
}

func matchState(t *testing.T, value match.State) state.Event {
	return broadcastEvent(t, arena.Message{
		Kind: arena.KindMatchState,
		Match: &match.Snapshot{
			MatchID: "arena-1",
			State:   value,
			Players: []match.Player{
				{ID: "alice", Team: combat.TeamA},
				{ID: "bob", Team: combat.TeamB},
			},
		},
	})
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	recorder, err := NewRecorder(t.TempDir(),
		WithRecorderLogger(logging.NewTestLogger()),
		WithRecorderClock(fixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))),
	)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	return recorder
}

func TestRecorderWritesOneBundlePerMatch(t *testing.T) {
	recorder := newTestRecorder(t)

	//1.- Frames before the match starts are not recorded.
	recorder.Record(state.TickDiff{Tick: 1, Actors: state.ActorDiff{Removed: []string{"x"}}})
	if recorder.Snapshot().Recording {
		t.Fatalf("expected no bundle before the match starts")
	}

	recorder.Record(state.TickDiff{Tick: 2, Events: state.EventDiff{Events: []state.Event{
		broadcastEvent(t, arena.Message{Kind: arena.KindTuningChanged, Tuning: &tuning.Snapshot{Version: 7}}),
		matchState(t, match.StateInProgress),
	}}})
	if !recorder.Snapshot().Recording {
		t.Fatalf("expected recording to start")
	}
	for tick := uint64(3); tick < 6; tick++ {
		recorder.Record(state.TickDiff{Tick: tick, Actors: state.ActorDiff{Removed: []string{"x"}}})
	}
	recorder.Record(state.TickDiff{Tick: 6})
	recorder.Record(state.TickDiff{Tick: 7, Events: state.EventDiff{Events: []state.Event{
		broadcastEvent(t, arena.Message{Kind: arena.KindMatchOver, Winner: "A"}),
		matchState(t, match.StateOver),
	}}})

	stats := recorder.Snapshot()
	if stats.Recording || stats.Bundles != 1 || stats.LastBundle == "" {
		t.Fatalf("unexpected stats %+v", stats)
	}

	header, err := ReadHeader(filepath.Join(stats.LastBundle, headerFile))
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header.MatchID != "arena-1" || header.Winner != "A" || header.TuningVersion != 7 {
		t.Fatalf("unexpected header %+v", header)
	}
	if len(header.Players) != 2 {
		t.Fatalf("expected both players in header, got %v", header.Players)
	}
	//2.- The opening state, match over and the closing state are events; ticks 3-5 are frames.
	if header.Events != 3 || header.Frames != 3 {
		t.Fatalf("expected 3 events and 3 frames, got %d/%d", header.Events, header.Frames)
	}

	loader, err := Load(stats.LastBundle)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	entries := loader.Entries()
	if len(entries) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(entries))
	}
	if entries[0].Kind != string(arena.KindMatchState) || entries[len(entries)-1].Kind != string(arena.KindMatchState) {
		t.Fatalf("expected the bundle to be framed by state changes, got %+v", entries)
	}
}

func TestRecorderSinkDropsWhenFull(t *testing.T) {
	recorder := newTestRecorder(t)
	for i := 0; i < defaultQueueSize+5; i++ {
		recorder.Sink(state.TickDiff{Tick: uint64(i)})
	}
	stats := recorder.Snapshot()
	if stats.Dropped != 5 || stats.QueuedDiffs != defaultQueueSize {
		t.Fatalf("unexpected queue stats %+v", stats)
	}
}

func TestRecorderRunClosesOpenBundle(t *testing.T) {
	recorder := newTestRecorder(t)
	recorder.Sink(state.TickDiff{Tick: 1, Events: state.EventDiff{Events: []state.Event{matchState(t, match.StateInProgress)}}})
	recorder.Sink(state.TickDiff{Tick: 2, Actors: state.ActorDiff{Removed: []string{"x"}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := recorder.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	stats := recorder.Snapshot()
	if stats.Recording || stats.Bundles != 1 {
		t.Fatalf("expected the queued match to be flushed into a bundle, got %+v", stats)
	}
	if _, err := Load(stats.LastBundle); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestNewRecorderRequiresRoot(t *testing.T) {
	if _, err := NewRecorder(""); err == nil {
		t.Fatalf("expected empty root to fail")
	}
}
