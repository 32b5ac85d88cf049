package bots

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
)

type fakeLauncher struct {
	mu      sync.Mutex
	targets []int
	result  int
	err     error
}

func (f *fakeLauncher) Scale(ctx context.Context, target int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if f.err != nil {
		return 0, f.err
	}
	if f.result >= 0 {
		return f.result, nil
	}
	return target, nil
}

func (f *fakeLauncher) last() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.targets) == 0 {
		return 0, false
	}
	return f.targets[len(f.targets)-1], true
}

func lobby(humans, bots int) arena.Message {
	snapshot := &match.Snapshot{State: match.StateWaiting}
	for i := 0; i < humans; i++ {
		snapshot.Players = append(snapshot.Players, match.Player{ID: string(rune('a' + i))})
	}
	for i := 0; i < bots; i++ {
		snapshot.Players = append(snapshot.Players, match.Player{ID: string(rune('A' + i)), Bot: true})
	}
	return arena.Message{Kind: arena.KindMatchState, Match: snapshot}
}

func newController(target int, launcher Launcher) *Controller {
	return NewController(ControllerConfig{TargetPopulation: target, Launcher: launcher, Logger: logging.NewTestLogger()})
}

func TestControllerCountsHumansFromLobby(t *testing.T) {
	launcher := &fakeLauncher{result: -1}
	controller := newController(5, launcher)

	//1.- Bots in the roster never count toward the human population.
	controller.Observe(lobby(2, 3))
	if snap := controller.Snapshot(); snap.Humans != 2 {
		t.Fatalf("expected 2 humans, got %+v", snap)
	}
	controller.Observe(arena.Message{Kind: arena.KindHealthChanged})
	if err := controller.SetTargetPopulation(context.Background(), 6); err != nil {
		t.Fatalf("set target: %v", err)
	}
	snap := controller.Snapshot()
	if snap.Bots != 4 || snap.Target != 6 {
		t.Fatalf("expected 4 bots for 2 humans and a target of 6, got %+v", snap)
	}
}

func TestControllerRunReconcilesOnLobbyChange(t *testing.T) {
	launcher := &fakeLauncher{result: -1}
	controller := newController(4, launcher)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = controller.Run(ctx)
	}()

	waitFor := func(want int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if got, ok := launcher.last(); ok && got == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		got, _ := launcher.last()
		t.Fatalf("expected a reconcile to %d, last was %d", want, got)
	}

	waitFor(4)
	controller.Observe(lobby(1, 3))
	waitFor(3)
	controller.Observe(lobby(6, 0))
	waitFor(0)

	cancel()
	<-done
	if snap := controller.Snapshot(); snap.Humans != 6 || snap.Bots != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestControllerLauncherFailure(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("boom")}
	controller := newController(3, launcher)

	if err := controller.SetTargetPopulation(context.Background(), 3); err == nil {
		t.Fatal("expected error from launcher")
	}
	if snap := controller.Snapshot(); snap.Bots != 0 {
		t.Fatalf("bots should remain unchanged when launcher fails, got %d", snap.Bots)
	}
	if err := controller.SetTargetPopulation(context.Background(), -1); err == nil {
		t.Fatal("expected negative population to be rejected")
	}
}
