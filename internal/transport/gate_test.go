package transport

import (
	"testing"
	"time"

	"arenaclash/server/internal/arena"
)

func TestGateDropsBroadcastKinds(t *testing.T) {
	gate := NewGate(GateConfig{}, nil)
	if reason := gate.Evaluate("c1", arena.Message{Kind: arena.KindHealthChanged}); reason != DropReasonKind {
		t.Fatalf("expected kind drop, got %q", reason)
	}
	if got := gate.Drops()["c1"].Kind; got != 1 {
		t.Fatalf("expected one kind drop, got %d", got)
	}
}

func TestGateEnforcesSequenceAndSpacing(t *testing.T) {
	now := time.Unix(0, 0)
	gate := NewGate(GateConfig{MinInterval: 50 * time.Millisecond}, func() time.Time { return now })

	if reason := gate.Evaluate("c1", arena.Message{Kind: arena.KindSpawnProjectile, Seq: 5}); reason != DropReasonNone {
		t.Fatalf("first frame rejected: %q", reason)
	}
	if reason := gate.Evaluate("c1", arena.Message{Kind: arena.KindUseAbility, Seq: 5}); reason != DropReasonSequence {
		t.Fatalf("expected sequence drop, got %q", reason)
	}
	now = now.Add(10 * time.Millisecond)
	if reason := gate.Evaluate("c1", arena.Message{Kind: arena.KindSpawnProjectile, Seq: 6}); reason != DropReasonRateLimited {
		t.Fatalf("expected rate limit, got %q", reason)
	}
	//1.- Other kinds and steering are spaced independently.
	if reason := gate.Evaluate("c1", arena.Message{Kind: arena.KindUseAbility, Seq: 7}); reason != DropReasonNone {
		t.Fatalf("ability rejected: %q", reason)
	}
	for seq := uint64(8); seq < 11; seq++ {
		if reason := gate.Evaluate("c1", arena.Message{Kind: arena.KindSteer, Seq: seq}); reason != DropReasonNone {
			t.Fatalf("steer rejected: %q", reason)
		}
	}
	now = now.Add(50 * time.Millisecond)
	if reason := gate.Evaluate("c1", arena.Message{Kind: arena.KindSpawnProjectile, Seq: 11}); reason != DropReasonNone {
		t.Fatalf("spaced spawn rejected: %q", reason)
	}

	gate.Forget("c1")
	if reason := gate.Evaluate("c1", arena.Message{Kind: arena.KindSpawnProjectile, Seq: 1}); reason != DropReasonNone {
		t.Fatalf("forgotten client should start fresh: %q", reason)
	}
}
