package combat

import (
	"testing"
	"time"
)

func TestCooldownStaysWithinBounds(t *testing.T) {
	cd := NewCooldown(4 * time.Second)
	if !cd.IsReady() {
		t.Fatal("new cooldown must be ready")
	}
	if !cd.Consume(4 * time.Second) {
		t.Fatal("consume on a ready timer must succeed")
	}
	if cd.Consume(time.Second) {
		t.Fatal("consume while running must be a no-op")
	}
	if cd.Remaining() != 4*time.Second {
		t.Fatalf("rejected consume changed remaining to %v", cd.Remaining())
	}
	for i := 0; i < 100; i++ {
		cd.Tick(100 * time.Millisecond)
		if r := cd.Remaining(); r < 0 || r > cd.Max() {
			t.Fatalf("remaining %v escaped [0, %v]", r, cd.Max())
		}
	}
	if !cd.IsReady() {
		t.Fatal("timer should be ready after ticking past max")
	}
}

func TestCooldownNotifiesEveryTickAndOnceAtZero(t *testing.T) {
	cd := NewCooldown(time.Second)
	var seen []time.Duration
	unsubscribe := cd.Subscribe(func(remaining, _ time.Duration) { seen = append(seen, remaining) })
	cd.Consume(time.Second)
	seen = nil
	for i := 0; i < 6; i++ {
		cd.Tick(300 * time.Millisecond)
	}
	want := []time.Duration{700 * time.Millisecond, 400 * time.Millisecond, 100 * time.Millisecond, 0}
	if len(seen) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("notification %d: want %v got %v", i, want[i], seen[i])
		}
	}
	unsubscribe()
	cd.Consume(time.Second)
	if len(seen) != len(want) {
		t.Fatal("unsubscribed listener still notified")
	}
}

func TestCooldownReduceAndReset(t *testing.T) {
	cd := NewCooldown(4 * time.Second)
	cd.Consume(4 * time.Second)
	cd.Reduce(2 * time.Second)
	if cd.Remaining() != 2*time.Second {
		t.Fatalf("expected 2s after refund, got %v", cd.Remaining())
	}
	cd.Reduce(10 * time.Second)
	if !cd.IsReady() {
		t.Fatal("reduce must floor at zero")
	}
	cd.Consume(4 * time.Second)
	cd.Reset()
	if !cd.IsReady() {
		t.Fatal("reset must make the slot ready")
	}
}

func TestCooldownConsumeLongerThanMaxGrowsBar(t *testing.T) {
	cd := NewCooldown(time.Second)
	cd.Consume(3 * time.Second)
	if cd.Max() != 3*time.Second || cd.Remaining() != 3*time.Second {
		t.Fatalf("unexpected bar %v/%v", cd.Remaining(), cd.Max())
	}
}

func TestTargetClampsAndDepletesOnce(t *testing.T) {
	target := NewTarget(TeamA, 100)
	if _, err := target.ApplyDamage(95); err != nil {
		t.Fatalf("apply damage: %v", err)
	}
	depletedCount := 0
	target.OnDepleted(func() { depletedCount++ })

	applied, err := target.ApplyDamage(20)
	if err != nil {
		t.Fatalf("apply damage: %v", err)
	}
	if current, _ := target.Health(); current != 0 || applied != 5 {
		t.Fatalf("expected floor at zero with 5 applied, got current=%d applied=%d", current, applied)
	}
	target.ApplyDamage(20)
	target.ApplyDamage(1)
	if depletedCount != 1 {
		t.Fatalf("depleted must fire exactly once, fired %d", depletedCount)
	}
	if healed, _ := target.Heal(50); healed != 0 {
		t.Fatal("depleted target must not be healed")
	}
	target.Respawn()
	if current, _ := target.Health(); current != 100 || target.Depleted() {
		t.Fatal("respawn must restore a fresh life")
	}
}

func TestReplicaTargetRejectsAuthoredDamage(t *testing.T) {
	replica := NewReplicaTarget(TeamB, 100)
	if _, err := replica.ApplyDamage(10); err != ErrNotAuthority {
		t.Fatalf("expected ErrNotAuthority, got %v", err)
	}
	var seen int
	replica.OnHealthChanged(func(current, _ int) { seen = current })
	replica.SetReplicated(70)
	if seen != 70 {
		t.Fatalf("replica should mirror broadcast health, saw %d", seen)
	}
}

func TestTargetHealClampsToMax(t *testing.T) {
	target := NewTarget(TeamA, 100)
	target.ApplyDamage(10)
	healed, _ := target.Heal(20)
	if healed != 10 {
		t.Fatalf("expected 10 healed, got %d", healed)
	}
}

func TestDirectorDeclaresSurvivingTeamOnce(t *testing.T) {
	director := NewDirector()
	a1, a2, b1 := NewTarget(TeamA, 100), NewTarget(TeamA, 100), NewTarget(TeamB, 100)
	director.Track("a1", a1)
	director.Track("a2", a2)
	director.Track("b1", b1)

	var outcomes []Outcome
	director.OnMatchOver(func(o Outcome) { outcomes = append(outcomes, o) })

	a1.ApplyDamage(100)
	if director.DamageResolved().Over {
		t.Fatal("match must continue while a2 stands")
	}
	a2.ApplyDamage(100)
	outcome := director.DamageResolved()
	if !outcome.Over || outcome.Winner != TeamB {
		t.Fatalf("expected team B victory, got %+v", outcome)
	}
	director.DamageResolved()
	if len(outcomes) != 1 {
		t.Fatalf("match over must be raised once, got %d", len(outcomes))
	}
}

func TestDirectorRecomputesAfterRosterChange(t *testing.T) {
	director := NewDirector()
	a1, b1 := NewTarget(TeamA, 100), NewTarget(TeamB, 100)
	director.Track("a1", a1)
	director.Track("b1", b1)
	b1.ApplyDamage(100)
	director.Forget("b1")
	if director.Evaluate().Over {
		t.Fatal("a team with no members is not eliminated")
	}
}

func TestHostileExcludesFriendlyAndUnassigned(t *testing.T) {
	if Hostile(TeamA, TeamA) || Hostile(TeamNone, TeamB) || !Hostile(TeamA, TeamB) {
		t.Fatal("unexpected hostility matrix")
	}
}
