package simulation

import (
	"testing"
	"time"
)

func TestSchedulerRunsTasksInDueOrder(t *testing.T) {
	s := NewScheduler()
	var order []string
	s.After(300*time.Millisecond, func() { order = append(order, "late") })
	s.After(100*time.Millisecond, func() { order = append(order, "early") })
	s.After(100*time.Millisecond, func() { order = append(order, "early-second") })

	s.Advance(50 * time.Millisecond)
	if len(order) != 0 {
		t.Fatalf("nothing should fire before 100ms, got %v", order)
	}
	s.Advance(250 * time.Millisecond)
	if len(order) != 3 || order[0] != "early" || order[1] != "early-second" || order[2] != "late" {
		t.Fatalf("unexpected order %v", order)
	}
	if s.Now() != 300*time.Millisecond {
		t.Fatalf("unexpected clock %v", s.Now())
	}
}

func TestSchedulerTaskSeesDueTime(t *testing.T) {
	s := NewScheduler()
	var seen time.Duration
	s.After(120*time.Millisecond, func() { seen = s.Now() })
	s.Advance(time.Second)
	if seen != 120*time.Millisecond {
		t.Fatalf("task observed clock %v", seen)
	}
}

func TestSchedulerEveryAndCancel(t *testing.T) {
	s := NewScheduler()
	count := 0
	var task *Task
	task = s.Every(time.Second, func() {
		count++
		if count == 3 {
			task.Cancel()
		}
	})
	s.Advance(10 * time.Second)
	if count != 3 {
		t.Fatalf("expected three runs before cancellation, got %d", count)
	}
	if task.Pending() || s.Pending() != 0 {
		t.Fatal("cancelled task must not stay armed")
	}
	task.Cancel()
}

func TestSchedulerCancelBeforeFire(t *testing.T) {
	s := NewScheduler()
	fired := false
	task := s.After(time.Second, func() { fired = true })
	task.Cancel()
	s.Advance(2 * time.Second)
	if fired {
		t.Fatal("cancelled task fired")
	}
}

func TestSchedulerChainedTasksFireWithinWindow(t *testing.T) {
	s := NewScheduler()
	var stamps []time.Duration
	s.After(time.Second, func() {
		stamps = append(stamps, s.Now())
		s.After(time.Second, func() { stamps = append(stamps, s.Now()) })
	})
	s.Advance(5 * time.Second)
	if len(stamps) != 2 || stamps[0] != time.Second || stamps[1] != 2*time.Second {
		t.Fatalf("unexpected chained stamps %v", stamps)
	}
}

func TestTickMonitorSnapshot(t *testing.T) {
	monitor := NewTickMonitor()
	monitor.SetBudget(20 * time.Millisecond)
	monitor.Observe(10 * time.Millisecond)
	monitor.Observe(30 * time.Millisecond)
	monitor.ObservePhase(PhaseProjectiles, 4*time.Millisecond)
	monitor.ObservePhase(PhaseProjectiles, 8*time.Millisecond)
	monitor.ObservePhase(PhaseHeal, 0)
	snap := monitor.Snapshot()
	if snap.Samples != 2 || snap.Average != 20*time.Millisecond || snap.Max != 30*time.Millisecond {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Overruns != 1 {
		t.Fatalf("expected one step over the 20ms budget, got %d", snap.Overruns)
	}
	projectiles := snap.Phases[PhaseProjectiles]
	if projectiles.Samples != 2 || projectiles.Average() != 6*time.Millisecond || projectiles.Max != 8*time.Millisecond {
		t.Fatalf("unexpected projectile phase %+v", projectiles)
	}
	if names := snap.PhaseNames(); len(names) != 2 || names[0] != PhaseHeal {
		t.Fatalf("unexpected phase order %v", names)
	}
	monitor.Reset()
	if snap := monitor.Snapshot(); snap.Samples != 0 || len(snap.Phases) != 0 || snap.Budget != 20*time.Millisecond {
		t.Fatalf("reset should clear samples and keep the budget, got %+v", snap)
	}
}

func TestTickMonitorTimeIsNilSafe(t *testing.T) {
	var monitor *TickMonitor
	monitor.Time(PhaseRequests)()
	live := NewTickMonitor()
	live.Time(PhaseRequests)()
	if live.Snapshot().Phases[PhaseRequests].Samples != 1 {
		t.Fatal("expected the timed phase to be recorded")
	}
}
