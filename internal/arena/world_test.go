package arena

import (
	"fmt"
	"testing"
	"time"

	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/simulation"
	"arenaclash/server/internal/state"
	"arenaclash/server/internal/tuning"
)

const testStep = 50 * time.Millisecond

type harness struct {
	t     *testing.T
	w     *World
	panel *tuning.Panel
	tick  uint64
	msgs  []Message
}

func quietHeal() match.HazardConfig {
	return match.HazardConfig{Cooldown: time.Hour, Countdown: 3, DropDuration: time.Second}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	panel := tuning.NewPanel(tuning.Baked(), tuning.WithOverride(true))
	next := 0
	w, err := NewWorld(panel, cfg,
		WithLogger(logging.NewTestLogger()),
		WithIDGenerator(func() string {
			next++
			return fmt.Sprintf("p%d", next)
		}),
	)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	h := &harness{t: t, w: w, panel: panel}
	w.Subscribe(func(msg Message) { h.msgs = append(h.msgs, msg) })
	t.Cleanup(w.Close)
	return h
}

func (h *harness) join(id string, team combat.Team, projectile, ability string) state.Handle {
	h.t.Helper()
	handle, err := h.w.Join(match.Player{ID: id, Team: team, Projectile: projectile, Ability: ability})
	if err != nil {
		h.t.Fatalf("join %s: %v", id, err)
	}
	return handle
}

func (h *harness) start() {
	h.t.Helper()
	if _, err := h.w.Start(); err != nil {
		h.t.Fatalf("start: %v", err)
	}
}

func (h *harness) place(handle state.Handle, pos physics.Vec3) {
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	a, ok := h.w.actors.Get(handle)
	if !ok {
		h.t.Fatalf("place: unknown actor %s", handle)
	}
	a.position = pos
	h.w.syncActor(a)
}

func (h *harness) wound(handle state.Handle, amount int) {
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	a, _ := h.w.actors.Get(handle)
	if _, err := a.target.ApplyDamage(amount); err != nil {
		h.t.Fatalf("wound: %v", err)
	}
}

func (h *harness) health(handle state.Handle) int {
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	a, ok := h.w.actors.Get(handle)
	if !ok {
		h.t.Fatalf("health: unknown actor %s", handle)
	}
	current, _ := a.target.Health()
	return current
}

func (h *harness) submit(from state.Handle, msg Message) {
	if err := h.w.Submit(from, msg); err != nil {
		h.t.Fatalf("submit: %v", err)
	}
}

func (h *harness) fire(from state.Handle, direction physics.Vec3, aim *physics.Ray) {
	dir := direction
	h.submit(from, Message{Kind: KindSpawnProjectile, Direction: &dir, Aim: aim})
}

func (h *harness) step(n int) {
	for i := 0; i < n; i++ {
		h.tick++
		h.w.Step(h.tick, testStep)
	}
}

func (h *harness) of(kind Kind) []Message {
	var out []Message
	for _, msg := range h.msgs {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func aimAt(from, to physics.Vec3) *physics.Ray {
	ray := physics.Ray{Origin: from, Direction: to.Sub(from).NormalizeOr(physics.Forward)}
	return &ray
}

var forwardZ = physics.Vec3{Z: 1}

func TestEveryVariantDamagesEnemies(t *testing.T) {
	expected := map[string]int{
		"Bullet":    10,
		"Boomerang": 20,
		"Mortar":    10,
		"Homing":    10,
		"Curved":    10,
	}
	for variant, damage := range expected {
		t.Run(variant, func(t *testing.T) {
			h := newHarness(t, Config{Heal: quietHeal()})
			shooter := h.join("a", combat.TeamA, variant, "Blink")
			enemy := h.join("b", combat.TeamB, "Bullet", "Blink")
			h.start()
			h.place(shooter, physics.Vec3{Z: -3})
			h.place(enemy, physics.Vec3{Z: 3})

			h.fire(shooter, forwardZ, aimAt(physics.Vec3{Y: 1, Z: -3}, physics.Vec3{Z: 3}))
			h.step(120)

			if got := 100 - h.health(enemy); got != damage {
				t.Fatalf("expected %d damage from %s, got %d", damage, variant, got)
			}
			if got := h.health(shooter); got != 100 {
				t.Fatalf("shooter must never be hit by its own %s, health %d", variant, got)
			}
		})
	}
}

func TestNoFriendlyFireAcrossVariants(t *testing.T) {
	for _, variant := range []string{"Bullet", "Boomerang", "Mortar", "Homing", "Curved"} {
		t.Run(variant, func(t *testing.T) {
			h := newHarness(t, Config{Heal: quietHeal()})
			shooter := h.join("a1", combat.TeamA, variant, "Blink")
			ally := h.join("a2", combat.TeamA, "Bullet", "Blink")
			enemy := h.join("b", combat.TeamB, "Bullet", "Blink")
			h.start()
			h.place(shooter, physics.Vec3{Z: -20})
			h.place(ally, physics.Vec3{Z: -12})
			h.place(enemy, physics.Vec3{X: 15, Z: 25})

			h.fire(shooter, forwardZ, aimAt(physics.Vec3{Y: 1, Z: -20}, physics.Vec3{Z: -12}))
			h.step(120)

			if hits := h.of(KindHealthChanged); len(hits) != 0 {
				t.Fatalf("expected no health changes, got %+v", hits)
			}
			if h.health(ally) != 100 || h.health(shooter) != 100 {
				t.Fatalf("team A took damage from %s", variant)
			}
		})
	}
}

func TestBoomerangCatchRefundsShooter(t *testing.T) {
	h := newHarness(t, Config{ServerCooldowns: true, CooldownGrace: DefaultCooldownGrace, Heal: quietHeal()})
	shooter := h.join("a1", combat.TeamA, "Boomerang", "Blink")
	catcher := h.join("a2", combat.TeamA, "Bullet", "Blink")
	enemy := h.join("b", combat.TeamB, "Bullet", "Blink")
	h.start()
	h.place(shooter, physics.Vec3{Z: -3})
	h.place(catcher, physics.Vec3{Z: 5})
	h.place(enemy, physics.Vec3{X: 15, Z: 25})

	h.fire(shooter, forwardZ, nil)
	h.step(80)

	despawns := h.of(KindProjectileDespawned)
	if len(despawns) != 1 || despawns[0].Reason != "caught" {
		t.Fatalf("expected the boomerang to be caught, got %+v", despawns)
	}
	adjust := h.of(KindCooldownAdjust)
	if len(adjust) != 1 {
		t.Fatalf("expected one cooldown adjustment, got %+v", adjust)
	}
	if adjust[0].Actor != shooter.String() || adjust[0].Mode != AdjustReduce || adjust[0].Seconds != 2 || adjust[0].Audience != AudienceOwner {
		t.Fatalf("unexpected refund message %+v", adjust[0])
	}
	h.w.mu.Lock()
	a, _ := h.w.actors.Get(shooter)
	readyAt := a.shotReadyAt
	h.w.mu.Unlock()
	if readyAt != 2*time.Second {
		t.Fatalf("expected ledger at 2s after refund, got %s", readyAt)
	}
}

func TestParryDeflectsWithAttackerVariant(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	attacker := h.join("a", combat.TeamA, "Bullet", "Blink")
	parrier := h.join("b", combat.TeamB, "Boomerang", "Parry")
	h.start()
	h.place(attacker, physics.Vec3{Z: -3})
	h.place(parrier, physics.Vec3{Z: 3})

	h.submit(parrier, Message{Kind: KindUseAbility})
	h.fire(attacker, forwardZ, nil)
	h.step(30)

	spawns := h.of(KindProjectileSpawned)
	if len(spawns) != 2 {
		t.Fatalf("expected the shot and its deflection, got %+v", spawns)
	}
	counter := spawns[1]
	if counter.Actor != parrier.String() || counter.Variant != "Bullet" {
		t.Fatalf("deflection must be fired by the parrier with the attacker's variant, got %+v", counter)
	}
	if h.health(parrier) != 100 {
		t.Fatalf("parrier took damage during the window")
	}
	if h.health(attacker) != 90 {
		t.Fatalf("expected the deflection to hit the attacker, health %d", h.health(attacker))
	}
	resets := h.of(KindCooldownAdjust)
	if len(resets) != 1 || resets[0].Actor != parrier.String() || resets[0].Mode != AdjustReset {
		t.Fatalf("expected a full reset for the parrier, got %+v", resets)
	}
}

func TestMortarBlastSkipsAllies(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	shooter := h.join("a1", combat.TeamA, "Mortar", "Blink")
	ally := h.join("a2", combat.TeamA, "Bullet", "Blink")
	near := h.join("b1", combat.TeamB, "Bullet", "Blink")
	side := h.join("b2", combat.TeamB, "Bullet", "Blink")
	h.start()
	h.place(shooter, physics.Vec3{Z: -3})
	h.place(near, physics.Vec3{Z: 3})
	h.place(side, physics.Vec3{X: 2, Z: 3})
	h.place(ally, physics.Vec3{X: -1, Z: 3})

	h.fire(shooter, forwardZ, aimAt(physics.Vec3{Y: 1, Z: -3}, physics.Vec3{Z: 3}))
	h.step(60)

	if h.health(near) != 90 || h.health(side) != 90 {
		t.Fatalf("expected both enemies inside the blast to take damage, got %d and %d", h.health(near), h.health(side))
	}
	if h.health(ally) != 100 {
		t.Fatalf("blast hurt an ally")
	}
	despawns := h.of(KindProjectileDespawned)
	if len(despawns) != 1 || despawns[0].Reason != "exploded" {
		t.Fatalf("expected one explosion, got %+v", despawns)
	}
}

func TestProjectileClashToggle(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		t.Run(fmt.Sprintf("clash=%v", enabled), func(t *testing.T) {
			h := newHarness(t, Config{ProjectileClash: enabled, Heal: quietHeal()})
			a := h.join("a", combat.TeamA, "Bullet", "Blink")
			b := h.join("b", combat.TeamB, "Bullet", "Blink")
			h.start()
			h.place(a, physics.Vec3{Z: -3})
			h.place(b, physics.Vec3{Z: 3})

			h.fire(a, forwardZ, nil)
			h.fire(b, physics.Vec3{Z: -1}, nil)
			h.step(20)

			if enabled {
				if h.health(a) != 100 || h.health(b) != 100 {
					t.Fatalf("clashing shots must not land")
				}
				if resets := h.of(KindCooldownAdjust); len(resets) != 2 {
					t.Fatalf("expected both shooters reset, got %+v", resets)
				}
				return
			}
			if h.health(a) != 90 || h.health(b) != 90 {
				t.Fatalf("expected both shots to land, got %d and %d", h.health(a), h.health(b))
			}
		})
	}
}

func TestServerCooldownLedgerWithGrace(t *testing.T) {
	h := newHarness(t, Config{ServerCooldowns: true, CooldownGrace: DefaultCooldownGrace, Heal: quietHeal()})
	a := h.join("a", combat.TeamA, "Bullet", "Blink")
	h.join("b", combat.TeamB, "Bullet", "Blink")
	h.start()
	side := physics.Vec3{X: 1}

	h.fire(a, side, nil)
	h.step(1)
	h.step(75) // clock now at 3.8s
	h.fire(a, side, nil)
	h.step(1)
	if got := len(h.of(KindProjectileSpawned)); got != 1 {
		t.Fatalf("expected the early shot to be rejected, got %d spawns", got)
	}
	h.step(1) // clock now at 3.9s
	h.fire(a, side, nil)
	h.step(1)
	if got := len(h.of(KindProjectileSpawned)); got != 2 {
		t.Fatalf("expected the shot inside the grace window to pass, got %d spawns", got)
	}
	if h.w.Stats().Rejections != 1 {
		t.Fatalf("expected one rejection, got %d", h.w.Stats().Rejections)
	}
}

func TestRequestRejections(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	a := h.join("a", combat.TeamA, "Bullet", "Blink")
	b := h.join("b", combat.TeamB, "Bullet", "Blink")

	h.fire(a, forwardZ, nil) // not started
	h.submit(state.NilHandle, Message{Kind: KindFace})
	h.submit(a, Message{Kind: KindSpawnProjectile, Actor: b.String()})
	h.submit(a, Message{Kind: KindProjectileSpawned})
	h.step(1)
	if got := h.w.Stats().Rejections; got != 4 {
		t.Fatalf("expected four rejections, got %d", got)
	}

	h.start()
	h.submit(a, Message{Kind: KindSteer, Target: "missing"})
	h.submit(a, Message{Kind: KindSpawnProjectile, Variant: "Slingshot"})
	h.step(1)
	if got := h.w.Stats().Rejections; got != 6 {
		t.Fatalf("expected six rejections, got %d", got)
	}
	if got := len(h.of(KindProjectileSpawned)); got != 0 {
		t.Fatalf("rejected requests spawned %d projectiles", got)
	}
}

func TestSteerOnlyForOwnedHoming(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	a := h.join("a", combat.TeamA, "Homing", "Blink")
	b := h.join("b", combat.TeamB, "Bullet", "Blink")
	h.start()
	h.place(b, physics.Vec3{X: 15, Z: 25})

	h.fire(a, forwardZ, nil)
	h.step(1)
	id := h.of(KindProjectileSpawned)[0].Target
	h.submit(b, Message{Kind: KindSteer, Target: id, Lateral: 0.5})
	h.submit(a, Message{Kind: KindSteer, Target: id, Lateral: 0.5})
	h.step(1)

	steered := h.of(KindProjectileSteered)
	if len(steered) != 1 || steered[0].Actor != a.String() {
		t.Fatalf("expected one steer from the owner, got %+v", steered)
	}
	if h.w.Stats().Rejections != 1 {
		t.Fatalf("expected the foreign steer to be rejected")
	}
}

func TestEliminationEndsMatch(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	a := h.join("a", combat.TeamA, "Bullet", "Blink")
	b := h.join("b", combat.TeamB, "Bullet", "Blink")
	h.start()
	h.place(a, physics.Vec3{Z: -3})
	h.place(b, physics.Vec3{Z: 3})
	h.wound(b, 95)

	h.fire(a, forwardZ, nil)
	h.step(10)

	over := h.of(KindMatchOver)
	if len(over) != 1 || over[0].Winner != "A" {
		t.Fatalf("expected team A to win, got %+v", over)
	}
	if h.w.MatchSnapshot().State != match.StateOver {
		t.Fatalf("expected the session to be over")
	}
	h.fire(b, physics.Vec3{Z: -1}, nil)
	h.step(1)
	if got := len(h.of(KindProjectileSpawned)); got != 1 {
		t.Fatalf("shots after the match ended must be rejected")
	}

	h.submit(a, Message{Kind: KindRestart})
	h.step(1)
	if h.w.MatchSnapshot().State != match.StateWaiting {
		t.Fatalf("expected restart to return to the lobby")
	}
	if h.health(b) != 100 {
		t.Fatalf("expected restart to refill health, got %d", h.health(b))
	}
}

func TestPlayerRestartOnlyAfterMatchOver(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	a := h.join("a", combat.TeamA, "Bullet", "Blink")
	b := h.join("b", combat.TeamB, "Bullet", "Blink")
	h.start()
	h.place(a, physics.Vec3{Z: -3})
	h.place(b, physics.Vec3{Z: 3})
	h.wound(a, 90)

	//1.- A losing player cannot wipe a running match back to the lobby.
	h.submit(b, Message{Kind: KindRestart})
	h.step(1)
	if got := h.w.MatchSnapshot().State; got != match.StateInProgress {
		t.Fatalf("expected the match to keep running, got %s", got)
	}
	if h.health(a) != 10 {
		t.Fatalf("expected health to stay at 10, got %d", h.health(a))
	}
	if got := h.w.Stats().Rejections; got != 1 {
		t.Fatalf("expected the restart to be rejected, got %d rejections", got)
	}

	//2.- Once the match is over the same request returns everybody to the lobby.
	h.wound(b, 95)
	h.fire(a, forwardZ, nil)
	h.step(10)
	if got := h.w.MatchSnapshot().State; got != match.StateOver {
		t.Fatalf("expected the match to be over, got %s", got)
	}
	h.submit(b, Message{Kind: KindRestart})
	h.step(1)
	if got := h.w.MatchSnapshot().State; got != match.StateWaiting {
		t.Fatalf("expected restart after match over, got %s", got)
	}
	if h.health(a) != 100 || h.health(b) != 100 {
		t.Fatalf("expected full health after restart, got %d and %d", h.health(a), h.health(b))
	}
}

func TestLeavingTeamForfeitsMatch(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	h.join("a1", combat.TeamA, "Bullet", "Blink")
	h.join("a2", combat.TeamA, "Bullet", "Blink")
	h.join("b", combat.TeamB, "Bullet", "Blink")
	h.start()

	h.w.Leave("a1")
	if got := h.w.MatchSnapshot().State; got != match.StateInProgress {
		t.Fatalf("team A still has a player, got %s", got)
	}
	h.w.Leave("a2")
	over := h.of(KindMatchOver)
	if len(over) != 1 || over[0].Winner != "B" {
		t.Fatalf("expected team B to win by forfeit, got %+v", over)
	}
	if got := h.w.MatchSnapshot().State; got != match.StateOver {
		t.Fatalf("expected the session to be over, got %s", got)
	}
	h.w.Leave("b")
	if got := len(h.of(KindMatchOver)); got != 1 {
		t.Fatalf("match over must be raised once, got %d", got)
	}
}

func TestStepProfilesEveryPhase(t *testing.T) {
	monitor := simulation.NewTickMonitor()
	w, err := NewWorld(tuning.NewPanel(tuning.Baked()), Config{Heal: quietHeal()},
		WithLogger(logging.NewTestLogger()), WithTickMonitor(monitor))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	defer w.Close()
	for tick := uint64(1); tick <= 3; tick++ {
		w.Step(tick, testStep)
	}
	snap := monitor.Snapshot()
	for _, phase := range []simulation.StepPhase{
		simulation.PhaseRequests,
		simulation.PhaseContinuations,
		simulation.PhaseActors,
		simulation.PhaseProjectiles,
		simulation.PhaseHeal,
		simulation.PhaseReplication,
	} {
		if got := snap.Phases[phase].Samples; got != 3 {
			t.Fatalf("expected three %s samples, got %d", phase, got)
		}
	}
	w.Restart()
	if len(monitor.Snapshot().Phases) != 0 {
		t.Fatalf("restart should start a fresh profile")
	}
}

func TestHealVolumeHealsOncePerOpening(t *testing.T) {
	cfg := Config{
		Heal:       match.HazardConfig{Cooldown: time.Second, Countdown: 2, DropDuration: time.Second},
		HealAmount: 20,
	}
	h := newHarness(t, cfg)
	inside := h.join("a", combat.TeamA, "Bullet", "Blink")
	outside := h.join("b", combat.TeamB, "Bullet", "Blink")
	h.start()
	h.place(inside, physics.Vec3{})
	h.wound(inside, 30)
	h.wound(outside, 30)

	h.step(62)
	if h.health(inside) != 90 {
		t.Fatalf("expected one heal inside the volume, got %d", h.health(inside))
	}
	h.step(13)
	if h.health(inside) != 90 {
		t.Fatalf("expected a single heal per opening, got %d", h.health(inside))
	}
	if h.health(outside) != 70 {
		t.Fatalf("actor outside the volume was healed")
	}
	var countdown []int
	for _, msg := range h.of(KindHealCountdown) {
		countdown = append(countdown, msg.Value)
	}
	if fmt.Sprint(countdown) != "[2 1 0]" {
		t.Fatalf("unexpected countdown %v", countdown)
	}
}

func TestJoinBalancesTeamsAndReconnects(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	first := h.join("a", combat.TeamNone, "", "")
	h.join("b", combat.TeamNone, "", "")
	again := h.join("a", combat.TeamNone, "", "")
	if again != first {
		t.Fatalf("reconnect must keep the handle, got %s want %s", again, first)
	}
	snapshot := h.w.MatchSnapshot()
	pa, _ := snapshot.Player("a")
	pb, _ := snapshot.Player("b")
	if pa.Team != combat.TeamA || pb.Team != combat.TeamB {
		t.Fatalf("expected one player per team, got %s and %s", pa.Team, pb.Team)
	}
	if pa.Projectile != tuning.DefaultProjectile || pa.Ability != tuning.DefaultAbility {
		t.Fatalf("expected default selections, got %+v", pa)
	}

	h.w.Leave("b")
	h.step(1)
	if _, ok := h.w.ActorID("b"); ok {
		t.Fatalf("left player still has an actor")
	}
	if h.w.Stats().Actors != 1 {
		t.Fatalf("expected one actor after leave")
	}
}

func TestSelectReequipsInLobby(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	a := h.join("a", combat.TeamA, "Bullet", "Blink")
	h.msgs = nil

	h.submit(a, Message{Kind: KindSelect, Variant: "Mortar", Ability: "Parry"})
	h.step(1)

	equipped := h.of(KindAbilityEquipped)
	if len(equipped) != 1 || equipped[0].Variant != "Mortar" || equipped[0].Ability != "Parry" {
		t.Fatalf("unexpected equip broadcast %+v", equipped)
	}
}

func TestTuningAppliesOnNextStep(t *testing.T) {
	h := newHarness(t, Config{Heal: quietHeal()})
	a := h.join("a", combat.TeamA, "Bullet", "Blink")
	player := tuning.Baked().Player
	player.MoveSpeed = 12
	if _, err := h.panel.Apply(tuning.Patch{Player: &player}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(h.of(KindTuningChanged)) != 0 {
		t.Fatalf("tuning must wait for the next step")
	}
	h.step(1)
	if len(h.of(KindTuningChanged)) != 1 {
		t.Fatalf("expected a tuning broadcast")
	}
	h.w.mu.Lock()
	actor, _ := h.w.actors.Get(a)
	speed := actor.moveSpeed
	h.w.mu.Unlock()
	if speed != 12 {
		t.Fatalf("expected move speed 12, got %v", speed)
	}
}

func TestFrameSinkSeesEvents(t *testing.T) {
	var frames []state.TickDiff
	panel := tuning.NewPanel(tuning.Baked())
	w, err := NewWorld(panel, Config{Heal: quietHeal()}, WithFrameSink(func(diff state.TickDiff) {
		frames = append(frames, diff)
	}))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	defer w.Close()
	if _, err := w.Join(match.Player{ID: "a", Team: combat.TeamA}); err != nil {
		t.Fatalf("join: %v", err)
	}
	w.Step(1, testStep)
	if len(frames) != 1 || len(frames[0].Events.Events) == 0 || len(frames[0].Actors.Updated) != 1 {
		t.Fatalf("expected the first frame to carry the join, got %+v", frames)
	}
}
