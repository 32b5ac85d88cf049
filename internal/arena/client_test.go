package arena_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/arena/mocks"
	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/tuning"
)

type kindMatcher arena.Kind

func (k kindMatcher) Matches(x any) bool {
	msg, ok := x.(arena.Message)
	return ok && msg.Kind == arena.Kind(k)
}

func (k kindMatcher) String() string { return fmt.Sprintf("message of kind %s", string(k)) }

func ofKind(kind arena.Kind) gomock.Matcher { return kindMatcher(kind) }

const tick = 100 * time.Millisecond

func TestClientFireChannelsThenConsumes(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockLink(ctrl)
	ctx := context.Background()

	gomock.InOrder(
		link.EXPECT().Send(gomock.Any(), ofKind(arena.KindFace)).Return(nil),
		link.EXPECT().Send(gomock.Any(), ofKind(arena.KindSpawnProjectile)).Return(nil),
	)

	client := arena.NewClient(link, "1.1", combat.TeamA, tuning.Baked(), arena.WithSelection("Bullet", "Blink"))
	aim := physics.Ray{Direction: physics.Vec3{Z: 1}}
	if !client.Fire(ctx, physics.Vec3{Z: 1}, aim) {
		t.Fatalf("expected the first shot to start")
	}
	//1.- The channel holds the request back for 0.3s and keeps the bar ready.
	client.Tick(ctx, tick)
	client.Tick(ctx, tick)
	if !client.ShotCooldown().IsReady() {
		t.Fatalf("cooldown consumed before the spawn was sent")
	}
	if client.Fire(ctx, physics.Vec3{Z: 1}, aim) {
		t.Fatalf("a second shot during the channel must be dropped")
	}
	client.Tick(ctx, tick)
	if client.ShotCooldown().Remaining() != 4*time.Second {
		t.Fatalf("expected a full 4s cooldown after the spawn, got %s", client.ShotCooldown().Remaining())
	}
	//2.- At t=2s the gate drops the attempt without sending anything.
	for i := 0; i < 17; i++ {
		client.Tick(ctx, tick)
	}
	if client.Fire(ctx, physics.Vec3{Z: 1}, aim) {
		t.Fatalf("shot at t=2s must be gated locally")
	}
	//3.- The bar is ready again at t=4.3s.
	for i := 0; i < 22; i++ {
		client.Tick(ctx, tick)
	}
	if client.ShotCooldown().IsReady() {
		t.Fatalf("cooldown ready too early")
	}
	client.Tick(ctx, tick)
	if !client.ShotCooldown().IsReady() {
		t.Fatalf("expected the cooldown to be ready at 4.3s, remaining %s", client.ShotCooldown().Remaining())
	}
}

func TestClientKeepsCooldownWhenSendFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockLink(ctrl)
	ctx := context.Background()

	link.EXPECT().Send(gomock.Any(), ofKind(arena.KindUseAbility)).Return(errors.New("link down"))

	client := arena.NewClient(link, "1.1", combat.TeamA, tuning.Baked())
	if client.Cast(ctx, physics.Ray{Direction: physics.Vec3{Z: 1}}) {
		t.Fatalf("cast must report failure when the request was not sent")
	}
	if !client.AbilityCooldown().IsReady() {
		t.Fatalf("a failed send must not consume the ability cooldown")
	}
}

func TestClientMirrorsAuthorityAdjustments(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockLink(ctrl)
	ctx := context.Background()
	link.EXPECT().Send(gomock.Any(), ofKind(arena.KindUseAbility)).Return(nil)

	client := arena.NewClient(link, "1.1", combat.TeamA, tuning.Baked())
	if !client.Cast(ctx, physics.Ray{Direction: physics.Vec3{Z: 1}}) {
		t.Fatalf("expected the cast to be sent")
	}
	client.Receive(arena.Message{Kind: arena.KindCooldownAdjust, Actor: "2.1", Slot: arena.SlotAbility, Mode: arena.AdjustReset})
	if client.AbilityCooldown().IsReady() {
		t.Fatalf("adjustments for another actor must be ignored")
	}
	client.Receive(arena.Message{Kind: arena.KindCooldownAdjust, Actor: "1.1", Slot: arena.SlotAbility, Mode: arena.AdjustReduce, Seconds: 5})
	if got := client.AbilityCooldown().Remaining(); got != 20*time.Second {
		t.Fatalf("expected 20s left after the refund, got %s", got)
	}

	client.Receive(arena.Message{Kind: arena.KindHealthChanged, Actor: "2.1", Value: 40, Max: 100})
	if current, max, ok := client.Health("2.1"); !ok || current != 40 || max != 100 {
		t.Fatalf("unexpected mirrored health %d/%d", current, max)
	}

	client.Receive(arena.Message{Kind: arena.KindMatchOver, Winner: "B"})
	if over, winner := client.Outcome(); !over || winner != combat.TeamB {
		t.Fatalf("expected a mirrored win for B")
	}
	if client.Fire(ctx, physics.Vec3{Z: 1}, physics.Ray{}) {
		t.Fatalf("no shots once the match is over")
	}
}

func TestClientAgainstInProcessWorld(t *testing.T) {
	ctx := context.Background()
	panel := tuning.NewPanel(tuning.Baked())
	world, err := arena.NewWorld(panel, arena.Config{
		ServerCooldowns: true,
		CooldownGrace:   arena.DefaultCooldownGrace,
		Heal:            match.HazardConfig{Cooldown: time.Hour, Countdown: 3, DropDuration: time.Second},
	})
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	defer world.Close()

	shooterHandle, err := world.Join(match.Player{ID: "alice", Team: combat.TeamA, Projectile: "Bullet"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	victimHandle, err := world.Join(match.Player{ID: "bob", Team: combat.TeamB})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := world.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	shooter := arena.NewClient(arena.NewInProcessLink(world, shooterHandle), shooterHandle.String(), combat.TeamA, panel.Catalog(), arena.WithSelection("Bullet", ""))
	world.Subscribe(shooter.Receive)

	//1.- Spawns sit 40 units apart and a bullet only travels 20, so both walk to the midline.
	for handle, z := range map[string]float64{"alice": -3, "bob": 3} {
		h := shooterHandle
		if handle == "bob" {
			h = victimHandle
		}
		destination := physics.Vec3{Z: z}
		if err := world.Submit(h, arena.Message{Kind: arena.KindMove, Position: &destination}); err != nil {
			t.Fatalf("submit move: %v", err)
		}
	}
	var tickID uint64
	advance := func(n int) {
		for i := 0; i < n; i++ {
			tickID++
			shooter.Tick(ctx, 50*time.Millisecond)
			world.Step(tickID, 50*time.Millisecond)
		}
	}
	advance(40)

	if !shooter.Fire(ctx, physics.Vec3{Z: 1}, physics.Ray{Direction: physics.Vec3{Z: 1}}) {
		t.Fatalf("expected the shot to start")
	}
	advance(40)

	if current, _, ok := shooter.Health(victimHandle.String()); !ok || current != 90 {
		t.Fatalf("expected the mirrored victim health to be 90, got %d (known %v)", current, ok)
	}
	if shooter.ShotCooldown().IsReady() {
		t.Fatalf("expected the local cooldown to be running after the shot")
	}
}
