package bots

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/tuning"
)

// BrainConfig paces a bot's decisions.
type BrainConfig struct {
	MoveEvery time.Duration
	FireEvery time.Duration
	CastEvery time.Duration
	// Jitter is the largest random delay added to each interval.
	Jitter time.Duration
	Seed   int64
}

func (c BrainConfig) withDefaults() BrainConfig {
	if c.MoveEvery <= 0 {
		c.MoveEvery = 2 * time.Second
	}
	if c.FireEvery <= 0 {
		c.FireEvery = 1500 * time.Millisecond
	}
	if c.CastEvery <= 0 {
		c.CastEvery = 6 * time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Brain drives one bot actor through the same client protocol a human uses: it wanders its
// half of the arena, fires at the opposing spawn and casts whenever the ability is ready.
type Brain struct {
	cfg     BrainConfig
	link    arena.Link
	client  *arena.Client
	actor   string
	team    combat.Team
	catalog tuning.Catalog
	rng     *rand.Rand
	log     *logging.Logger

	playing  atomic.Bool
	position physics.Vec3
	elapsed  time.Duration
	nextMove time.Duration
	nextFire time.Duration
	nextCast time.Duration
}

// NewBrain builds a brain for actor on team speaking through link.
func NewBrain(link arena.Link, actor string, team combat.Team, catalog tuning.Catalog, cfg BrainConfig, opts ...arena.ClientOption) *Brain {
	cfg = cfg.withDefaults()
	b := &Brain{
		cfg:     cfg,
		link:    link,
		client:  arena.NewClient(link, actor, team, catalog, opts...),
		actor:   actor,
		team:    team,
		catalog: catalog,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		log:     logging.L().Named("bot").With(logging.String("actor", actor)),
	}
	b.position = b.spawn()
	return b
}

// Client exposes the protocol client the brain drives.
func (b *Brain) Client() *arena.Client { return b.client }

// Observe mirrors one broadcast. It is safe to call from the world step.
func (b *Brain) Observe(msg arena.Message) {
	if msg.Kind == arena.KindMatchState && msg.Match != nil {
		b.playing.Store(msg.Match.State == match.StateInProgress)
	}
	b.client.Receive(msg)
}

// Playing reports whether the brain believes the match is running.
func (b *Brain) Playing() bool { return b.playing.Load() }

// Step advances the brain by dt and issues whatever requests are due.
func (b *Brain) Step(ctx context.Context, dt time.Duration) {
	b.client.Tick(ctx, dt)
	b.elapsed += dt
	if !b.playing.Load() {
		return
	}
	if over, _ := b.client.Outcome(); over {
		return
	}
	//1.- Wander first so shots leave from the new position.
	if b.elapsed >= b.nextMove {
		b.wander(ctx)
		b.nextMove = b.elapsed + b.interval(b.cfg.MoveEvery)
	}
	direction := b.enemySpawn().Sub(b.position).Flat().NormalizeOr(b.forward())
	aim := physics.Ray{Origin: b.position, Direction: direction}
	if b.elapsed >= b.nextFire {
		if b.client.Fire(ctx, direction, aim) {
			b.nextFire = b.elapsed + b.interval(b.cfg.FireEvery)
		}
	}
	if b.elapsed >= b.nextCast {
		if b.client.Cast(ctx, aim) {
			b.nextCast = b.elapsed + b.interval(b.cfg.CastEvery)
		}
	}
}

// Run steps the brain on a wall clock ticker until ctx is cancelled.
func (b *Brain) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Step(ctx, interval)
		}
	}
}

func (b *Brain) wander(ctx context.Context) {
	area := b.area()
	destination := physics.Vec3{
		X: area.MinX + b.rng.Float64()*(area.MaxX-area.MinX),
		Z: area.MinZ + b.rng.Float64()*(area.MaxZ-area.MinZ),
	}
	if err := b.link.Send(ctx, arena.Message{Kind: arena.KindMove, Actor: b.actor, Position: &destination}); err != nil {
		b.log.Debug("move request failed", logging.Error(err))
		return
	}
	b.position = destination
}

func (b *Brain) interval(base time.Duration) time.Duration {
	if b.cfg.Jitter <= 0 {
		return base
	}
	return base + time.Duration(b.rng.Int63n(int64(b.cfg.Jitter)+1))
}

func (b *Brain) area() physics.NavArea {
	if b.team == combat.TeamB {
		return b.catalog.Arena.TeamB
	}
	return b.catalog.Arena.TeamA
}

func (b *Brain) spawn() physics.Vec3 {
	if b.team == combat.TeamB {
		return b.catalog.Arena.SpawnB
	}
	return b.catalog.Arena.SpawnA
}

func (b *Brain) enemySpawn() physics.Vec3 {
	if b.team == combat.TeamB {
		return b.catalog.Arena.SpawnA
	}
	return b.catalog.Arena.SpawnB
}

func (b *Brain) forward() physics.Vec3 {
	if b.team == combat.TeamB {
		return physics.Vec3{Z: -1}
	}
	return physics.Vec3{Z: 1}
}
