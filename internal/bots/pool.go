package bots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/tuning"
)

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger routes pool logs through logger.
func WithPoolLogger(logger *logging.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.log = logger
		}
	}
}

// WithBrainConfig sets the pacing every spawned brain uses. Seeds are offset per bot.
func WithBrainConfig(cfg BrainConfig) PoolOption {
	return func(p *Pool) { p.brain = cfg }
}

// WithStepInterval sets how often each brain thinks.
func WithStepInterval(interval time.Duration) PoolOption {
	return func(p *Pool) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

type runningBot struct {
	player      string
	brain       *Brain
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

// Pool is the in-process Launcher: every bot is an actor in the local world driven by a
// Brain over an InProcessLink.
type Pool struct {
	mu       sync.Mutex
	world    *arena.World
	panel    *tuning.Panel
	log      *logging.Logger
	brain    BrainConfig
	interval time.Duration
	bots     []*runningBot
	serial   int
	root     context.Context
	stop     context.CancelFunc
}

// NewPool builds a launcher over world. Brains read the effective catalog of panel at spawn.
func NewPool(world *arena.World, panel *tuning.Panel, opts ...PoolOption) *Pool {
	root, stop := context.WithCancel(context.Background())
	p := &Pool{
		world:    world,
		panel:    panel,
		log:      logging.L(),
		interval: 100 * time.Millisecond,
		root:     root,
		stop:     stop,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.log = p.log.Named("bot_pool")
	return p
}

// Scale spawns or retires bots until target are running. A full lobby ends the scale-up
// early; the confirmed count is returned either way.
func (p *Pool) Scale(ctx context.Context, target int) (int, error) {
	if p == nil || p.world == nil {
		return 0, errors.New("pool is not initialised")
	}
	if target < 0 {
		return 0, errors.New("target must be non-negative")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.bots) > target {
		p.retireLocked()
	}
	for len(p.bots) < target {
		if err := ctx.Err(); err != nil {
			return len(p.bots), err
		}
		if err := p.spawnLocked(); err != nil {
			if errors.Is(err, match.ErrMatchFull) {
				return len(p.bots), nil
			}
			return len(p.bots), err
		}
	}
	return len(p.bots), nil
}

// Running lists the player ids of live bots.
func (p *Pool) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.bots))
	for _, bot := range p.bots {
		ids = append(ids, bot.player)
	}
	return ids
}

// Close retires every bot.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.bots) > 0 {
		p.retireLocked()
	}
	p.stop()
}

func (p *Pool) spawnLocked() error {
	p.serial++
	player := match.Player{
		ID:   fmt.Sprintf("bot-%d", p.serial),
		Name: fmt.Sprintf("Bot %d", p.serial),
		Bot:  true,
	}
	handle, err := p.world.Join(player)
	if err != nil {
		return err
	}
	entry, _ := p.world.MatchSnapshot().Player(player.ID)
	//1.- Every bot owns its pacing seed so two bots never mirror each other.
	cfg := p.brain
	cfg.Seed += int64(p.serial)
	brain := NewBrain(
		arena.NewInProcessLink(p.world, handle),
		handle.String(),
		entry.Team,
		p.panel.Catalog(),
		cfg,
		arena.WithSelection(entry.Projectile, entry.Ability),
		arena.WithClientLogger(p.log),
	)
	ctx, cancel := context.WithCancel(p.root)
	bot := &runningBot{
		player:      player.ID,
		brain:       brain,
		cancel:      cancel,
		done:        make(chan struct{}),
		unsubscribe: p.world.Subscribe(brain.Observe),
	}
	//2.- Seed the lobby state the bot missed while joining.
	brain.Observe(arena.Message{Kind: arena.KindMatchState, Match: ptr(p.world.MatchSnapshot())})
	go func() {
		defer close(bot.done)
		brain.Run(ctx, p.interval)
	}()
	p.bots = append(p.bots, bot)
	p.log.Info("bot spawned", logging.String("player", player.ID), logging.String("actor", handle.String()), logging.String("team", entry.Team.String()))
	return nil
}

func (p *Pool) retireLocked() {
	last := len(p.bots) - 1
	bot := p.bots[last]
	p.bots = p.bots[:last]
	bot.cancel()
	<-bot.done
	bot.unsubscribe()
	p.world.Leave(bot.player)
	p.log.Info("bot retired", logging.String("player", bot.player))
}

func ptr[T any](value T) *T { return &value }
