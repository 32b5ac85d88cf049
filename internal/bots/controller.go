package bots

import (
	"context"
	"errors"
	"sync"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/logging"
)

// Launcher orchestrates the bot worker pool.
type Launcher interface {
	// Scale adjusts the number of active bots and returns the confirmed population.
	Scale(ctx context.Context, target int) (int, error)
}

// Snapshot exposes the observed participant counts for metrics export.
type Snapshot struct {
	Humans int `json:"humans"`
	Bots   int `json:"bots"`
	Target int `json:"target"`
}

// ControllerConfig configures the bot population controller.
type ControllerConfig struct {
	TargetPopulation int
	Launcher         Launcher
	Logger           *logging.Logger
}

// Controller keeps the lobby topped up with bots so humans plus bots reach the target
// population. It learns the human count from match_state broadcasts.
type Controller struct {
	mu sync.Mutex

	humans   int
	bots     int
	target   int
	launcher Launcher
	log      *logging.Logger
	kick     chan struct{}
}

// NewController constructs a population controller with the supplied configuration.
func NewController(cfg ControllerConfig) *Controller {
	controller := &Controller{kick: make(chan struct{}, 1)}
	//1.- Record the reconciler target and launcher.
	controller.launcher = cfg.Launcher
	if cfg.TargetPopulation > 0 {
		controller.target = cfg.TargetPopulation
	}
	controller.log = cfg.Logger
	if controller.log == nil {
		controller.log = logging.L()
	}
	controller.log = controller.log.Named("bots")
	return controller
}

// SetTargetPopulation updates the desired total number of participants and reconciles bots.
func (c *Controller) SetTargetPopulation(ctx context.Context, population int) error {
	if c == nil {
		return errors.New("controller is nil")
	}
	if population < 0 {
		return errors.New("population must be non-negative")
	}
	c.mu.Lock()
	c.target = population
	targetBots := c.desiredBotsLocked()
	c.mu.Unlock()
	return c.reconcile(ctx, targetBots)
}

// Observe counts the humans listed in lobby broadcasts. It runs inside the world step, so it
// only records the count and wakes Run.
func (c *Controller) Observe(msg arena.Message) {
	if c == nil || msg.Kind != arena.KindMatchState || msg.Match == nil {
		return
	}
	humans := 0
	for _, player := range msg.Match.Players {
		if !player.Bot {
			humans++
		}
	}
	c.mu.Lock()
	changed := humans != c.humans
	c.humans = humans
	c.mu.Unlock()
	if changed {
		c.wake()
	}
}

func (c *Controller) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run reconciles once immediately and again whenever the human count changes, until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if c == nil {
		return errors.New("controller is nil")
	}
	c.wake()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.kick:
			c.mu.Lock()
			targetBots := c.desiredBotsLocked()
			c.mu.Unlock()
			if err := c.reconcile(ctx, targetBots); err != nil {
				c.log.Warn("bot reconcile failed", logging.Error(err), logging.Int("target", targetBots))
			}
		}
	}
}

// Snapshot returns the most recent human and bot counts without mutating state.
func (c *Controller) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Humans: c.humans, Bots: c.bots, Target: c.target}
}

func (c *Controller) desiredBotsLocked() int {
	desired := c.target - c.humans
	if desired < 0 {
		desired = 0
	}
	return desired
}

func (c *Controller) reconcile(ctx context.Context, target int) error {
	if target < 0 {
		target = 0
	}
	var (
		confirmed int
		err       error
	)
	if c.launcher != nil {
		//1.- Ask the launcher to adjust the bot pool and capture the confirmed count.
		confirmed, err = c.launcher.Scale(ctx, target)
	} else {
		confirmed = target
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	//2.- Persist the reconciled bot population so metrics match launcher state.
	previous := c.bots
	c.bots = confirmed
	c.mu.Unlock()
	if previous != confirmed {
		c.log.Info("bot population reconciled", logging.Int("bots", confirmed), logging.Int("requested", target))
	}
	return nil
}
