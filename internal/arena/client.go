package arena

import (
	"context"
	"math"
	"sync"
	"time"

	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/events"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/motion"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/simulation"
	"arenaclash/server/internal/state"
	"arenaclash/server/internal/tuning"
)

// cooldownRefresh is how often a running cooldown republishes its bar.
const cooldownRefresh = 100 * time.Millisecond

// steerEpsilon suppresses steer requests that would not move the heading.
const steerEpsilon = 1e-6

// CooldownView is one cooldown bar update for presentation.
type CooldownView struct {
	Slot      string
	Remaining time.Duration
	Max       time.Duration
	Ready     bool
}

// mirror is the client's copy of one replicated projectile.
type mirror struct {
	id       string
	owner    string
	variant  string
	position physics.Vec3
	lateral  float64
}

// Client is the initiator side of the request protocol for one actor. It gates requests on
// local cooldowns, runs the fire channel and mirrors the broadcasts it receives. Fire, Cast
// and Tick belong to one driving goroutine; Receive may be called from another.
type Client struct {
	mu sync.Mutex

	link    Link
	self    string
	team    combat.Team
	catalog tuning.Catalog
	log     *logging.Logger

	sched       *simulation.Scheduler
	shot        *combat.Cooldown
	cast        *combat.Cooldown
	variant     string
	ability     string
	pendingShot bool
	refresh     map[string]*simulation.Task
	ui          *events.Bus[CooldownView]

	replicas    map[string]*combat.Target
	teams       map[string]combat.Team
	alpha       map[string]float64
	projectiles map[string]*mirror
	aim         physics.Vec3
	hasAim      bool
	over        bool
	winner      combat.Team
}

// ClientOption configures optional Client behaviour.
type ClientOption func(*Client)

// WithClientLogger routes client logs through logger.
func WithClientLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithSelection seeds the selected projectile and ability names.
func WithSelection(projectile, ability string) ClientOption {
	return func(c *Client) {
		c.variant = projectile
		c.ability = ability
	}
}

// NewClient builds the initiator for actor self on team.
func NewClient(link Link, self string, team combat.Team, catalog tuning.Catalog, opts ...ClientOption) *Client {
	c := &Client{
		link:        link,
		self:        self,
		team:        team,
		catalog:     catalog,
		log:         logging.L(),
		sched:       simulation.NewScheduler(),
		refresh:     make(map[string]*simulation.Task),
		ui:          events.NewBus[CooldownView](),
		replicas:    make(map[string]*combat.Target),
		teams:       make(map[string]combat.Team),
		alpha:       make(map[string]float64),
		projectiles: make(map[string]*mirror),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = c.log.Named("client").With(logging.String("actor", self))
	c.variant = catalog.ResolveProjectile(c.variant)
	c.ability = catalog.ResolveAbility(c.ability)
	c.shot = combat.NewCooldown(c.shotMax())
	c.cast = combat.NewCooldown(c.castMax())
	return c
}

// ID returns the actor id the client speaks for.
func (c *Client) ID() string { return c.self }

// OnCooldown registers a presentation listener for cooldown bars.
func (c *Client) OnCooldown(listener func(CooldownView)) (unsubscribe func()) {
	return c.ui.Subscribe(listener)
}

// SetAim records the point homing projectiles are steered toward.
func (c *Client) SetAim(point physics.Vec3) {
	c.mu.Lock()
	c.aim = point
	c.hasAim = true
	c.mu.Unlock()
}

// Fire starts the fire sequence. It returns false without sending anything when the shot
// cooldown is running or a channel is already in progress.
func (c *Client) Fire(ctx context.Context, direction physics.Vec3, aim physics.Ray) bool {
	c.mu.Lock()
	if c.over || c.pendingShot || !c.shot.IsReady() {
		c.mu.Unlock()
		return false
	}
	c.pendingShot = true
	channel := c.catalog.Player.Channel()
	variant := c.variant
	c.mu.Unlock()

	//1.- Turn toward the target first so opponents see the windup.
	dir := direction
	if err := c.link.Send(ctx, Message{Kind: KindFace, Actor: c.self, Direction: &dir}); err != nil {
		c.log.Debug("face request failed", logging.Error(err))
	}
	//2.- After the channel, send the spawn and consume only when the send succeeded.
	c.sched.After(channel, func() {
		dir := direction
		ray := aim
		err := c.link.Send(ctx, Message{Kind: KindSpawnProjectile, Actor: c.self, Variant: variant, Direction: &dir, Aim: &ray})
		c.mu.Lock()
		c.pendingShot = false
		c.mu.Unlock()
		if err != nil {
			c.log.Warn("spawn request failed", logging.Error(err))
			return
		}
		c.shot.Consume(c.shot.Max())
		c.startRefresh(SlotProjectile, c.shot)
	})
	return true
}

// Cast sends an ability request when the ability cooldown allows it.
func (c *Client) Cast(ctx context.Context, aim physics.Ray) bool {
	c.mu.Lock()
	if c.over || !c.cast.IsReady() {
		c.mu.Unlock()
		return false
	}
	name := c.ability
	c.mu.Unlock()
	ray := aim
	if err := c.link.Send(ctx, Message{Kind: KindUseAbility, Actor: c.self, Ability: name, Aim: &ray}); err != nil {
		c.log.Warn("ability request failed", logging.Error(err))
		return false
	}
	c.cast.Consume(c.cast.Max())
	c.startRefresh(SlotAbility, c.cast)
	return true
}

// Select asks the authority to change the loadout. The local bars follow once the
// authority confirms it through ability_equipped.
func (c *Client) Select(ctx context.Context, projectile, ability string) error {
	return c.link.Send(ctx, Message{Kind: KindSelect, Actor: c.self, Variant: projectile, Ability: ability})
}

// Tick advances local time by dt: cooldowns, the fire channel, then homing correction.
func (c *Client) Tick(ctx context.Context, dt time.Duration) {
	c.shot.Tick(dt)
	c.cast.Tick(dt)
	c.sched.Advance(dt)
	for _, steer := range c.homingSteers() {
		if err := c.link.Send(ctx, steer); err != nil {
			c.log.Debug("steer request failed", logging.Error(err))
		}
	}
}

func (c *Client) homingSteers() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasAim {
		return nil
	}
	var steers []Message
	for _, m := range c.projectiles {
		if m.owner != c.self {
			continue
		}
		spec, ok := c.catalog.Projectile(m.variant)
		if !ok || spec.MotionKind() != motion.KindHoming {
			continue
		}
		next := motion.HomingNudge(m.lateral, c.aim.X, spec.MotionParams().Homing.TurnSensitivity)
		if math.Abs(next-m.lateral) < steerEpsilon {
			continue
		}
		m.lateral = next
		steers = append(steers, Message{Kind: KindSteer, Actor: c.self, Target: m.id, Lateral: next})
	}
	return steers
}

func (c *Client) startRefresh(slot string, cd *combat.Cooldown) {
	c.mu.Lock()
	if task := c.refresh[slot]; task != nil {
		task.Cancel()
	}
	var task *simulation.Task
	task = c.sched.Every(cooldownRefresh, func() {
		c.publishCooldown(slot, cd)
		if cd.IsReady() {
			task.Cancel()
		}
	})
	c.refresh[slot] = task
	c.mu.Unlock()
	c.publishCooldown(slot, cd)
}

func (c *Client) publishCooldown(slot string, cd *combat.Cooldown) {
	c.ui.Publish(CooldownView{Slot: slot, Remaining: cd.Remaining(), Max: cd.Max(), Ready: cd.IsReady()})
}

// Receive applies one broadcast from the authority.
func (c *Client) Receive(msg Message) {
	switch msg.Kind {
	case KindHealthChanged:
		c.mirrorHealth(msg.Actor, msg.Value, msg.Max)
	case KindCooldownAdjust:
		if msg.Actor != c.self {
			return
		}
		cd := c.shot
		if msg.Slot == SlotAbility {
			cd = c.cast
		}
		if msg.Mode == AdjustReset {
			cd.Reset()
		} else {
			cd.Reduce(time.Duration(math.Round(msg.Seconds * float64(time.Second))))
		}
		c.publishCooldown(msg.Slot, cd)
	case KindProjectileSpawned:
		m := &mirror{id: msg.Target, owner: msg.Actor, variant: msg.Variant}
		if msg.Position != nil {
			m.position = *msg.Position
		}
		if msg.Direction != nil {
			m.lateral = msg.Direction.X
		}
		c.mu.Lock()
		c.projectiles[m.id] = m
		c.mu.Unlock()
	case KindProjectileSteered:
		c.mu.Lock()
		if m, ok := c.projectiles[msg.Target]; ok {
			m.lateral = msg.Lateral
		}
		c.mu.Unlock()
	case KindProjectileDespawned:
		c.mu.Lock()
		delete(c.projectiles, msg.Target)
		c.mu.Unlock()
	case KindTickDiff:
		if msg.Diff != nil {
			c.applyDiff(*msg.Diff)
		}
	case KindVisibilityChanged:
		if msg.Visibility != nil {
			c.mu.Lock()
			c.alpha[msg.Actor] = msg.Visibility.AlphaFor(c.team)
			c.mu.Unlock()
		}
	case KindAbilityEquipped:
		if msg.Actor != c.self {
			return
		}
		c.mu.Lock()
		c.variant = msg.Variant
		c.ability = msg.Ability
		c.mu.Unlock()
		c.shot.SetMax(c.shotMax())
		c.cast.SetMax(c.castMax())
	case KindMatchOver:
		team, _ := combat.ParseTeam(msg.Winner)
		c.mu.Lock()
		c.over = true
		c.winner = team
		c.mu.Unlock()
	case KindMatchState:
		if msg.Match == nil {
			return
		}
		c.applyMatch(*msg.Match)
	case KindTuningChanged:
		if msg.Tuning == nil {
			return
		}
		c.mu.Lock()
		c.catalog = msg.Tuning.Catalog
		c.mu.Unlock()
		c.shot.SetMax(c.shotMax())
		c.cast.SetMax(c.castMax())
	}
}

func (c *Client) applyMatch(snapshot match.Snapshot) {
	c.mu.Lock()
	c.over = snapshot.State == match.StateOver
	c.winner = snapshot.Winner
	c.mu.Unlock()
	//1.- A fresh lobby or a new match starts every bar ready.
	if snapshot.State != match.StateOver {
		c.shot.Reset()
		c.cast.Reset()
	}
}

func (c *Client) applyDiff(diff state.TickDiff) {
	for _, actor := range diff.Actors.Updated {
		if actor == nil {
			continue
		}
		team, _ := combat.ParseTeam(actor.Team)
		c.mu.Lock()
		c.teams[actor.ID] = team
		c.mu.Unlock()
		c.mirrorHealth(actor.ID, actor.Health, actor.MaxHealth)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range diff.Actors.Removed {
		delete(c.replicas, id)
		delete(c.teams, id)
		delete(c.alpha, id)
	}
	for _, p := range diff.Projectiles.Updated {
		if p == nil {
			continue
		}
		m, ok := c.projectiles[p.ID]
		if !ok {
			m = &mirror{id: p.ID, owner: p.Owner, variant: p.Variant, lateral: p.Heading.X}
			c.projectiles[p.ID] = m
		}
		m.position = p.Position
	}
	for _, id := range diff.Projectiles.Removed {
		delete(c.projectiles, id)
	}
}

func (c *Client) mirrorHealth(id string, current, max int) {
	if id == "" {
		return
	}
	c.mu.Lock()
	target, ok := c.replicas[id]
	if !ok {
		target = combat.NewReplicaTarget(c.teams[id], max)
		c.replicas[id] = target
	}
	c.mu.Unlock()
	target.SetReplicated(current)
}

// Health returns the mirrored health of actor id.
func (c *Client) Health(id string) (current, max int, ok bool) {
	c.mu.Lock()
	target, ok := c.replicas[id]
	c.mu.Unlock()
	if !ok {
		return 0, 0, false
	}
	current, max = target.Health()
	return current, max, true
}

// Alpha returns how opaque actor id looks from this client's team.
func (c *Client) Alpha(id string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if alpha, ok := c.alpha[id]; ok {
		return alpha
	}
	return 1
}

// ShotCooldown exposes the local projectile bar.
func (c *Client) ShotCooldown() *combat.Cooldown { return c.shot }

// AbilityCooldown exposes the local ability bar.
func (c *Client) AbilityCooldown() *combat.Cooldown { return c.cast }

// Outcome reports whether the mirrored match is over and who won.
func (c *Client) Outcome() (over bool, winner combat.Team) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.over, c.winner
}

// Projectiles returns the ids of every mirrored projectile.
func (c *Client) Projectiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.projectiles))
	for id := range c.projectiles {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) shotMax() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	spec, _ := c.catalog.Projectile(c.variant)
	return spec.Cooldown()
}

func (c *Client) castMax() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	spec, _ := c.catalog.Ability(c.ability)
	return spec.Cooldown()
}
