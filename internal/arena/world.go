package arena

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"arenaclash/server/internal/ability"
	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/events"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/simulation"
	"arenaclash/server/internal/state"
	"arenaclash/server/internal/tuning"
)

// DefaultCooldownGrace absorbs the gap between a client consuming its cooldown and the
// authority accepting the request that consumed it.
const DefaultCooldownGrace = 150 * time.Millisecond

// ErrWorldClosed is returned by operations on a closed world.
var ErrWorldClosed = errors.New("world closed")

// Config tunes the authority.
type Config struct {
	// ServerCooldowns re-validates every spawn and ability request against a server ledger.
	ServerCooldowns bool
	CooldownGrace   time.Duration
	// ProjectileClash destroys projectiles that overlap each other and resets both shooters.
	ProjectileClash bool
	// AutoStart begins the match once both teams have at least one player.
	AutoStart  bool
	Heal       match.HazardConfig
	HealAmount int
}

// Stats is a point in time view used by the ops endpoints.
type Stats struct {
	Tick        uint64      `json:"tick"`
	Actors      int         `json:"actors"`
	Projectiles int         `json:"projectiles"`
	Broadcasts  uint64      `json:"broadcasts"`
	Rejections  uint64      `json:"rejections"`
	State       match.State `json:"state"`
	HealOpen    bool        `json:"heal_open"`
}

// Option configures optional World behaviour.
type Option func(*World)

// WithLogger routes world logs through logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *World) {
		if logger != nil {
			w.log = logger
		}
	}
}

// WithStream publishes combat and lifecycle telemetry to stream.
func WithStream(stream *events.Stream) Option {
	return func(w *World) { w.stream = stream }
}

// WithSession supplies the lobby roster.
func WithSession(session *match.Session) Option {
	return func(w *World) {
		if session != nil {
			w.session = session
		}
	}
}

// WithIDGenerator overrides projectile identifiers.
func WithIDGenerator(gen func() string) Option {
	return func(w *World) {
		if gen != nil {
			w.newID = gen
		}
	}
}

// WithClock overrides the wall clock stamped on telemetry.
func WithClock(clock func() time.Time) Option {
	return func(w *World) {
		if clock != nil {
			w.now = clock
		}
	}
}

// WithFrameSink receives every collected tick diff, buffered events included.
func WithFrameSink(sink func(state.TickDiff)) Option {
	return func(w *World) { w.frameSink = sink }
}

// WithTickMonitor profiles every stage of Step.
func WithTickMonitor(monitor *simulation.TickMonitor) Option {
	return func(w *World) { w.monitor = monitor }
}

type inbound struct {
	from state.Handle
	msg  Message
}

// actor is the authority's record of one player or bot.
type actor struct {
	handle      state.Handle
	player      string
	name        string
	bot         bool
	team        combat.Team
	target      *combat.Target
	position    physics.Vec3
	facing      physics.Vec3
	destination physics.Vec3
	moving      bool
	moveSpeed   float64
	projectile  string
	ability     string
	effect      ability.Effect
	parrying    bool
	visibility  ability.Visibility
	shotReadyAt time.Duration
	castReadyAt time.Duration
	healed      bool
}

func (a *actor) id() string { return a.handle.String() }

// World is the single authority. Requests arrive through Submit from any goroutine and are
// applied on the next Step; everything else happens on the goroutine driving Step.
type World struct {
	inboxMu       sync.Mutex
	inbox         []inbound
	pendingTuning *tuning.Snapshot

	mu          sync.Mutex
	cfg         Config
	log         *logging.Logger
	panel       *tuning.Panel
	catalog     tuning.Catalog
	sched       *simulation.Scheduler
	actors      *state.Registry[*actor]
	players     map[string]state.Handle
	projectiles map[string]*projectile
	order       []string
	director    *combat.Director
	session     *match.Session
	hazard      *match.HazardCycle
	healOpen    bool
	replicated  *state.WorldState
	bus         *events.Bus[Message]
	stream      *events.Stream
	frameSink   func(state.TickDiff)
	monitor     *simulation.TickMonitor
	newID       func() string
	now         func() time.Time
	tick        uint64
	seq         uint64
	rejections  uint64
	closed      bool
	unsubscribe func()
}

// NewWorld builds an authority over the effective catalog of panel.
func NewWorld(panel *tuning.Panel, cfg Config, opts ...Option) (*World, error) {
	if panel == nil {
		panel = tuning.NewPanel(tuning.Baked())
	}
	if cfg.CooldownGrace < 0 {
		cfg.CooldownGrace = 0
	}
	w := &World{
		cfg:         cfg,
		log:         logging.L(),
		panel:       panel,
		catalog:     panel.Catalog(),
		sched:       simulation.NewScheduler(),
		actors:      state.NewRegistry[*actor](),
		players:     make(map[string]state.Handle),
		projectiles: make(map[string]*projectile),
		director:    combat.NewDirector(),
		replicated:  state.NewWorldState(),
		bus:         events.NewBus[Message](),
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.log = w.log.Named("arena")
	//1.- Default to a lobby that validates selections against the live catalog.
	if w.session == nil {
		session, err := match.NewSession(match.WithSessionEnvLookup(nil), match.WithSessionResolver(panelResolver{panel: panel}))
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		w.session = session
	}
	w.hazard = match.NewHazardCycle(w.sched, cfg.Heal, match.HazardHooks{
		OnCountdown: w.healCountdown,
		OnVolume:    w.setHealVolume,
	})
	//2.- Tuning edits land on the next step so the catalog never changes mid step.
	w.unsubscribe = panel.Subscribe(func(snapshot tuning.Snapshot) {
		w.inboxMu.Lock()
		w.pendingTuning = &snapshot
		w.inboxMu.Unlock()
	})
	return w, nil
}

// Close detaches the world from the tuning panel and stops the hazard cycle.
func (w *World) Close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.unsubscribe()
	w.hazard.Stop()
}

// Subscribe registers an observer for every broadcast. Observers run inside Step and must
// only call Submit on the world.
func (w *World) Subscribe(observer func(Message)) (unsubscribe func()) {
	return w.bus.Subscribe(observer)
}

// Submit queues a request from the actor behind from.
func (w *World) Submit(from state.Handle, msg Message) error {
	if w == nil {
		return ErrWorldClosed
	}
	w.inboxMu.Lock()
	defer w.inboxMu.Unlock()
	w.inbox = append(w.inbox, inbound{from: from, msg: msg})
	return nil
}

// Scheduler exposes the virtual clock that drives every timed effect.
func (w *World) Scheduler() *simulation.Scheduler { return w.sched }

// Join spawns an actor for player. Players without a team join the smaller side. Joining
// again with the same id returns the existing handle.
func (w *World) Join(player match.Player) (state.Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return state.NilHandle, ErrWorldClosed
	}
	id := strings.TrimSpace(player.ID)
	if h, ok := w.players[id]; ok {
		if _, live := w.actors.Get(h); live {
			_, err := w.session.Join(player)
			return h, err
		}
	}
	snapshot, err := w.session.Join(player)
	if err != nil {
		return state.NilHandle, err
	}
	entry, _ := snapshot.Player(id)
	if !entry.Team.Valid() {
		if entry, err = w.session.AssignTeam(id, w.smallerTeam()); err != nil {
			return state.NilHandle, err
		}
	}
	//1.- Build the actor from the lobby entry and the current player tuning.
	spec := w.catalog.Player
	a := &actor{
		player:     entry.ID,
		name:       entry.Name,
		bot:        entry.Bot,
		team:       entry.Team,
		target:     combat.NewTarget(entry.Team, spec.MaxHealth),
		moveSpeed:  spec.MoveSpeed,
		projectile: w.catalog.ResolveProjectile(entry.Projectile),
		visibility: ability.Visibility{Team: entry.Team, Ally: 1, Enemy: 1},
	}
	a.position = w.spawnPoint(a.team)
	a.facing = physics.Vec3{Z: -a.position.Z}.NormalizeOr(physics.Forward)
	a.handle = w.actors.Insert(a)
	w.players[entry.ID] = a.handle
	w.director.Track(a.id(), a.target)
	//2.- Equip the selected ability through the same broadcast a later selection uses.
	w.equip(a, w.catalog.ResolveAbility(entry.Ability))
	w.log.Info("actor joined",
		logging.String("actor", a.id()),
		logging.String("player", a.player),
		logging.String("team", a.team.String()),
		logging.Bool("bot", a.bot),
	)
	return a.handle, nil
}

// Leave despawns the actor of playerID. Projectiles it fired keep flying and their shooter
// lookups fail softly from now on.
func (w *World) Leave(playerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.players[playerID]
	if !ok {
		w.session.Leave(playerID)
		return
	}
	delete(w.players, playerID)
	if a, live := w.actors.Get(h); live {
		if a.effect != nil {
			a.effect.Deactivate(w, h)
		}
		w.director.Forget(a.id())
		w.actors.Remove(h)
		w.replicated.Actors.Remove(a.id())
		w.log.Info("actor left", logging.String("actor", a.id()), logging.String("player", playerID))
	}
	w.session.Leave(playerID)
	w.forfeitAbandoned()
}

// forfeitAbandoned ends a running match once a whole team has left. The director only judges
// teams that still have members, so an emptied side would otherwise never be eliminated.
func (w *World) forfeitAbandoned() {
	if w.session.State() != match.StateInProgress {
		return
	}
	teams := map[combat.Team]int{}
	for _, h := range w.actors.Handles() {
		if a, ok := w.actors.Get(h); ok {
			teams[a.team]++
		}
	}
	switch {
	case teams[combat.TeamA] == 0 && teams[combat.TeamB] == 0:
		w.finishLocked(combat.TeamNone)
	case teams[combat.TeamA] == 0:
		w.finishLocked(combat.TeamB)
	case teams[combat.TeamB] == 0:
		w.finishLocked(combat.TeamA)
	}
}

// ActorID returns the wire identifier for the actor of playerID.
func (w *World) ActorID(playerID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.players[playerID]
	if !ok {
		return "", false
	}
	return h.String(), true
}

// PlayerHandle returns the actor handle of playerID for transports that submit on its behalf.
func (w *World) PlayerHandle(playerID string) (state.Handle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.players[playerID]
	return h, ok
}

// Start moves the waiting match into play.
func (w *World) Start() (match.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startLocked()
}

// Restart returns the match to the lobby with fresh health and cooldowns.
func (w *World) Restart() match.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restartLocked()
}

// ShuffleTeams randomly splits the waiting roster and respawns every actor on its new side.
func (w *World) ShuffleTeams(seed int64) (match.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if current := w.session.State(); current != match.StateWaiting {
		return match.Snapshot{}, fmt.Errorf("%w: shuffle while %s", match.ErrInvalidTransition, current)
	}
	snapshot := w.session.ShuffleTeams(rand.New(rand.NewSource(seed)))
	for _, player := range snapshot.Players {
		a, ok := w.actorFor(player.ID)
		if !ok {
			continue
		}
		a.team = player.Team
		a.target.SetTeam(player.Team)
		a.visibility.Team = player.Team
	}
	w.resetActors()
	w.broadcastMatchState()
	return snapshot, nil
}

// MatchSnapshot returns the lobby view.
func (w *World) MatchSnapshot() match.Snapshot { return w.session.Snapshot() }

// Snapshot returns the full replicated state for late joiners.
func (w *World) Snapshot() state.TickDiff {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.replicated.Snapshot(w.tick)
}

// Stats reports counters for the ops endpoints.
func (w *World) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Tick:        w.tick,
		Actors:      w.actors.Len(),
		Projectiles: len(w.projectiles),
		Broadcasts:  w.seq,
		Rejections:  w.rejections,
		State:       w.session.State(),
		HealOpen:    w.healOpen,
	}
}

// Step advances the authority by one fixed step. It matches simulation.StepFunc.
func (w *World) Step(tick uint64, step time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.tick = tick
	dt := step.Seconds()
	requests, snapshot := w.drainInbox()
	//1.- Apply tuning first so this step's requests see the confirmed values.
	stop := w.monitor.Time(simulation.PhaseRequests)
	if snapshot != nil {
		w.applyTuning(*snapshot)
	}
	//2.- Validate and apply queued requests in arrival order.
	for _, in := range requests {
		w.handle(in.from, in.msg)
	}
	stop()
	//3.- Fire due continuations: ability expiry and the heal cycle.
	stop = w.monitor.Time(simulation.PhaseContinuations)
	w.sched.Advance(step)
	stop()
	//4.- Move actors, then projectiles, then resolve overlaps.
	stop = w.monitor.Time(simulation.PhaseActors)
	w.moveActors(dt)
	stop()
	stop = w.monitor.Time(simulation.PhaseProjectiles)
	w.stepProjectiles(dt)
	stop()
	stop = w.monitor.Time(simulation.PhaseHeal)
	w.applyHeal()
	stop()
	if w.cfg.AutoStart {
		w.maybeAutoStart()
	}
	//5.- Collect the replicated diff for observers and the frame sink.
	stop = w.monitor.Time(simulation.PhaseReplication)
	defer stop()
	diff := w.replicated.Collect(tick)
	if w.frameSink != nil {
		w.frameSink(diff)
	}
	diff.Events = state.EventDiff{}
	if diff.HasChanges() {
		w.broadcast(Message{Kind: KindTickDiff, Diff: &diff})
	}
}

func (w *World) drainInbox() ([]inbound, *tuning.Snapshot) {
	w.inboxMu.Lock()
	defer w.inboxMu.Unlock()
	requests := w.inbox
	w.inbox = nil
	snapshot := w.pendingTuning
	w.pendingTuning = nil
	return requests, snapshot
}

func (w *World) startLocked() (match.Snapshot, error) {
	snapshot, err := w.session.Start()
	if err != nil {
		return snapshot, err
	}
	w.director.Reset()
	w.resetActors()
	w.hazard.Start()
	w.broadcastMatchState()
	w.publishLifecycle("match_started", map[string]any{"match_id": snapshot.MatchID})
	w.log.Info("match started", logging.String("match_id", snapshot.MatchID), logging.Int("players", len(snapshot.Players)))
	return snapshot, nil
}

func (w *World) restartLocked() match.Snapshot {
	w.hazard.Stop()
	w.clearProjectiles("restart")
	w.director.Reset()
	w.monitor.Reset()
	snapshot := w.session.Restart()
	w.resetActors()
	w.broadcastMatchState()
	w.publishLifecycle("match_restarted", map[string]any{"match_id": snapshot.MatchID})
	w.log.Info("match restarted", logging.String("match_id", snapshot.MatchID))
	return snapshot
}

func (w *World) finishLocked(winner combat.Team) {
	snapshot, err := w.session.Finish(winner)
	if err != nil {
		w.log.Debug("finish ignored", logging.Error(err))
		return
	}
	w.hazard.Stop()
	w.clearProjectiles("match_over")
	w.broadcast(Message{Kind: KindMatchOver, Winner: winner.String()})
	w.broadcastMatchState()
	w.publishLifecycle("match_over", map[string]any{"match_id": snapshot.MatchID, "winner": winner.String()})
	w.log.Info("match over", logging.String("match_id", snapshot.MatchID), logging.String("winner", winner.String()))
}

func (w *World) maybeAutoStart() {
	if w.session.State() != match.StateWaiting {
		return
	}
	teams := map[combat.Team]int{}
	for _, h := range w.actors.Handles() {
		if a, ok := w.actors.Get(h); ok {
			teams[a.team]++
		}
	}
	if teams[combat.TeamA] == 0 || teams[combat.TeamB] == 0 {
		return
	}
	if _, err := w.startLocked(); err != nil {
		w.log.Debug("auto start deferred", logging.Error(err))
	}
}

// resetActors respawns everybody at their team spawn with ready cooldowns.
func (w *World) resetActors() {
	counts := map[combat.Team]int{}
	for _, h := range w.actors.Handles() {
		a, ok := w.actors.Get(h)
		if !ok {
			continue
		}
		if a.effect != nil {
			a.effect.Deactivate(w, h)
		}
		a.target.Respawn()
		a.position = w.spawnOffset(a.team, counts[a.team])
		counts[a.team]++
		a.facing = physics.Vec3{Z: -a.position.Z}.NormalizeOr(physics.Forward)
		a.moving = false
		a.parrying = false
		a.visibility = ability.Visibility{Team: a.team, Ally: 1, Enemy: 1}
		a.moveSpeed = w.catalog.Player.MoveSpeed
		a.shotReadyAt = 0
		a.castReadyAt = 0
		a.healed = false
		w.syncActor(a)
	}
}

func (w *World) applyTuning(snapshot tuning.Snapshot) {
	w.catalog = snapshot.Catalog
	//1.- Push the dashboard player values to every actor not currently hasted.
	for _, h := range w.actors.Handles() {
		a, ok := w.actors.Get(h)
		if !ok {
			continue
		}
		if a.effect != nil && a.effect.Kind() == ability.KindHaste && a.effect.Active() {
			continue
		}
		a.moveSpeed = w.catalog.Player.MoveSpeed
		w.syncActor(a)
	}
	w.broadcast(Message{Kind: KindTuningChanged, Tuning: &snapshot})
	w.log.Info("tuning applied", logging.Int64("version", int64(snapshot.Version)), logging.Bool("override", snapshot.Override))
}

func (w *World) equip(a *actor, name string) {
	if a.effect != nil {
		a.effect.Deactivate(w, a.handle)
	}
	a.ability = name
	a.effect = nil
	if spec, ok := w.catalog.Ability(name); ok {
		effect, err := ability.New(spec.AbilityKind(), spec.EffectParams())
		if err != nil {
			w.log.Warn("ability unavailable", logging.String("ability", name), logging.Error(err))
		} else {
			a.effect = effect
		}
	}
	w.syncActor(a)
	w.broadcast(Message{Kind: KindAbilityEquipped, Actor: a.id(), Ability: a.ability, Variant: a.projectile})
}

func (w *World) actorFor(playerID string) (*actor, bool) {
	h, ok := w.players[playerID]
	if !ok {
		return nil, false
	}
	return w.actors.Get(h)
}

func (w *World) smallerTeam() combat.Team {
	counts := map[combat.Team]int{}
	for _, h := range w.actors.Handles() {
		if a, ok := w.actors.Get(h); ok {
			counts[a.team]++
		}
	}
	if counts[combat.TeamA] <= counts[combat.TeamB] {
		return combat.TeamA
	}
	return combat.TeamB
}

func (w *World) spawnPoint(team combat.Team) physics.Vec3 {
	n := 0
	for _, h := range w.actors.Handles() {
		if a, ok := w.actors.Get(h); ok && a.team == team {
			n++
		}
	}
	return w.spawnOffset(team, n)
}

// spawnOffset spreads teammates sideways around the team spawn.
func (w *World) spawnOffset(team combat.Team, index int) physics.Vec3 {
	spawn := w.catalog.Arena.SpawnA
	if team == combat.TeamB {
		spawn = w.catalog.Arena.SpawnB
	}
	step := (index + 1) / 2 * 2
	if index%2 == 1 {
		step = -step
	}
	spawn.X += float64(step)
	spawn.Y = w.catalog.Arena.Ground.Height
	return spawn
}

func (w *World) teamArea(team combat.Team) physics.NavArea {
	if team == combat.TeamB {
		return w.catalog.Arena.TeamB
	}
	return w.catalog.Arena.TeamA
}

func (w *World) syncActor(a *actor) {
	current, max := a.target.Health()
	w.replicated.Actors.Upsert(&state.ActorState{
		ID:         a.id(),
		Name:       a.name,
		Team:       a.team.String(),
		Bot:        a.bot,
		Position:   a.position,
		Facing:     a.facing,
		Health:     current,
		MaxHealth:  max,
		MoveSpeed:  a.moveSpeed,
		Projectile: a.projectile,
		Ability:    a.ability,
		Parrying:   a.parrying,
	})
}

func (w *World) broadcast(msg Message) {
	w.seq++
	msg.Seq = w.seq
	msg.Tick = w.tick
	if msg.Kind != KindTickDiff {
		//1.- Buffer the broadcast for the frame sink; encoding a flat struct cannot fail.
		if payload, err := json.Marshal(msg); err == nil {
			w.replicated.Events.Add(string(msg.Kind), payload)
		}
	}
	w.bus.Publish(msg)
}

func (w *World) broadcastMatchState() {
	snapshot := w.session.Snapshot()
	w.broadcast(Message{Kind: KindMatchState, Match: &snapshot})
}

func (w *World) publishLifecycle(eventType string, fields map[string]any) {
	if w.stream == nil {
		return
	}
	if _, err := w.stream.Publish(events.KindLifecycle, eventType, fields); err != nil {
		w.log.Warn("lifecycle publish failed", logging.String("type", eventType), logging.Error(err))
	}
}

func (w *World) healCountdown(value int) {
	w.broadcast(Message{Kind: KindHealCountdown, Value: value})
	if w.stream != nil {
		_, _ = w.stream.Publish(events.KindHazard, "heal_countdown", map[string]any{"value": value})
	}
}

func (w *World) setHealVolume(open bool) {
	w.healOpen = open
	if open {
		for _, h := range w.actors.Handles() {
			if a, ok := w.actors.Get(h); ok {
				a.healed = false
			}
		}
	}
	w.broadcast(Message{Kind: KindHealVolume, Open: open})
	if w.stream != nil {
		_, _ = w.stream.Publish(events.KindHazard, "heal_volume", map[string]any{"open": open})
	}
}

// applyHeal restores health once per opening to every living actor inside the volume,
// regardless of team.
func (w *World) applyHeal() {
	if !w.healOpen || w.cfg.HealAmount <= 0 {
		return
	}
	center := w.catalog.Arena.HealCenter.Flat()
	radius := w.catalog.Arena.HealRadius
	for _, h := range w.actors.Handles() {
		a, ok := w.actors.Get(h)
		if !ok || a.healed || !a.target.Alive() {
			continue
		}
		if a.position.Flat().Distance(center) > radius {
			continue
		}
		a.healed = true
		healed, err := a.target.Heal(w.cfg.HealAmount)
		if err != nil || healed == 0 {
			continue
		}
		current, max := a.target.Health()
		w.syncActor(a)
		w.broadcast(Message{Kind: KindHealthChanged, Actor: a.id(), Value: current, Max: max, Amount: healed, Reason: "heal"})
	}
}

func (w *World) moveActors(dt float64) {
	for _, h := range w.actors.Handles() {
		a, ok := w.actors.Get(h)
		if !ok || !a.moving {
			continue
		}
		if !a.target.Alive() {
			a.moving = false
			continue
		}
		delta := a.destination.Sub(a.position).Flat()
		stride := a.moveSpeed * dt
		if dist := delta.Len(); dist <= stride {
			a.position = a.destination
			a.moving = false
		} else {
			dir := delta.Scale(1 / dist)
			a.position = a.position.Add(dir.Scale(stride))
			a.facing = dir
		}
		w.syncActor(a)
	}
}

type panelResolver struct{ panel *tuning.Panel }

func (r panelResolver) ResolveProjectile(name string) string {
	return r.panel.Catalog().ResolveProjectile(name)
}

func (r panelResolver) ResolveAbility(name string) string {
	return r.panel.Catalog().ResolveAbility(name)
}
