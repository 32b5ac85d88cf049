package match

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"arenaclash/server/internal/combat"
)

const (
	envMatchID         = "ARENA_MATCH_ID"
	envMatchMinPlayers = "ARENA_MATCH_MIN_PLAYERS"
	envMatchMaxPlayers = "ARENA_MATCH_MAX_PLAYERS"
)

var (
	// ErrInvalidPlayerID is returned when a join request omits the participant identifier.
	ErrInvalidPlayerID = errors.New("player id must not be empty")
	// ErrMatchFull indicates that the session has reached the configured capacity limit.
	ErrMatchFull = errors.New("match capacity reached")
	// ErrInvalidCapacity is returned when capacity updates violate basic invariants.
	ErrInvalidCapacity = errors.New("invalid match capacity configuration")
	// ErrUnknownPlayer is returned when an operation names a player outside the roster.
	ErrUnknownPlayer = errors.New("player not in roster")
	// ErrInvalidTransition is returned when the requested state change is not allowed.
	ErrInvalidTransition = errors.New("invalid match state transition")
)

// State is the coarse match lifecycle.
type State string

const (
	StateWaiting    State = "waiting"
	StateInProgress State = "in_progress"
	StateOver       State = "over"
)

// Capacity expresses the configured participant limits for a match session.
type Capacity struct {
	MinPlayers int `json:"min_players"`
	MaxPlayers int `json:"max_players"`
}

// Player is one roster entry with the selections supplied by the lobby.
type Player struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Team       combat.Team `json:"team"`
	Projectile string      `json:"projectile"`
	Ability    string      `json:"ability"`
	Bot        bool        `json:"bot"`
	JoinedAt   time.Time   `json:"joined_at"`
}

// Snapshot captures a stable view of the match session state for observers.
type Snapshot struct {
	MatchID       string      `json:"match_id"`
	State         State       `json:"state"`
	Winner        combat.Team `json:"winner"`
	Capacity      Capacity    `json:"capacity"`
	ActivePlayers []string    `json:"active_players"`
	Players       []Player    `json:"players"`
}

// Player looks an entry up by identifier.
func (s Snapshot) Player(id string) (Player, bool) {
	for _, player := range s.Players {
		if player.ID == id {
			return player, true
		}
	}
	return Player{}, false
}

// Resolver maps lobby selections onto known variants, substituting defaults for unknown names.
type Resolver interface {
	ResolveProjectile(name string) string
	ResolveAbility(name string) string
}

// SessionOption configures optional Session behaviour at construction time.
type SessionOption func(*Session)

// Session maintains the roster and lifecycle of one arena match.
type Session struct {
	mu sync.RWMutex

	id        string
	state     State
	winner    combat.Team
	capacity  Capacity
	players   map[string]Player
	now       func() time.Time
	envLookup func(string) string
	resolver  Resolver
	newID     func() string

	idConfigured  bool
	capConfigured bool
}

// WithSessionClock overrides the default wall-clock time source.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		//1.- Allow tests to inject a deterministic time source for reproducibility.
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionEnvLookup injects a custom environment variable lookup mechanism.
func WithSessionEnvLookup(lookup func(string) string) SessionOption {
	return func(s *Session) {
		s.envLookup = lookup
	}
}

// WithSessionMatchID sets the identifier used for the first match.
func WithSessionMatchID(id string) SessionOption {
	return func(s *Session) {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			return
		}
		s.id = trimmed
		s.idConfigured = true
	}
}

// WithSessionCapacity configures the session capacity explicitly, bypassing environment parsing.
func WithSessionCapacity(cap Capacity) SessionOption {
	return func(s *Session) {
		s.capacity = cap
		s.capConfigured = true
	}
}

// WithSessionResolver validates selections against a variant catalog.
func WithSessionResolver(resolver Resolver) SessionOption {
	return func(s *Session) {
		s.resolver = resolver
	}
}

// WithSessionIDGenerator overrides how restarted matches are named.
func WithSessionIDGenerator(gen func() string) SessionOption {
	return func(s *Session) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewSession constructs a waiting match session using environment defaults when available.
func NewSession(opts ...SessionOption) (*Session, error) {
	session := &Session{
		state:     StateWaiting,
		players:   make(map[string]Player),
		now:       time.Now,
		envLookup: os.Getenv,
		newID:     func() string { return "match-" + uuid.NewString() },
	}
	//1.- Apply any caller supplied functional options prior to reading the environment.
	for _, opt := range opts {
		if opt != nil {
			opt(session)
		}
	}
	//2.- Populate configuration from the environment when the caller did not override values.
	if err := session.applyEnvironment(); err != nil {
		return nil, err
	}
	//3.- Ensure a deterministic identifier exists for downstream replay or telemetry.
	if strings.TrimSpace(session.id) == "" {
		session.id = session.defaultIdentifier()
	}
	if err := session.validateCapacity(session.capacity); err != nil {
		return nil, err
	}
	return session, nil
}

// Join registers a participant, enforcing capacity. Rejoining refreshes name and bot flag but
// keeps the team and selections already recorded.
func (s *Session) Join(player Player) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, fmt.Errorf("session is nil")
	}
	player.ID = strings.TrimSpace(player.ID)
	if player.ID == "" {
		return Snapshot{}, ErrInvalidPlayerID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.players[player.ID]
	if !exists {
		//1.- Reject new players when the session already holds the maximum number of participants.
		if s.capacity.MaxPlayers > 0 && len(s.players) >= s.capacity.MaxPlayers {
			return Snapshot{}, ErrMatchFull
		}
		player.Projectile = s.resolveProjectile(player.Projectile)
		player.Ability = s.resolveAbility(player.Ability)
	} else {
		name, bot := player.Name, player.Bot
		player = existing
		if name != "" {
			player.Name = name
		}
		player.Bot = bot
	}
	if player.Name == "" {
		player.Name = player.ID
	}
	//2.- Track the latest join timestamp so reconnects refresh the participant heartbeat.
	player.JoinedAt = s.now()
	s.players[player.ID] = player
	return s.snapshotLocked(), nil
}

// Leave removes a participant from the roster.
func (s *Session) Leave(playerID string) Snapshot {
	if s == nil {
		return Snapshot{}
	}
	trimmed := strings.TrimSpace(playerID)
	if trimmed == "" {
		return s.Snapshot()
	}
	s.mu.Lock()
	delete(s.players, trimmed)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return snapshot
}

// Select records the lobby selections for a player. Unknown names fall back to the defaults.
func (s *Session) Select(playerID, projectile, ability string) (Player, error) {
	if s == nil {
		return Player{}, fmt.Errorf("session is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := s.players[playerID]
	if !ok {
		return Player{}, ErrUnknownPlayer
	}
	if projectile != "" {
		player.Projectile = s.resolveProjectile(projectile)
	}
	if ability != "" {
		player.Ability = s.resolveAbility(ability)
	}
	s.players[playerID] = player
	return player, nil
}

// AssignTeam places a player on a team explicitly.
func (s *Session) AssignTeam(playerID string, team combat.Team) (Player, error) {
	if s == nil {
		return Player{}, fmt.Errorf("session is nil")
	}
	if !team.Valid() {
		return Player{}, fmt.Errorf("%w: team %s", ErrInvalidTransition, team)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := s.players[playerID]
	if !ok {
		return Player{}, ErrUnknownPlayer
	}
	player.Team = team
	s.players[playerID] = player
	return player, nil
}

// ShuffleTeams randomly orders the roster and assigns the first half to team A and the rest
// to team B. With an odd roster team B receives the extra player.
func (s *Session) ShuffleTeams(rng *rand.Rand) Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	//1.- Start from a sorted order so a seeded source yields a reproducible split.
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	//2.- Split the shuffled roster at the midpoint.
	perTeam := len(ids) / 2
	for i, id := range ids {
		player := s.players[id]
		if i < perTeam {
			player.Team = combat.TeamA
		} else {
			player.Team = combat.TeamB
		}
		s.players[id] = player
	}
	return s.snapshotLocked()
}

// Start moves a waiting match into play. Every player must be on a team and the minimum
// roster size must be met.
func (s *Session) Start() (Snapshot, error) {
	if s == nil {
		return Snapshot{}, fmt.Errorf("session is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWaiting {
		return Snapshot{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, StateInProgress)
	}
	if len(s.players) < s.capacity.MinPlayers {
		return Snapshot{}, fmt.Errorf("%w: %d players below minimum %d", ErrInvalidTransition, len(s.players), s.capacity.MinPlayers)
	}
	for id, player := range s.players {
		if !player.Team.Valid() {
			return Snapshot{}, fmt.Errorf("%w: player %s has no team", ErrInvalidTransition, id)
		}
	}
	s.state = StateInProgress
	s.winner = combat.TeamNone
	return s.snapshotLocked(), nil
}

// Finish ends a running match with the supplied winner. Over is terminal until Restart.
func (s *Session) Finish(winner combat.Team) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, fmt.Errorf("session is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return Snapshot{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, StateOver)
	}
	s.state = StateOver
	s.winner = winner
	return s.snapshotLocked(), nil
}

// Restart creates a new match from the current roster. Teams and selections survive so the
// lobby can start again straight away.
func (s *Session) Restart() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = s.newID()
	s.state = StateWaiting
	s.winner = combat.TeamNone
	return s.snapshotLocked()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	if s == nil {
		return StateWaiting
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a read-only view of the current match session state.
func (s *Session) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// AdjustCapacity safely mutates the capacity bounds while guarding active participants.
func (s *Session) AdjustCapacity(minPlayers, maxPlayers int) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, fmt.Errorf("session is nil")
	}
	proposed := Capacity{MinPlayers: minPlayers, MaxPlayers: maxPlayers}
	//1.- Validate the requested capacity before taking the write lock to fail fast.
	if err := s.validateCapacity(proposed); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//2.- Ensure the new maximum does not evict already active participants.
	if proposed.MaxPlayers > 0 && len(s.players) > proposed.MaxPlayers {
		return Snapshot{}, fmt.Errorf("%w: %d active players exceed max %d", ErrInvalidCapacity, len(s.players), proposed.MaxPlayers)
	}
	s.capacity = proposed
	return s.snapshotLocked(), nil
}

func (s *Session) resolveProjectile(name string) string {
	if s.resolver == nil {
		return strings.TrimSpace(name)
	}
	return s.resolver.ResolveProjectile(strings.TrimSpace(name))
}

func (s *Session) resolveAbility(name string) string {
	if s.resolver == nil {
		return strings.TrimSpace(name)
	}
	return s.resolver.ResolveAbility(strings.TrimSpace(name))
}

func (s *Session) applyEnvironment() error {
	lookup := s.envLookup
	if lookup == nil {
		return nil
	}
	if !s.idConfigured {
		if id := strings.TrimSpace(lookup(envMatchID)); id != "" {
			s.id = id
			s.idConfigured = true
		}
	}
	if s.capConfigured {
		return nil
	}
	var (
		minSet bool
		maxSet bool
	)
	if raw := strings.TrimSpace(lookup(envMatchMinPlayers)); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidCapacity, envMatchMinPlayers, raw)
		}
		s.capacity.MinPlayers = value
		minSet = true
	}
	if raw := strings.TrimSpace(lookup(envMatchMaxPlayers)); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidCapacity, envMatchMaxPlayers, raw)
		}
		s.capacity.MaxPlayers = value
		maxSet = true
	}
	if minSet || maxSet {
		s.capConfigured = true
	}
	return nil
}

func (s *Session) snapshotLocked() Snapshot {
	snapshot := Snapshot{MatchID: s.id, State: s.state, Winner: s.winner, Capacity: s.capacity}
	if len(s.players) == 0 {
		return snapshot
	}
	snapshot.ActivePlayers = make([]string, 0, len(s.players))
	for id := range s.players {
		snapshot.ActivePlayers = append(snapshot.ActivePlayers, id)
	}
	//1.- Sort identifiers to guarantee deterministic payloads for consumers and tests.
	sort.Strings(snapshot.ActivePlayers)
	snapshot.Players = make([]Player, 0, len(s.players))
	for _, id := range snapshot.ActivePlayers {
		snapshot.Players = append(snapshot.Players, s.players[id])
	}
	return snapshot
}

func (s *Session) defaultIdentifier() string {
	timestamp := ""
	if s.now != nil {
		timestamp = s.now().UTC().Format("match-20060102T150405")
	}
	if strings.TrimSpace(timestamp) == "" {
		return "match"
	}
	return timestamp
}

func (s *Session) validateCapacity(cap Capacity) error {
	if cap.MinPlayers < 0 {
		return fmt.Errorf("%w: minimum players must be non-negative", ErrInvalidCapacity)
	}
	if cap.MaxPlayers < 0 {
		return fmt.Errorf("%w: maximum players must be non-negative", ErrInvalidCapacity)
	}
	if cap.MaxPlayers > 0 && cap.MaxPlayers < cap.MinPlayers {
		return fmt.Errorf("%w: max %d is less than min %d", ErrInvalidCapacity, cap.MaxPlayers, cap.MinPlayers)
	}
	return nil
}
