package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/auth"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/replay"
	"arenaclash/server/internal/simulation"
	"arenaclash/server/internal/transport"
	"arenaclash/server/internal/tuning"
)

const maxTuningBody = 1 << 20

// ReadinessProvider exposes process state required for readiness checks.
type ReadinessProvider interface {
	StartupError() error
	Uptime() time.Duration
}

// Arena is the slice of the authority the operator endpoints drive.
type Arena interface {
	Stats() arena.Stats
	MatchSnapshot() match.Snapshot
	Start() (match.Snapshot, error)
	Restart() match.Snapshot
	ShuffleTeams(seed int64) (match.Snapshot, error)
}

// Connections reports websocket fan-out health.
type Connections interface {
	Connected() int
	Dropped() uint64
}

// RateLimiter gates how frequently a caller may invoke admin operations.
type RateLimiter interface {
	Allow(key string) bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger       *logging.Logger
	Readiness    ReadinessProvider
	Arena        Arena
	Connections  Connections
	Tuning       *tuning.Panel
	Signer       *auth.Signer
	TokenTTL     time.Duration
	AdminToken   string
	RateLimiter  RateLimiter
	TimeSource   func() time.Time
	Seed         func() int64
	ReplayStats  func() replay.Stats
	StorageStats func() replay.StorageStats
	TickMetrics  func() simulation.TickMetricsSnapshot
	GateDrops    func() map[string]transport.DropCounters
	Bandwidth    func() map[string]transport.BandwidthUsage
}

// HandlerSet bundles the arena operator handlers.
type HandlerSet struct {
	logger       *logging.Logger
	readiness    ReadinessProvider
	arena        Arena
	connections  Connections
	panel        *tuning.Panel
	signer       *auth.Signer
	tokenTTL     time.Duration
	adminToken   string
	rateLimiter  RateLimiter
	now          func() time.Time
	seed         func() int64
	replayStats  func() replay.Stats
	storageStats func() replay.StorageStats
	tickMetrics  func() simulation.TickMetricsSnapshot
	gateDrops    func() map[string]transport.DropCounters
	bandwidth    func() map[string]transport.BandwidthUsage

	schemaOnce sync.Once
	schema     []byte
	schemaErr  error
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	seed := opts.Seed
	if seed == nil {
		seed = func() int64 { return now().UnixNano() }
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HandlerSet{
		logger:       logger,
		readiness:    opts.Readiness,
		arena:        opts.Arena,
		connections:  opts.Connections,
		panel:        opts.Tuning,
		signer:       opts.Signer,
		tokenTTL:     ttl,
		adminToken:   strings.TrimSpace(opts.AdminToken),
		rateLimiter:  opts.RateLimiter,
		now:          now,
		seed:         seed,
		replayStats:  opts.ReplayStats,
		storageStats: opts.StorageStats,
		tickMetrics:  opts.TickMetrics,
		gateDrops:    opts.GateDrops,
		bandwidth:    opts.Bandwidth,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/schema", h.SchemaHandler())
	mux.HandleFunc("/match", h.MatchHandler())
	mux.HandleFunc("/match/start", h.admin("match_start", h.matchAction(func() (match.Snapshot, error) { return h.arena.Start() })))
	mux.HandleFunc("/match/restart", h.admin("match_restart", h.matchAction(func() (match.Snapshot, error) { return h.arena.Restart(), nil })))
	mux.HandleFunc("/match/shuffle", h.admin("match_shuffle", h.ShuffleHandler()))
	mux.HandleFunc("/tuning", h.TuningHandler())
	mux.HandleFunc("/token", h.admin("token", h.TokenHandler()))
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including client counts and match state.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string      `json:"status"`
		Message       string      `json:"message,omitempty"`
		UptimeSeconds float64     `json:"uptime_seconds"`
		Clients       int         `json:"clients"`
		Match         match.State `json:"match,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.connections != nil {
			resp.Clients = h.connections.Connected()
		}
		if h.arena != nil {
			resp.Match = h.arena.Stats().State
		}
		if h.readiness != nil {
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.readiness != nil {
			gauge(w, "arena_uptime_seconds", "Server uptime in seconds.", fmt.Sprintf("%.0f", h.readiness.Uptime().Seconds()))
		}
		if h.arena != nil {
			stats := h.arena.Stats()
			counter(w, "arena_ticks_total", "Simulation ticks executed.", stats.Tick)
			gauge(w, "arena_actors", "Actors currently in the arena.", strconv.Itoa(stats.Actors))
			gauge(w, "arena_projectiles", "Live projectiles.", strconv.Itoa(stats.Projectiles))
			counter(w, "arena_broadcasts_total", "Broadcasts emitted by the authority.", stats.Broadcasts)
			counter(w, "arena_rejections_total", "Requests rejected by the authority.", stats.Rejections)
			fmt.Fprintf(w, "# HELP arena_match_state Current match state.\n")
			fmt.Fprintf(w, "# TYPE arena_match_state gauge\n")
			for _, candidate := range []match.State{match.StateWaiting, match.StateInProgress, match.StateOver} {
				value := 0
				if candidate == stats.State {
					value = 1
				}
				fmt.Fprintf(w, "arena_match_state{state=%q} %d\n", candidate, value)
			}
			heal := "0"
			if stats.HealOpen {
				heal = "1"
			}
			gauge(w, "arena_heal_open", "Whether the heal volume is open.", heal)
		}
		if h.connections != nil {
			gauge(w, "arena_clients", "Connected websocket observers.", strconv.Itoa(h.connections.Connected()))
			counter(w, "arena_clients_dropped_total", "Observers dropped for falling behind.", h.connections.Dropped())
		}
		if h.gateDrops != nil {
			drops := h.gateDrops()
			clients := make([]string, 0, len(drops))
			for client := range drops {
				clients = append(clients, client)
			}
			sort.Strings(clients)
			fmt.Fprintf(w, "# HELP arena_gate_dropped_total Inbound requests dropped before reaching the authority.\n")
			fmt.Fprintf(w, "# TYPE arena_gate_dropped_total counter\n")
			for _, client := range clients {
				counts := drops[client]
				fmt.Fprintf(w, "arena_gate_dropped_total{client=%q,reason=\"kind\"} %d\n", client, counts.Kind)
				fmt.Fprintf(w, "arena_gate_dropped_total{client=%q,reason=\"sequence\"} %d\n", client, counts.Sequence)
				fmt.Fprintf(w, "arena_gate_dropped_total{client=%q,reason=\"rate_limit\"} %d\n", client, counts.RateLimited)
			}
		}
		if h.bandwidth != nil {
			usage := h.bandwidth()
			peers := make([]string, 0, len(usage))
			for peer := range usage {
				peers = append(peers, peer)
			}
			sort.Strings(peers)
			fmt.Fprintf(w, "# HELP arena_broadcast_shed_total Sheddable broadcasts skipped for saturated observers.\n")
			fmt.Fprintf(w, "# TYPE arena_broadcast_shed_total counter\n")
			for _, peer := range peers {
				fmt.Fprintf(w, "arena_broadcast_shed_total{peer=%q} %d\n", peer, usage[peer].Shed)
			}
		}
		if h.tickMetrics != nil {
			ticks := h.tickMetrics()
			gauge(w, "arena_tick_duration_seconds", "Average simulation step duration.", fmt.Sprintf("%.6f", ticks.Average.Seconds()))
			gauge(w, "arena_tick_duration_max_seconds", "Slowest observed simulation step.", fmt.Sprintf("%.6f", ticks.Max.Seconds()))
			counter(w, "arena_tick_overruns_total", "Steps that took longer than the fixed step.", uint64(ticks.Overruns))
			fmt.Fprintf(w, "# HELP arena_tick_phase_seconds Average time spent in each stage of a step.\n")
			fmt.Fprintf(w, "# TYPE arena_tick_phase_seconds gauge\n")
			for _, phase := range ticks.PhaseNames() {
				fmt.Fprintf(w, "arena_tick_phase_seconds{phase=%q} %.6f\n", string(phase), ticks.Phases[phase].Average().Seconds())
			}
		}
		if h.replayStats != nil {
			stats := h.replayStats()
			recording := "0"
			if stats.Recording {
				recording = "1"
			}
			gauge(w, "arena_replay_recording", "Whether a match bundle is open.", recording)
			counter(w, "arena_replay_bundles_total", "Match bundles written.", uint64(stats.Bundles))
			counter(w, "arena_replay_dropped_total", "Tick diffs dropped because the recorder fell behind.", uint64(stats.Dropped))
			gauge(w, "arena_replay_queue", "Tick diffs waiting to be recorded.", strconv.Itoa(stats.QueuedDiffs))
		}
		if h.storageStats != nil {
			storage := h.storageStats()
			gauge(w, "arena_replay_storage_bytes", "Disk used by replay bundles.", strconv.FormatInt(storage.Bytes, 10))
			gauge(w, "arena_replay_storage_bundles", "Replay bundles on disk.", strconv.Itoa(storage.Bundles))
		}
	}
}

func gauge(w http.ResponseWriter, name, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n", name, help, name, name, value)
}

func counter(w http.ResponseWriter, name, help string, value uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
}

// SchemaHandler serves the JSON schema of the message envelope shared by every transport.
func (h *HandlerSet) SchemaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.schemaOnce.Do(func() { h.schema, h.schemaErr = messageSchema() })
		if h.schemaErr != nil {
			h.logger.Error("schema generation failed", logging.Error(h.schemaErr))
			http.Error(w, "schema unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/schema+json")
		_, _ = w.Write(h.schema)
	}
}

func messageSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.ReflectFromType(reflect.TypeOf(arena.Message{}))
	if schema == nil {
		return nil, errors.New("failed to reflect message schema")
	}
	schema.Title = "Arena Message"
	schema.Description = "Envelope for requests sent to the authority and the broadcasts it emits."
	return json.MarshalIndent(schema, "", "  ")
}

// MatchHandler returns the lobby snapshot.
func (h *HandlerSet) MatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.arena == nil {
			http.Error(w, "arena unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, h.arena.MatchSnapshot())
	}
}

func (h *HandlerSet) matchAction(action func() (match.Snapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.arena == nil {
			http.Error(w, "arena unavailable", http.StatusServiceUnavailable)
			return
		}
		snapshot, err := action()
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// ShuffleHandler randomly rebalances the waiting roster. A seed query parameter makes the
// split reproducible.
func (h *HandlerSet) ShuffleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.arena == nil {
			http.Error(w, "arena unavailable", http.StatusServiceUnavailable)
			return
		}
		seed := h.seed()
		if raw := strings.TrimSpace(r.URL.Query().Get("seed")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, "seed must be an integer", http.StatusBadRequest)
				return
			}
			seed = parsed
		}
		snapshot, err := h.arena.ShuffleTeams(seed)
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

func writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, arena.ErrWorldClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// TuningHandler serves the effective catalog on GET and applies a developer patch on POST.
func (h *HandlerSet) TuningHandler() http.HandlerFunc {
	apply := h.admin("tuning", func(w http.ResponseWriter, r *http.Request) {
		var patch tuning.Patch
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTuningBody))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&patch); err != nil {
			http.Error(w, fmt.Sprintf("invalid patch: %v", err), http.StatusBadRequest)
			return
		}
		snapshot, err := h.panel.Apply(patch)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, tuning.ErrInvalidSpec) {
				status = http.StatusUnprocessableEntity
			}
			http.Error(w, err.Error(), status)
			return
		}
		logging.LoggerFromContext(r.Context()).Info("tuning applied",
			logging.Int64("version", int64(snapshot.Version)),
			logging.Bool("override", snapshot.Override),
		)
		writeJSON(w, http.StatusOK, snapshot)
	})
	return func(w http.ResponseWriter, r *http.Request) {
		if h.panel == nil {
			http.Error(w, "tuning unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, h.panel.Current())
			return
		}
		apply(w, r)
	}
}

// TokenHandler mints a websocket join token for the player described in the body.
func (h *HandlerSet) TokenHandler() http.HandlerFunc {
	type request struct {
		Player     string `json:"player"`
		Name       string `json:"name"`
		Team       string `json:"team"`
		Projectile string `json:"projectile"`
		Ability    string `json:"ability"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	type response struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.signer == nil {
			http.Error(w, "token signing not configured", http.StatusServiceUnavailable)
			return
		}
		var req request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
			return
		}
		ttl := h.tokenTTL
		if req.TTLSeconds > 0 {
			ttl = time.Duration(req.TTLSeconds) * time.Second
		}
		token, err := h.signer.Issue(auth.PlayerClaims{
			PlayerID:   req.Player,
			Name:       req.Name,
			Team:       req.Team,
			Projectile: req.Projectile,
			Ability:    req.Ability,
		}, ttl)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, response{
			Token:     token,
			ExpiresAt: h.now().Add(ttl).UTC().Format(time.RFC3339),
		})
	}
}

// admin wraps a mutating handler with method, token and rate checks.
func (h *HandlerSet) admin(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("trace_id", logging.TraceIDFromContext(r.Context())),
			logging.String("handler", name),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("admin request denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("admin request denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow(remoteHost(r)) {
			reqLogger.Warn("admin request denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r.WithContext(logging.ContextWithLogger(r.Context(), reqLogger)))
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
