// Package transport serves the arena protocol over websockets: players join through an
// authenticator, requests flow into the world, and broadcasts fan out to every observer.
package transport

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/state"
	"arenaclash/server/internal/wire"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultSendBuffer   = 256
	writeWait           = 10 * time.Second
)

// Option customises hub construction.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.log = logger
		}
	}
}

// WithAuthenticator replaces the default query-string authenticator.
func WithAuthenticator(authenticator Authenticator) Option {
	return func(h *Hub) {
		if authenticator != nil {
			h.auth = authenticator
		}
	}
}

// WithGate installs the inbound request gate.
func WithGate(gate *Gate) Option {
	return func(h *Hub) { h.gate = gate }
}

// WithAllowedOrigins restricts upgrades to the listed origins. An empty list allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			allowed[strings.TrimSpace(origin)] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// WithLimits bounds connections, inbound frame size and the keepalive cadence. Zero values
// keep the defaults.
func WithLimits(maxClients int, maxPayload int64, ping time.Duration) Option {
	return func(h *Hub) {
		if maxClients > 0 {
			h.maxClients = maxClients
		}
		if maxPayload > 0 {
			h.maxPayload = maxPayload
		}
		if ping > 0 {
			h.pingInterval = ping
		}
	}
}

// WithBandwidth caps sheddable broadcast traffic per observer.
func WithBandwidth(regulator *BandwidthRegulator) Option {
	return func(h *Hub) { h.bandwidth = regulator }
}

// WithSendBuffer sets how many frames may queue per observer before it counts as slow.
func WithSendBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.sendBuffer = size
		}
	}
}

// peer is one websocket observer. Spectators have no actor.
type peer struct {
	id     string
	player string
	actor  string
	handle state.Handle
	codec  wire.Codec
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func (p *peer) close() { p.once.Do(func() { close(p.send) }) }

// Hub fans broadcasts out to websocket observers and feeds their requests into the world.
type Hub struct {
	world        *arena.World
	log          *logging.Logger
	auth         Authenticator
	gate         *Gate
	bandwidth    *BandwidthRegulator
	upgrader     websocket.Upgrader
	maxClients   int
	maxPayload   int64
	pingInterval time.Duration
	sendBuffer   int

	mu          sync.Mutex
	peers       map[*peer]struct{}
	closed      bool
	dropped     uint64
	unsubscribe func()
}

// NewHub subscribes a hub to the world's broadcasts.
func NewHub(world *arena.World, opts ...Option) *Hub {
	h := &Hub{
		world:        world,
		log:          logging.L().Named("transport"),
		auth:         QueryAuthenticator{},
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		maxPayload:   1 << 16,
		pingInterval: defaultPingInterval,
		sendBuffer:   defaultSendBuffer,
		peers:        make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.unsubscribe = world.Subscribe(h.dispatch)
	return h
}

// Connected reports the number of live observers.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Dropped reports how many observers were disconnected for falling behind.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Bandwidth reports per-observer throttling, keyed by peer id.
func (h *Hub) Bandwidth() map[string]BandwidthUsage {
	return h.bandwidth.Usage()
}

// Close disconnects every observer and detaches from the world.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	peers := h.peers
	h.peers = make(map[*peer]struct{})
	h.mu.Unlock()
	h.unsubscribe()
	for p := range peers {
		p.close()
	}
}

// dispatch runs inside the world step, so it must never block.
func (h *Hub) dispatch(msg arena.Message) {
	encoded := make(map[string][]byte, 2)
	failed := make(map[string]bool, 2)
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		if msg.Audience == arena.AudienceOwner && p.actor != msg.Actor {
			continue
		}
		//1.- Encode once per codec; a codec that fails only skips its own observers.
		name := p.codec.Name()
		if failed[name] {
			continue
		}
		frame, ok := encoded[name]
		if !ok {
			data, err := p.codec.Encode(msg)
			if err != nil {
				failed[name] = true
				h.log.Warn("broadcast encode failed", logging.String("kind", string(msg.Kind)), logging.String("codec", name), logging.Error(err))
				continue
			}
			encoded[name] = data
			frame = data
		}
		if Sheddable(msg.Kind) && !h.bandwidth.Allow(p.id, len(frame)) {
			continue
		}
		select {
		case p.send <- frame:
		default:
			//2.- A full queue means the observer cannot keep up; cut it loose.
			delete(h.peers, p)
			h.dropped++
			p.close()
			h.log.Warn("observer dropped", logging.String("peer", p.id), logging.String("actor", p.actor))
		}
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codec, err := wire.ForName(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	closed, full := h.closed, h.maxClients > 0 && len(h.peers) >= h.maxClients
	h.mu.Unlock()
	if closed || full {
		http.Error(w, "arena unavailable", http.StatusServiceUnavailable)
		return
	}

	p := &peer{id: uuid.NewString(), codec: codec, send: make(chan []byte, h.sendBuffer)}
	spectate := isTrue(r.URL.Query().Get("spectate"))

	//1.- Players are authenticated and spawned before the upgrade so failures stay HTTP errors.
	if !spectate {
		player, err := h.auth.Authenticate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		handle, err := h.world.Join(player)
		if err != nil {
			status := http.StatusConflict
			if errors.Is(err, arena.ErrWorldClosed) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		p.player, p.handle, p.actor = player.ID, handle, handle.String()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.Error(err))
		h.leave(p)
		return
	}
	p.conn = conn
	conn.SetReadLimit(h.maxPayload)

	//2.- Late joiners get the roster and the full replicated state before live broadcasts.
	// The pump drains the queue so a welcome larger than the send buffer cannot stall here.
	go h.writePump(p)
	h.welcome(p)
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	h.log.Info("observer connected",
		logging.String("peer", p.id),
		logging.String("actor", p.actor),
		logging.String("codec", codec.Name()),
		logging.Bool("spectator", spectate),
	)

	h.readPump(p)
}

func (h *Hub) welcome(p *peer) {
	snapshot := h.world.MatchSnapshot()
	diff := h.world.Snapshot()
	for _, msg := range []arena.Message{
		{Kind: arena.KindMatchState, Actor: p.actor, Match: &snapshot},
		{Kind: arena.KindTickDiff, Tick: diff.Tick, Diff: &diff},
	} {
		data, err := p.codec.Encode(msg)
		if err != nil {
			h.log.Warn("welcome encode failed", logging.String("kind", string(msg.Kind)), logging.Error(err))
			continue
		}
		select {
		case p.send <- data:
		case <-time.After(writeWait):
			h.log.Warn("welcome timed out", logging.String("peer", p.id), logging.String("kind", string(msg.Kind)))
			return
		}
	}
}

func (h *Hub) readPump(p *peer) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.peers[p]; ok {
			delete(h.peers, p)
			p.close()
		}
		h.mu.Unlock()
		h.leave(p)
		h.log.Info("observer disconnected", logging.String("peer", p.id), logging.String("actor", p.actor))
	}()

	deadline := 2 * h.pingInterval
	_ = p.conn.SetReadDeadline(time.Now().Add(deadline))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read failed", logging.String("peer", p.id), logging.Error(err))
			}
			return
		}
		if p.actor == "" {
			continue
		}
		msg, err := p.codec.Decode(data)
		if err != nil {
			h.log.Debug("request decode failed", logging.String("peer", p.id), logging.Error(err))
			continue
		}
		if h.gate != nil {
			if reason := h.gate.Evaluate(p.id, msg); reason != DropReasonNone {
				h.log.Debug("request dropped", logging.String("peer", p.id), logging.String("kind", string(msg.Kind)), logging.String("reason", string(reason)))
				continue
			}
		} else if !msg.Kind.IsRequest() {
			continue
		}
		if msg.Actor == "" {
			msg.Actor = p.actor
		}
		if err := h.world.Submit(p.handle, msg); err != nil {
			h.log.Warn("request submit failed", logging.String("peer", p.id), logging.Error(err))
			return
		}
	}
}

func (h *Hub) writePump(p *peer) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(p.codec.FrameType(), frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// leave despawns the actor unless a newer connection for the same player is still live.
func (h *Hub) leave(p *peer) {
	if h.gate != nil {
		h.gate.Forget(p.id)
	}
	h.bandwidth.Forget(p.id)
	if p.player == "" {
		return
	}
	h.mu.Lock()
	for other := range h.peers {
		if other.player == p.player {
			h.mu.Unlock()
			return
		}
	}
	h.mu.Unlock()
	h.world.Leave(p.player)
}

func isTrue(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
