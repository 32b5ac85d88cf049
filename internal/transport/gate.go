package transport

import (
	"sync"
	"time"

	"arenaclash/server/internal/arena"
)

// DropReason enumerates why the gate refused a request frame.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonKind        DropReason = "kind"
	DropReasonSequence    DropReason = "sequence"
	DropReasonRateLimited DropReason = "rate_limit"
)

// DropCounters aggregates per-reason drop counts for one connection.
type DropCounters struct {
	Kind        uint64 `json:"kind"`
	Sequence    uint64 `json:"sequence"`
	RateLimited uint64 `json:"rate_limited"`
}

// GateConfig controls the throughput and ordering checks applied to inbound requests.
type GateConfig struct {
	// MinInterval is the minimum spacing between accepted requests of one kind. Steering is
	// exempt because homing clients send it every frame.
	MinInterval time.Duration
}

type gateClient struct {
	lastSeq      uint64
	lastAccepted map[arena.Kind]time.Time
}

// Gate drops request frames that are not requests, arrive out of order, or flood the server.
// Cooldown and ownership checks stay with the authority.
type Gate struct {
	mu      sync.Mutex
	cfg     GateConfig
	now     func() time.Time
	clients map[string]*gateClient
	drops   map[string]DropCounters
}

// NewGate constructs a gate; a nil clock selects time.Now.
func NewGate(cfg GateConfig, now func() time.Time) *Gate {
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{cfg: cfg, now: now, clients: make(map[string]*gateClient), drops: make(map[string]DropCounters)}
}

// Evaluate returns DropReasonNone when the frame from clientID may be submitted.
func (g *Gate) Evaluate(clientID string, msg arena.Message) DropReason {
	g.mu.Lock()
	defer g.mu.Unlock()
	reason := g.evaluateLocked(clientID, msg)
	if reason != DropReasonNone {
		counters := g.drops[clientID]
		switch reason {
		case DropReasonKind:
			counters.Kind++
		case DropReasonSequence:
			counters.Sequence++
		case DropReasonRateLimited:
			counters.RateLimited++
		}
		g.drops[clientID] = counters
	}
	return reason
}

func (g *Gate) evaluateLocked(clientID string, msg arena.Message) DropReason {
	//1.- Only request kinds may travel upstream.
	if !msg.Kind.IsRequest() {
		return DropReasonKind
	}
	client := g.clients[clientID]
	if client == nil {
		client = &gateClient{lastAccepted: make(map[arena.Kind]time.Time)}
		g.clients[clientID] = client
	}
	//2.- Sequenced clients must keep increasing; unsequenced frames skip the check.
	if msg.Seq != 0 {
		if msg.Seq <= client.lastSeq {
			return DropReasonSequence
		}
	}
	now := g.now()
	if g.cfg.MinInterval > 0 && msg.Kind != arena.KindSteer {
		if last, ok := client.lastAccepted[msg.Kind]; ok && now.Sub(last) < g.cfg.MinInterval {
			return DropReasonRateLimited
		}
	}
	//3.- Promote the frame as the latest accepted one.
	if msg.Seq != 0 {
		client.lastSeq = msg.Seq
	}
	client.lastAccepted[msg.Kind] = now
	return DropReasonNone
}

// Forget clears state for a disconnected client.
func (g *Gate) Forget(clientID string) {
	g.mu.Lock()
	delete(g.clients, clientID)
	delete(g.drops, clientID)
	g.mu.Unlock()
}

// Drops returns a copy of the per-client drop counters.
func (g *Gate) Drops() map[string]DropCounters {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.drops))
	for id, counters := range g.drops {
		clone[id] = counters
	}
	return clone
}
