package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/state"
)

const defaultQueueSize = 512

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	Recording   bool      `json:"recording"`
	Bundles     int64     `json:"bundles"`
	Dropped     int64     `json:"dropped"`
	LastBundle  string    `json:"last_bundle,omitempty"`
	LastClosed  time.Time `json:"last_closed,omitempty"`
	QueuedDiffs int       `json:"queued_diffs"`
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the recorder logger.
func WithRecorderLogger(logger *logging.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithRecorderClock overrides the capture clock.
func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if clock != nil {
			r.now = clock
		}
	}
}

// Recorder turns the world's per-tick diffs into one bundle per match. A bundle opens when a
// match_state broadcast reports the match in progress and closes on the next state change.
type Recorder struct {
	root  string
	log   *logging.Logger
	now   func() time.Time
	queue chan state.TickDiff

	mu         sync.Mutex
	writer     *Writer
	players    []string
	tuning     uint64
	winner     string
	bundles    int64
	dropped    int64
	lastBundle string
	lastClosed time.Time
}

// NewRecorder creates root if needed.
func NewRecorder(root string, opts ...RecorderOption) (*Recorder, error) {
	if root == "" {
		return nil, fmt.Errorf("replay directory must be provided")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	r := &Recorder{
		root:  root,
		log:   logging.L().Named("replay"),
		now:   time.Now,
		queue: make(chan state.TickDiff, defaultQueueSize),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Sink is handed to the world as its frame sink. It runs inside the world step and never
// blocks; diffs arriving while the queue is full are dropped and counted.
func (r *Recorder) Sink(diff state.TickDiff) {
	select {
	case r.queue <- diff:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// Run writes queued diffs until ctx is cancelled, then drains the queue and closes any open
// bundle.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case diff := <-r.queue:
			r.Record(diff)
		case <-ctx.Done():
			for {
				select {
				case diff := <-r.queue:
					r.Record(diff)
				default:
					return r.Close()
				}
			}
		}
	}
}

// Record writes one tick synchronously.
func (r *Recorder) Record(diff state.TickDiff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	//1.- Broadcasts may open or close the bundle, so they go first.
	for _, event := range diff.Events.Events {
		r.recordEventLocked(diff.Tick, event)
	}
	if r.writer == nil {
		return
	}
	frame := diff
	frame.Events = state.EventDiff{}
	if !frame.HasChanges() {
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		r.log.Warn("replay frame encode failed", logging.Error(err))
		return
	}
	if err := r.writer.AppendFrame(diff.Tick, payload); err != nil {
		r.log.Warn("replay frame write failed", logging.Error(err))
	}
}

func (r *Recorder) recordEventLocked(tick uint64, event state.Event) {
	var msg arena.Message
	if err := json.Unmarshal(event.Payload, &msg); err != nil {
		r.log.Debug("replay event decode failed", logging.String("kind", event.Kind), logging.Error(err))
		return
	}
	switch msg.Kind {
	case arena.KindMatchState:
		if msg.Match == nil {
			break
		}
		r.players = r.players[:0]
		for _, player := range msg.Match.Players {
			r.players = append(r.players, player.ID)
		}
		if msg.Match.State == match.StateInProgress && r.writer == nil {
			r.openLocked(msg.Match.MatchID)
		}
	case arena.KindMatchOver:
		r.winner = msg.Winner
	case arena.KindTuningChanged:
		if msg.Tuning != nil {
			r.tuning = msg.Tuning.Version
		}
	}
	if r.writer != nil {
		if err := r.writer.AppendEvent(tick, event.Kind, event.Payload); err != nil {
			r.log.Warn("replay event write failed", logging.Error(err))
		}
	}
	//2.- Any state other than in_progress ends the bundle after the state change is logged.
	if msg.Kind == arena.KindMatchState && msg.Match != nil && msg.Match.State != match.StateInProgress {
		r.closeLocked()
	}
}

func (r *Recorder) openLocked(matchID string) {
	writer, _, err := NewWriter(r.root, matchID, r.now)
	if err != nil {
		r.log.Warn("replay bundle open failed", logging.String("match_id", matchID), logging.Error(err))
		return
	}
	r.writer = writer
	r.winner = ""
	r.log.Info("replay recording", logging.String("match_id", matchID), logging.String("bundle", writer.Directory()))
}

func (r *Recorder) closeLocked() error {
	if r.writer == nil {
		return nil
	}
	r.writer.SetOutcome(r.winner, r.players, r.tuning)
	err := r.writer.Close()
	if err != nil {
		r.log.Warn("replay bundle close failed", logging.Error(err))
	}
	r.bundles++
	r.lastBundle = r.writer.Directory()
	r.lastClosed = r.now().UTC()
	r.log.Info("replay saved", logging.String("bundle", r.lastBundle), logging.String("winner", r.winner))
	r.writer = nil
	return err
}

// Close finalises any open bundle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

// Snapshot returns statistics describing the recorder state.
func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Recording:   r.writer != nil,
		Bundles:     r.bundles,
		Dropped:     r.dropped,
		LastBundle:  r.lastBundle,
		LastClosed:  r.lastClosed,
		QueuedDiffs: len(r.queue),
	}
}
