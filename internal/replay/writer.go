package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var matchIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// framesPerFlush batches tick frames before they reach the zstd stream.
const framesPerFlush = 8

const (
	manifestFile = "manifest.json"
	headerFile   = "header.json"
	eventsFile   = "events.jsonl.sz"
	framesFile   = "frames.bin.zst"
)

type frameBlob struct {
	Tick       uint64
	CapturedAt time.Time
	Payload    []byte
}

// eventRecord is one line of the snappy compressed event log.
type eventRecord struct {
	Tick       uint64          `json:"tick"`
	CapturedAt string          `json:"captured_at"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version        int    `json:"version"`
	MatchID        string `json:"match_id"`
	CreatedAt      string `json:"created_at"`
	FramesPerFlush int    `json:"frames_per_flush"`
	EventsPath     string `json:"events_path"`
	FramesPath     string `json:"frames_path"`
}

// Writer streams one match into a bundle directory: broadcasts go to a snappy JSONL log and
// tick diffs to a length-prefixed zstd frame file.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	header      Header
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	events      int
	frames      int
}

// NewWriter prepares the bundle directory under root and opens the compressed sinks.
func NewWriter(root, matchID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := matchIDCleaner.ReplaceAllString(matchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:        1,
		MatchID:        matchID,
		CreatedAt:      created.Format(time.RFC3339Nano),
		FramesPerFlush: framesPerFlush,
		EventsPath:     eventsFile,
		FramesPath:     framesFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestFile), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:         path,
		now:         clock,
		header:      Header{SchemaVersion: HeaderSchemaVersion, MatchID: matchID, FilePointer: manifestFile},
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendEvent writes one broadcast to the event log. payload must be a JSON document.
func (w *Writer) AppendEvent(tick uint64, kind string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	line, err := json.Marshal(eventRecord{
		Tick:       tick,
		CapturedAt: w.now().UTC().Format(time.RFC3339Nano),
		Kind:       kind,
		Payload:    json.RawMessage(payload),
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.events++
	return nil
}

// AppendFrame stages a tick diff; frames reach disk in batches.
func (w *Writer) AppendFrame(tick uint64, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	blob := frameBlob{Tick: tick, CapturedAt: w.now().UTC(), Payload: append([]byte(nil), payload...)}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, blob)
	w.frames++
	if len(w.pending) >= framesPerFlush {
		return w.flushLocked()
	}
	return nil
}

// SetOutcome records the result written to the header on Close.
func (w *Writer) SetOutcome(winner string, players []string, tuningVersion uint64) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.header.Winner = winner
	w.header.Players = append([]string(nil), players...)
	w.header.TuningVersion = tuningVersion
	w.mu.Unlock()
}

// Counts reports how many events and frames were appended.
func (w *Writer) Counts() (events, frames int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events, w.frames
}

// Flush forces staged frames and buffered events to disk.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// Close writes the header, flushes every buffer and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Attempt every step and surface the first failure.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(w.flushLocked())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	//2.- The header lands last and marks the bundle finished for retention.
	w.header.Events, w.header.Frames = w.events, w.frames
	keep(WriteHeader(filepath.Join(w.dir, headerFile), w.header))
	return firstErr
}

// flushLocked writes staged frames as tick, capture time, length, payload.
func (w *Writer) flushLocked() error {
	for _, frame := range w.pending {
		header := make([]byte, 8+8+4)
		binary.LittleEndian.PutUint64(header[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(frame.Payload)))
		if _, err := w.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}
