package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"arenaclash/server/internal/state"
)

// Entry types in a timeline.
const (
	EntryEvent = "event"
	EntryFrame = "frame"
)

// TimelineEntry is one replay datum in deterministic order.
type TimelineEntry struct {
	Tick       uint64
	CapturedAt time.Time
	Type       string
	// Kind is the broadcast kind for events.
	Kind    string
	Payload json.RawMessage
}

// Frame decodes a frame entry back into its tick diff.
func (e TimelineEntry) Frame() (state.TickDiff, error) {
	if e.Type != EntryFrame {
		return state.TickDiff{}, fmt.Errorf("entry at tick %d is an %s", e.Tick, e.Type)
	}
	var diff state.TickDiff
	err := json.Unmarshal(e.Payload, &diff)
	return diff, err
}

// Loader rehydrates a bundle written by Writer.
type Loader struct {
	manifest Manifest
	entries  []TimelineEntry
}

// Load reads the bundle in dir.
func Load(dir string) (*Loader, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay path must be provided")
	}
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	events, err := loadEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, err
	}
	frames, err := loadFrames(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return nil, err
	}

	//1.- Broadcasts of a tick precede the frame that tick produced.
	entries := append(events, frames...)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Tick == entries[j].Tick {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].Tick < entries[j].Tick
	})
	return &Loader{manifest: manifest, entries: entries}, nil
}

func loadEvents(path string) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []TimelineEntry
	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var record eventRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse event captured_at: %w", err)
		}
		entries = append(entries, TimelineEntry{
			Tick:       record.Tick,
			CapturedAt: captured,
			Type:       EntryEvent,
			Kind:       record.Kind,
			Payload:    append(json.RawMessage(nil), record.Payload...),
		})
	}
	return entries, scanner.Err()
}

func loadFrames(path string) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var entries []TimelineEntry
	header := make([]byte, 8+8+4)
	for {
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return nil, fmt.Errorf("read frame header: %w", err)
		}
		payload := make([]byte, binary.LittleEndian.Uint32(header[16:20]))
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
		entries = append(entries, TimelineEntry{
			Tick:       binary.LittleEndian.Uint64(header[0:8]),
			CapturedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(header[8:16]))).UTC(),
			Type:       EntryFrame,
			Payload:    payload,
		})
	}
}

// Manifest returns the bundle manifest.
func (l *Loader) Manifest() Manifest { return l.manifest }

// Replay iterates over the loaded entries in order.
func (l *Loader) Replay(apply func(TimelineEntry) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range l.entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries exposes a copy of the timeline.
func (l *Loader) Entries() []TimelineEntry {
	if l == nil {
		return nil
	}
	out := make([]TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
