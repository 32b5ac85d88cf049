package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"arenaclash/server/internal/state"
)

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(50 * time.Millisecond)
		return current
	}
}

func TestWriterBundleRoundTrip(t *testing.T) {
	root := t.TempDir()
	clock := fixedClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	writer, manifest, err := NewWriter(root, "match/42 final", clock)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(writer.Directory()), "match42final-") {
		t.Fatalf("unexpected bundle directory %q", writer.Directory())
	}
	if manifest.MatchID != "match/42 final" || manifest.FramesPerFlush != framesPerFlush {
		t.Fatalf("unexpected manifest %+v", manifest)
	}

	if err := writer.AppendEvent(1, "match_state", []byte(`{"kind":"match_state"}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	for tick := uint64(1); tick <= 10; tick++ {
		diff := state.TickDiff{Tick: tick, Actors: state.ActorDiff{Removed: []string{"ghost"}}}
		payload, err := json.Marshal(diff)
		if err != nil {
			t.Fatalf("marshal diff: %v", err)
		}
		if err := writer.AppendFrame(tick, payload); err != nil {
			t.Fatalf("append frame %d: %v", tick, err)
		}
	}
	if err := writer.AppendEvent(10, "match_over", []byte(`{"kind":"match_over","winner":"A"}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, frames := writer.Counts()
	if events != 2 || frames != 10 {
		t.Fatalf("expected 2 events and 10 frames, got %d/%d", events, frames)
	}

	writer.SetOutcome("A", []string{"alice", "bob"}, 3)
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	header, err := ReadHeader(filepath.Join(writer.Directory(), headerFile))
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header.Winner != "A" || header.TuningVersion != 3 || header.Events != 2 || header.Frames != 10 {
		t.Fatalf("unexpected header %+v", header)
	}
	if len(header.Players) != 2 || header.Players[0] != "alice" {
		t.Fatalf("unexpected players %v", header.Players)
	}

	loader, err := Load(writer.Directory())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	entries := loader.Entries()
	if len(entries) != 12 {
		t.Fatalf("expected 12 entries, got %d", len(entries))
	}
	if entries[0].Type != EntryEvent || entries[0].Kind != "match_state" {
		t.Fatalf("expected the opening event first, got %+v", entries[0])
	}
	if entries[1].Type != EntryFrame || entries[1].Tick != 1 {
		t.Fatalf("expected the first frame second, got %+v", entries[1])
	}
	//1.- The tick 10 broadcast precedes the tick 10 frame.
	if entries[10].Type != EntryEvent || entries[11].Type != EntryFrame || entries[11].Tick != 10 {
		t.Fatalf("unexpected tail ordering %+v %+v", entries[10], entries[11])
	}
	diff, err := entries[5].Frame()
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if diff.Tick != entries[5].Tick || len(diff.Actors.Removed) != 1 {
		t.Fatalf("unexpected frame %+v", diff)
	}
	if _, err := entries[0].Frame(); err == nil {
		t.Fatalf("expected event entries to refuse frame decoding")
	}
}

func TestLoaderReplayStopsOnError(t *testing.T) {
	root := t.TempDir()
	writer, _, err := NewWriter(root, "m", nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	for tick := uint64(1); tick <= 3; tick++ {
		if err := writer.AppendEvent(tick, "heal_countdown", []byte(`{}`)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	loader, err := Load(writer.Directory())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	visited := 0
	stop := os.ErrClosed
	err = loader.Replay(func(TimelineEntry) error {
		visited++
		if visited == 2 {
			return stop
		}
		return nil
	})
	if err != stop || visited != 2 {
		t.Fatalf("expected replay to stop after two entries, got %d (%v)", visited, err)
	}
	if err := loader.Replay(nil); err == nil {
		t.Fatalf("expected nil callback to be rejected")
	}
}

func TestHeaderValidation(t *testing.T) {
	if err := (Header{FilePointer: manifestFile}).Validate(); err == nil {
		t.Fatalf("expected missing schema version to fail")
	}
	if err := (Header{SchemaVersion: 1}).Validate(); err == nil {
		t.Fatalf("expected missing file pointer to fail")
	}
	path := filepath.Join(t.TempDir(), "nested", headerFile)
	if err := WriteHeader(path, Header{SchemaVersion: 1}); err == nil {
		t.Fatalf("expected invalid header write to fail")
	}
	if err := WriteHeader(path, Header{SchemaVersion: 1, MatchID: "m", FilePointer: manifestFile}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	header, err := ReadHeader(path)
	if err != nil || header.MatchID != "m" {
		t.Fatalf("unexpected header %+v (%v)", header, err)
	}
}

func TestNewWriterRequiresRoot(t *testing.T) {
	if _, _, err := NewWriter("", "m", nil); err == nil {
		t.Fatalf("expected empty root to fail")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected empty load path to fail")
	}
}
