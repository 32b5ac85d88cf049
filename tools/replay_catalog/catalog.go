package replaycatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"arenaclash/server/internal/replay"
)

// Entry captures a finished match bundle alongside its resolved manifest path.
type Entry struct {
	HeaderPath   string        `json:"header_path"`
	ManifestPath string        `json:"manifest_path"`
	Header       replay.Header `json:"header"`
}

// Bundle returns the directory holding the match artefacts.
func (e Entry) Bundle() string { return filepath.Dir(e.HeaderPath) }

// List walks the directory tree and returns the header of every finished bundle. Bundles still
// being recorded have no header yet and are skipped.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- Walk the directory tree searching for bundle headers.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "header.json" {
			return nil
		}
		header, err := replay.ReadHeader(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		manifestPath := header.FilePointer
		if !filepath.IsAbs(manifestPath) {
			manifestPath = filepath.Join(filepath.Dir(path), manifestPath)
		}
		entries = append(entries, Entry{HeaderPath: path, ManifestPath: manifestPath, Header: header})
		return nil
	})
	if err != nil {
		return nil, err
	}
	//2.- Order by match then path so repeated runs print the same catalogue.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.MatchID == entries[j].Header.MatchID {
			return entries[i].HeaderPath < entries[j].HeaderPath
		}
		return entries[i].Header.MatchID < entries[j].Header.MatchID
	})
	return entries, nil
}

// Filter keeps the entries won by team. An empty team keeps everything.
func Filter(entries []Entry, team string) []Entry {
	if team == "" {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if strings.EqualFold(entry.Header.Winner, team) {
			out = append(out, entry)
		}
	}
	return out
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
