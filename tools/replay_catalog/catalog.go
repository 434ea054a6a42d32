// Package replaycatalog lists recorded replay bundles and mirrors them into
// a queryable SQLite index.
package replaycatalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"arenareplay/engine/internal/replay"
)

// Entry captures one bundle's manifest alongside its optional header.
type Entry struct {
	Dir      string          `json:"dir"`
	Manifest replay.Manifest `json:"manifest"`
	Header   *replay.Header  `json:"header,omitempty"`
}

// Rounds totals the recorded rounds across every match in the bundle.
func (e Entry) Rounds() int32 {
	var total int32
	for _, m := range e.Manifest.Matches {
		total += m.Rounds
	}
	return total
}

// List walks the directory tree and returns every bundle it can parse,
// oldest first.
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
	//1.- Walk the directory tree searching for bundle manifests.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "manifest.json" {
			return nil
		}
		manifest, dir, err := replay.ReadManifest(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		entry := Entry{Dir: dir, Manifest: manifest}
		//2.- Bundles still being recorded have no header yet.
		if manifest.HeaderPath != "" {
			header, err := replay.ReadHeader(filepath.Join(dir, manifest.HeaderPath))
			switch {
			case err == nil:
				entry.Header = &header
			case !errors.Is(err, fs.ErrNotExist):
				return fmt.Errorf("%s: %w", dir, err)
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].Dir < entries[j].Dir
		}
		return entries[i].Manifest.CreatedAt < entries[j].Manifest.CreatedAt
	})
	return entries, nil
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
