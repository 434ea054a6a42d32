// Package replay stores decoded game event streams as compressed bundles
// and reads them back in their original order.
package replay

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ManifestVersion is the only bundle layout this package reads and writes.
const ManifestVersion = 1

const (
	manifestFile = "manifest.json"
	headerFile   = "header.json"
	eventsFile   = "events.jsonl.sz"
	roundsFile   = "rounds.bin.zst"
)

// ErrInvalidManifest is returned when manifest.json does not match its schema.
var ErrInvalidManifest = errors.New("invalid replay manifest")

//go:embed manifest.schema.json
var manifestSchemaText string

var manifestSchema = jsonschema.MustCompileString("manifest.schema.json", manifestSchemaText)

// ManifestMatch summarises one match stored in the bundle.
type ManifestMatch struct {
	MapName  string `json:"map_name"`
	Rounds   int32  `json:"rounds"`
	Winner   int32  `json:"winner,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

// Manifest describes the replay bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int             `json:"version"`
	CreatedAt       string          `json:"created_at"`
	GameID          string          `json:"game_id"`
	FrameIntervalMs int             `json:"frame_interval_ms"`
	EventsPath      string          `json:"events_path"`
	RoundsPath      string          `json:"rounds_path"`
	HeaderPath      string          `json:"header_path"`
	Complete        bool            `json:"complete"`
	Events          int             `json:"events"`
	Matches         []ManifestMatch `json:"matches"`
}

// ParseManifest validates raw manifest JSON against the bundle schema and
// decodes it.
func ParseManifest(data []byte) (Manifest, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := manifestSchema.Validate(doc); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return manifest, nil
}

// ReadManifest loads manifest.json from a bundle directory, or from the
// manifest path itself.
func ReadManifest(path string) (Manifest, string, error) {
	manifestPath, err := resolveManifest(path)
	if err != nil {
		return Manifest{}, "", err
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Manifest{}, "", err
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return Manifest{}, "", fmt.Errorf("%s: %w", manifestPath, err)
	}
	return manifest, filepath.Dir(manifestPath), nil
}

func writeManifest(dir string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	//1.- Never publish a manifest readers would reject.
	if _, err := ParseManifest(data); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestFile), append(data, '\n'), 0o644)
}

func resolveManifest(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("replay path must be provided")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return filepath.Join(path, manifestFile), nil
	}
	return path, nil
}
