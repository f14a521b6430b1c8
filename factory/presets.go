package factory

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/warp/load-engine/loadplan"
)

// =============================================================================
// PRESET FLIGHTS
// =============================================================================

//go:embed presets/*.yaml presets/*.json
var presetFS embed.FS

// Presets returns the embedded preset flights, ordered by file name.
// The server seeds its store with them on start.
func (f *SnapshotFactory) Presets() ([]loadplan.Snapshot, error) {
	entries, err := fs.ReadDir(presetFS, "presets")
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	snaps := make([]loadplan.Snapshot, 0, len(entries))
	for _, e := range entries {
		name := path.Join("presets", e.Name())
		format, err := FormatFromPath(name)
		if err != nil {
			continue
		}
		data, err := presetFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read preset %s: %w", name, err)
		}
		snap, err := f.Parse(data, format)
		if err != nil {
			return nil, fmt.Errorf("preset %s: %w", name, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
