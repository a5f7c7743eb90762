package view

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/siryo169/Genesis/strutil"
)

// PresetDir is where named filter presets are stored (relative to working
// dir). Overridable from config before any preset call.
var PresetDir = "data/presets"

// SavePreset persists a filter under a name to data/presets/<name>.yaml.
// Names are lowercased for filename stability.
func SavePreset(name string, f *Filter) error {
	name = normalizePresetName(name)
	if name == "" {
		return errors.New("empty preset name")
	}
	if err := os.MkdirAll(PresetDir, 0o755); err != nil {
		return err
	}
	bs, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(PresetDir, name+".yaml"), bs, 0o644)
}

// LoadPreset loads a saved filter by name. Returns os.ErrNotExist when no
// preset file is found.
func LoadPreset(name string) (*Filter, error) {
	name = normalizePresetName(name)
	if name == "" {
		return nil, errors.New("empty preset name")
	}
	bs, err := os.ReadFile(filepath.Join(PresetDir, name+".yaml"))
	if err != nil {
		return nil, err
	}
	var f Filter
	if err := yaml.Unmarshal(bs, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ListPresets returns the names of all saved presets, sorted by the
// filesystem's directory order.
func ListPresets() ([]string, error) {
	entries, err := os.ReadDir(PresetDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	return names, nil
}

func normalizePresetName(name string) string {
	// Keep preset names path-safe.
	return strings.ReplaceAll(strutil.NormalizeLower(name), string(os.PathSeparator), "-")
}
