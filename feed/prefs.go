package feed

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// modePrefs is the on-disk shape of the client preference store: one key
// holding the last selected mode, read at manager construction and written on
// every mode switch.
type modePrefs struct {
	Mode Mode `yaml:"mode"`
}

// LoadMode reads the persisted mode preference. Unknown or missing values
// fall back to the provided default so a stale or hand-edited file never
// wedges startup.
func LoadMode(path string, fallback Mode) Mode {
	bs, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	var prefs modePrefs
	if err := yaml.Unmarshal(bs, &prefs); err != nil {
		return fallback
	}
	switch prefs.Mode {
	case ModeMock, ModeLive:
		return prefs.Mode
	default:
		return fallback
	}
}

// SaveMode persists the mode preference, creating the directory if needed.
func SaveMode(path string, mode Mode) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure prefs dir: %w", err)
	}
	bs, err := yaml.Marshal(modePrefs{Mode: mode})
	if err != nil {
		return err
	}
	return os.WriteFile(path, bs, 0o644)
}
