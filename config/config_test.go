package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
feed:
  mode: live
  prefs_path: data/prefs.yml
  pull_url: http://localhost:8000/api/pipeline/status
  poll_interval_sec: 5
  reconnect_delay_sec: 10
  request_timeout_sec: 15
  push:
    kind: websocket
    url: ws://localhost:8000/ws/pipeline
  mock_entries: 12
  mock_interval_sec: 2
metrics:
  enabled: true
  url: http://localhost:8000/api/pipeline/metrics
  refresh_interval_sec: 60
  range: 24h
  bucket: hour
recorder:
  enabled: true
  path: data/metrics.db
  flush_interval_sec: 5
view:
  preset_dir: data/presets
logging:
  file: dashboard.log
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.Mode != "live" {
		t.Errorf("Feed.Mode = %q, want live", cfg.Feed.Mode)
	}
	if cfg.Feed.Push.Kind != "websocket" || cfg.Feed.Push.URL != "ws://localhost:8000/ws/pipeline" {
		t.Errorf("unexpected push config: %+v", cfg.Feed.Push)
	}
	if cfg.Feed.PollIntervalSec != 5 || cfg.Feed.ReconnectDelaySec != 10 {
		t.Errorf("unexpected feed timings: %+v", cfg.Feed)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Range != "24h" {
		t.Errorf("unexpected metrics config: %+v", cfg.Metrics)
	}
	if !cfg.Recorder.Enabled || cfg.Recorder.Path != "data/metrics.db" {
		t.Errorf("unexpected recorder config: %+v", cfg.Recorder)
	}
}

func TestLoadMQTTPush(t *testing.T) {
	path := writeConfig(t, `
feed:
  mode: live
  push:
    kind: mqtt
    broker: mqtt.example.net
    port: 1883
    topic: pipeline/status
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.Push.Broker != "mqtt.example.net" || cfg.Feed.Push.Port != 1883 {
		t.Errorf("unexpected mqtt config: %+v", cfg.Feed.Push)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad mode", "feed:\n  mode: turbo\n"},
		{"bad push kind", "feed:\n  push:\n    kind: carrier-pigeon\n"},
		{"websocket without url", "feed:\n  push:\n    kind: websocket\n"},
		{"mqtt without topic", "feed:\n  push:\n    kind: mqtt\n    broker: b\n"},
		{"not yaml", "{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
