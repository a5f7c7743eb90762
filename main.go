// Program genesis-dash keeps a console view of pipeline runs synchronized
// with the Genesis backend: a push channel (WebSocket or MQTT) with fallback
// polling, a synthetic mock mode, local metric history, and a filtered,
// sorted run table.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/siryo169/Genesis/config"
	"github.com/siryo169/Genesis/feed"
	"github.com/siryo169/Genesis/metrics"
	"github.com/siryo169/Genesis/pipeline"
	"github.com/siryo169/Genesis/recorder"
	"github.com/siryo169/Genesis/stats"
	"github.com/siryo169/Genesis/strutil"
	"github.com/siryo169/Genesis/view"
)

const (
	defaultConfigPath = "data/config.yaml"
	envConfigPath     = "GENESIS_CONFIG_PATH"
	statsInterval     = 30 * time.Second
)

// Version is stamped at build time.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "config file path (overrides "+envConfigPath+")")
	modeFlag := flag.String("mode", "", "force data source mode: mock or live")
	modelFlag := flag.String("model", "", "show only runs for this AI model (closest known name is suggested on a miss)")
	flag.Parse()

	cfg, source, err := loadDashConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	log.Printf("Loaded configuration from %s", source)

	if err := setupLogging(cfg.Logging); err != nil {
		log.Printf("Warning: log file unavailable: %v", err)
	}
	log.Printf("Genesis dashboard v%s starting...", Version)
	cfg.Print()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := stats.NewTracker()
	mgr := feed.NewManager(managerOptions(cfg, *modeFlag, tracker))

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.NewRecorder(cfg.Recorder.Path, secs(cfg.Recorder.FlushIntervalSec))
		if err != nil {
			log.Printf("Warning: recorder disabled: %v", err)
		} else {
			defer rec.Close()
		}
	}

	var poller *metrics.Poller
	if cfg.Metrics.Enabled && cfg.Metrics.URL != "" {
		client := metrics.NewClient(cfg.Metrics.URL, secs(cfg.Feed.RequestTimeoutSec))
		poller = metrics.NewPoller(client, secs(cfg.Metrics.RefreshIntervalSec), cfg.Metrics.Range, cfg.Metrics.Bucket)
		poller.Start(ctx)
	}

	filter := loadStartupFilter(cfg.View)
	con := newConsole(filter)
	if !con.tty {
		log.Printf("stdout is not a terminal; run table disabled")
	}

	// The model filter needs the snapshot's known model names for its
	// "did you mean" suggestion, so it applies on the first non-empty one.
	var modelOnce sync.Once
	unsub := mgr.Subscribe(
		func(snap pipeline.Snapshot) {
			if *modelFlag != "" && len(snap) > 0 {
				modelOnce.Do(func() { con.SetModelFilter(snap, *modelFlag) })
			}
			rec.Observe(snap)
			con.Render(snap)
		},
		func(err error) {
			log.Printf("feed error: %v", err)
		},
	)
	defer unsub()

	mgr.Start()
	defer mgr.Close()

	go statsLoop(ctx, mgr, tracker, rec)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down", sig)
}

// loadDashConfig resolves the config path from the flag, the environment, and
// the default location, in that order. A missing default file yields a usable
// mock-mode config instead of an error.
func loadDashConfig(flagPath string) (*config.Config, string, error) {
	path := strings.TrimSpace(flagPath)
	explicit := path != ""
	if !explicit {
		if env := strings.TrimSpace(os.Getenv(envConfigPath)); env != "" {
			path = env
			explicit = true
		} else {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return &config.Config{}, "defaults (no config file)", nil
		}
		return nil, "", err
	}
	return cfg, path, nil
}

func managerOptions(cfg *config.Config, modeFlag string, tracker *stats.Tracker) feed.Options {
	opts := feed.Options{
		PollInterval:   secs(cfg.Feed.PollIntervalSec),
		ReconnectDelay: secs(cfg.Feed.ReconnectDelaySec),
		MockInterval:   secs(cfg.Feed.MockIntervalSec),
		MockEntries:    cfg.Feed.MockEntries,
		MockSeed:       cfg.Feed.MockSeed,
		PrefsPath:      cfg.Feed.PrefsPath,
		Stats:          tracker,
	}

	mode := strutil.NormalizeLower(modeFlag)
	if mode == "" {
		mode = strutil.NormalizeLower(cfg.Feed.Mode)
	}
	switch mode {
	case "mock":
		opts.InitialMode = feed.ModeMock
	case "live":
		opts.InitialMode = feed.ModeLive
	}

	if cfg.Feed.PullURL != "" {
		opts.Puller = feed.NewPuller(cfg.Feed.PullURL, secs(cfg.Feed.RequestTimeoutSec))
	}
	switch cfg.Feed.Push.Kind {
	case "websocket":
		opts.Transport = feed.NewWebSocketTransport(cfg.Feed.Push.URL)
	case "mqtt":
		opts.Transport = feed.NewMQTTTransport(cfg.Feed.Push.Broker, cfg.Feed.Push.Port, cfg.Feed.Push.Topic)
	}
	return opts
}

// loadStartupFilter restores the configured preset, falling back to an empty
// filter when none is set or loading fails.
func loadStartupFilter(vc config.ViewConfig) *view.Filter {
	if vc.PresetDir != "" {
		view.PresetDir = vc.PresetDir
	}
	if vc.DefaultPreset == "" {
		return view.NewFilter()
	}
	f, err := view.LoadPreset(vc.DefaultPreset)
	if err != nil {
		log.Printf("Warning: preset %q not loaded: %v", vc.DefaultPreset, err)
		return view.NewFilter()
	}
	log.Printf("Loaded filter preset %q", vc.DefaultPreset)
	return f
}

// statsLoop prints one status line per interval: mode, connection state, run
// counts and the feed counters.
func statsLoop(ctx context.Context, mgr *feed.Manager, tracker *stats.Tracker, rec *recorder.Recorder) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := mgr.Snapshot()
			line := fmt.Sprintf("mode=%s conn=%s runs=%d %s uptime=%s",
				mgr.CurrentMode(), mgr.ConnectionState(), len(snap),
				tracker.SummaryLine(), tracker.Uptime().Round(time.Second))
			if n, err := rec.RunCount(); err == nil && n > 0 {
				line += fmt.Sprintf(" recorded=%d", n)
			}
			log.Print(line)
		}
	}
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
