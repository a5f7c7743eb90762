package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/siryo169/Genesis/bucket"
	"github.com/siryo169/Genesis/feed"
	"github.com/siryo169/Genesis/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// loadharness is a synthetic backend for exercising the dashboard end to end
// without the real pipeline: it serves the pull endpoint, the WebSocket push
// endpoint, and the metrics endpoint from one evolving mock generator.
func main() {
	var (
		addr     = flag.String("addr", ":8000", "listen address")
		entries  = flag.Int("entries", 16, "synthetic run count")
		seed     = flag.Int64("seed", 0, "generator seed (0 derives from the clock)")
		interval = flag.Duration("interval", 2*time.Second, "advance and push interval")
	)
	flag.Parse()

	h := newHarness(*entries, *seed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.advanceLoop(ctx, *interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/pipeline/status", h.handleStatus)
	mux.HandleFunc("/api/pipeline/metrics", h.handleMetrics)
	mux.HandleFunc("/ws/pipeline", h.handleWS)

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.Printf("loadharness: serving %d synthetic runs on %s", *entries, *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("loadharness: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("loadharness: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

type harness struct {
	gen      *feed.MockGenerator
	upgrader websocket.Upgrader

	mu      sync.Mutex
	current pipeline.Snapshot
	clients map[*websocket.Conn]bool
}

func newHarness(entries int, seed int64) *harness {
	gen := feed.NewMockGenerator(entries, seed)
	return &harness{
		gen:      gen,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		current:  gen.Snapshot(),
		clients:  make(map[*websocket.Conn]bool),
	}
}

// advanceLoop progresses the generator and pushes the full snapshot to every
// connected WebSocket client, matching the real backend's periodic re-send.
func (h *harness) advanceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := h.gen.Advance()
			payload, err := json.Marshal(snap)
			if err != nil {
				log.Printf("loadharness: marshal: %v", err)
				continue
			}
			h.mu.Lock()
			h.current = snap
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *harness) snapshot() pipeline.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *harness) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.snapshot()); err != nil {
		log.Printf("loadharness: status encode: %v", err)
	}
}

func (h *harness) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("loadharness: upgrade: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	log.Printf("loadharness: ws client connected (%s)", r.RemoteAddr)

	// Drain control frames; the harness only ever writes.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				delete(h.clients, conn)
				h.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

// metricsResponse matches the backend's aggregated metrics shape.
type metricsResponse struct {
	Buckets          []string `json:"buckets"`
	TokenConsumption struct {
		Input  []int64 `json:"input"`
		Output []int64 `json:"output"`
		Total  []int64 `json:"total"`
	} `json:"token_consumption"`
	Cost       []float64 `json:"cost"`
	TotalFiles []int64   `json:"total_files"`
}

func (h *harness) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	snap := h.snapshot()
	samples := pipeline.SamplesFromEntries(snap)
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)

	var resp metricsResponse
	input := bucket.Aggregate(from, now, samples, bucket.MetricInputTokens)
	output := bucket.Aggregate(from, now, samples, bucket.MetricOutputTokens)
	total := bucket.Aggregate(from, now, samples, bucket.MetricTotalTokens)
	cost := bucket.Aggregate(from, now, samples, bucket.MetricCost)
	for i := range input {
		resp.Buckets = append(resp.Buckets, input[i].Start.Format(time.RFC3339))
		resp.TokenConsumption.Input = append(resp.TokenConsumption.Input, int64(input[i].Value))
		resp.TokenConsumption.Output = append(resp.TokenConsumption.Output, int64(output[i].Value))
		resp.TokenConsumption.Total = append(resp.TokenConsumption.Total, int64(total[i].Value))
		resp.Cost = append(resp.Cost, cost[i].Value)
		files := int64(0)
		for _, s := range samples {
			if !s.Time.Before(input[i].Start) && s.Time.Before(input[i].End) {
				files++
			}
		}
		resp.TotalFiles = append(resp.TotalFiles, files)
	}
	if resp.Buckets == nil {
		resp.Buckets = []string{}
		resp.TokenConsumption.Input = []int64{}
		resp.TokenConsumption.Output = []int64{}
		resp.TokenConsumption.Total = []int64{}
		resp.Cost = []float64{}
		resp.TotalFiles = []int64{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("loadharness: metrics encode: %v", err)
	}
}
