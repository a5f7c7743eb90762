package metrics

import (
	"context"
	"log"
	"sync"
	"time"
)

// Poller keeps the latest metrics report cached, refreshing it on an
// interval. Callers read Latest without ever blocking on the network.
type Poller struct {
	client   *Client
	interval time.Duration
	rng      string
	bucket   string

	mu      sync.RWMutex
	latest  *Report
	fetched time.Time
}

func NewPoller(client *Client, interval time.Duration, rng, bucket string) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{client: client, interval: interval, rng: rng, bucket: bucket}
}

// Start fetches once and then refreshes on the interval until ctx is done.
func (p *Poller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	go func() {
		p.refresh(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.refresh(ctx)
			}
		}
	}()
}

func (p *Poller) refresh(ctx context.Context) {
	report, err := p.client.Fetch(ctx, p.rng, p.bucket)
	if err != nil {
		log.Printf("metrics: refresh failed: %v", err)
		return
	}
	p.mu.Lock()
	p.latest = report
	p.fetched = time.Now()
	p.mu.Unlock()
}

// Latest returns the most recent report and when it was fetched. Nil until
// the first successful refresh.
func (p *Poller) Latest() (*Report, time.Time) {
	if p == nil {
		return nil, time.Time{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.fetched
}
