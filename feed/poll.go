package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxPullBody bounds how much of a pull response is read; the status endpoint
// returns one JSON array and anything past this is a misbehaving server.
const maxPullBody = 32 << 20

// Puller issues one-off requests against the pull endpoint. It serves the
// initial live-mode fetch, fallback polling, and forced refreshes.
type Puller struct {
	url    string
	client *http.Client
}

// NewPuller creates a puller for the status endpoint URL.
func NewPuller(url string, timeout time.Duration) *Puller {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Puller{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch performs one GET and returns the raw payload. Errors are wrapped as
// FetchError so listeners can distinguish them from parse failures.
func (p *Puller) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, &FetchError{URL: p.url, Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: p.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: p.url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPullBody))
	if err != nil {
		return nil, &FetchError{URL: p.url, Err: err}
	}
	return body, nil
}
