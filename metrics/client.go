// Package metrics talks to the backend's aggregated metrics endpoint. The
// backend pre-buckets token and cost totals server-side; the report converts
// back to flat samples so the bucket package can re-bucket locally at any
// granularity.
package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/siryo169/Genesis/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxReportBody = 8 << 20

// Report mirrors the metrics endpoint response: parallel arrays indexed by
// bucket, with bucket start times as RFC3339 strings.
type Report struct {
	Buckets          []string `json:"buckets"`
	TokenConsumption struct {
		Input  []int64 `json:"input"`
		Output []int64 `json:"output"`
		Total  []int64 `json:"total"`
	} `json:"token_consumption"`
	Cost       []float64 `json:"cost"`
	TotalFiles []int64   `json:"total_files"`
}

// Samples flattens the report into one sample per bucket, carrying the bucket
// start time. Buckets whose timestamp fails to parse are skipped.
func (r *Report) Samples() []pipeline.MetricSample {
	out := make([]pipeline.MetricSample, 0, len(r.Buckets))
	for i, raw := range r.Buckets {
		t, err := pipeline.ParseTimestamp(raw)
		if err != nil {
			continue
		}
		s := pipeline.MetricSample{Time: t}
		if i < len(r.TokenConsumption.Input) {
			s.InputTokens = r.TokenConsumption.Input[i]
		}
		if i < len(r.TokenConsumption.Output) {
			s.OutputTokens = r.TokenConsumption.Output[i]
		}
		if i < len(r.Cost) {
			s.Cost = r.Cost[i]
		}
		out = append(out, s)
	}
	return out
}

// Files returns the per-bucket processed-file counts, aligned with Samples.
func (r *Report) Files() []int64 {
	out := make([]int64, len(r.Buckets))
	copy(out, r.TotalFiles)
	return out
}

// Client fetches metric reports. Range and bucket accept the server's values
// ("24h", "7d", "30d", "auto" and "hour", "day", "week", "auto"); empty means
// auto.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:    endpoint,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch requests one report.
func (c *Client) Fetch(ctx context.Context, rng, bucket string) (*Report, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("metrics endpoint: %w", err)
	}
	q := u.Query()
	if rng != "" {
		q.Set("range", rng)
	}
	if bucket != "" {
		q.Set("bucket", bucket)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metrics fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics fetch: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBody))
	if err != nil {
		return nil, fmt.Errorf("metrics fetch: %w", err)
	}

	var report Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("metrics decode: %w", err)
	}
	if err := report.validate(); err != nil {
		return nil, fmt.Errorf("metrics decode: %w", err)
	}
	return &report, nil
}

// validate rejects reports whose arrays disagree on length past what Samples
// can tolerate; short token arrays zero-fill, longer ones mean a protocol
// mismatch.
func (r *Report) validate() error {
	n := len(r.Buckets)
	for name, l := range map[string]int{
		"token_consumption.input":  len(r.TokenConsumption.Input),
		"token_consumption.output": len(r.TokenConsumption.Output),
		"token_consumption.total":  len(r.TokenConsumption.Total),
		"cost":                     len(r.Cost),
		"total_files":              len(r.TotalFiles),
	} {
		if l > n {
			return fmt.Errorf("%s has %d values for %d buckets", name, l, n)
		}
	}
	return nil
}
