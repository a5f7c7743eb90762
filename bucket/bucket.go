// Package bucket turns irregular timestamped metric samples into contiguous,
// adaptively-sized time buckets for charting. The bucket width is chosen from
// a fixed ladder keyed by the span of the requested range, so short ranges get
// fine-grained buckets and long ranges stay readable.
package bucket

import (
	"sort"
	"time"

	"github.com/siryo169/Genesis/pipeline"
)

// Metric selects which sample field a bucket aggregates.
type Metric int

const (
	MetricInputTokens Metric = iota
	MetricOutputTokens
	MetricTotalTokens
	MetricCost
)

// Bucket is one fixed-width interval [Start, End) with the summed metric
// value of all samples falling inside it. Empty intervals are zero-filled so
// charts render continuous axes over sparse data.
type Bucket struct {
	Label string
	Start time.Time
	End   time.Time
	Value float64
}

const (
	subDayLabel   = "15:04"
	calendarLabel = "Jan 02"
)

// WidthFor returns the bucket width for a range span. The ladder matches the
// chart granularities the dashboard offers, from 15 minutes up to one day.
func WidthFor(span time.Duration) time.Duration {
	switch {
	case span <= 2*time.Hour:
		return 15 * time.Minute
	case span <= 4*time.Hour:
		return 30 * time.Minute
	case span <= 24*time.Hour:
		return time.Hour
	case span <= 3*24*time.Hour:
		return 6 * time.Hour
	case span <= 7*24*time.Hour:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Aggregate buckets samples over the half-open range [from, to). Buckets are
// contiguous, non-overlapping, and their union is exactly [from, to); the
// final bucket is clipped when the span is not a whole multiple of the width.
// The sum of all bucket values equals the sum of all in-range sample values.
//
// A nil slice is returned when the range is empty or inverted.
func Aggregate(from, to time.Time, samples []pipeline.MetricSample, metric Metric) []Bucket {
	if !to.After(from) {
		return nil
	}
	width := WidthFor(to.Sub(from))

	// Sort a copy by timestamp; callers may hand over samples in any order.
	sorted := make([]pipeline.MetricSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	count := int((to.Sub(from) + width - 1) / width)
	buckets := make([]Bucket, 0, count)

	idx := 0
	// Skip samples before the range start.
	for idx < len(sorted) && sorted[idx].Time.Before(from) {
		idx++
	}

	labelLayout := subDayLabel
	if width >= 24*time.Hour {
		labelLayout = calendarLabel
	}

	for start := from; start.Before(to); start = start.Add(width) {
		end := start.Add(width)
		if end.After(to) {
			end = to
		}
		b := Bucket{
			Label: start.Format(labelLayout),
			Start: start,
			End:   end,
		}
		for idx < len(sorted) && sorted[idx].Time.Before(end) {
			b.Value += metricValue(sorted[idx], metric)
			idx++
		}
		buckets = append(buckets, b)
	}
	return buckets
}

func metricValue(s pipeline.MetricSample, metric Metric) float64 {
	switch metric {
	case MetricInputTokens:
		return float64(s.InputTokens)
	case MetricOutputTokens:
		return float64(s.OutputTokens)
	case MetricTotalTokens:
		return float64(s.TotalTokens())
	case MetricCost:
		return s.Cost
	default:
		return 0
	}
}
