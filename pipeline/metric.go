package pipeline

import "time"

// MetricSample is one irregular timestamped observation of work completed:
// token usage and estimated cost for a single run. Samples feed the bucket
// aggregator for charting.
type MetricSample struct {
	Time         time.Time
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// TotalTokens returns the combined token count for the sample.
func (m MetricSample) TotalTokens() int64 {
	return m.InputTokens + m.OutputTokens
}

// SamplesFromEntries extracts one metric sample per entry that carries token
// or cost data, stamped with the entry's insertion date. Entries without
// usable metrics (nothing consumed yet) produce no sample.
func SamplesFromEntries(entries Snapshot) []MetricSample {
	samples := make([]MetricSample, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.InputTokens == 0 && e.OutputTokens == 0 && e.EstimatedCost == 0 {
			continue
		}
		if e.InsertionDate.IsZero() {
			continue
		}
		samples = append(samples, MetricSample{
			Time:         e.InsertionDate,
			InputTokens:  e.InputTokens,
			OutputTokens: e.OutputTokens,
			Cost:         e.EstimatedCost,
		})
	}
	return samples
}
