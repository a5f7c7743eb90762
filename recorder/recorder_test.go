package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/siryo169/Genesis/pipeline"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(filepath.Join(t.TempDir(), "metrics.db"), time.Hour)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func entryAt(id string, at time.Time, input, output int64, cost float64) pipeline.Entry {
	return pipeline.Entry{
		ID:            id,
		Filename:      id + ".csv",
		Status:        pipeline.StatusOK,
		InsertionDate: at,
		InputTokens:   input,
		OutputTokens:  output,
		TotalTokens:   input + output,
		EstimatedCost: cost,
	}
}

func TestObserveAndQuery(t *testing.T) {
	r := newTestRecorder(t)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	r.Observe(pipeline.Snapshot{
		entryAt("a", base, 1000, 200, 0.001),
		entryAt("b", base.Add(time.Hour), 500, 100, 0.0005),
		entryAt("c", base.Add(48*time.Hour), 9000, 900, 0.01),
	})
	r.flush()

	samples, err := r.SamplesBetween(base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("SamplesBetween: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2 (range should exclude the 48h entry)", len(samples))
	}
	if samples[0].InputTokens != 1000 || samples[1].InputTokens != 500 {
		t.Errorf("samples out of order or wrong: %+v", samples)
	}

	n, err := r.RunCount()
	if err != nil {
		t.Fatalf("RunCount: %v", err)
	}
	if n != 3 {
		t.Errorf("RunCount = %d, want 3", n)
	}
}

func TestUpsertKeepsLatest(t *testing.T) {
	r := newTestRecorder(t)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	// The same run arrives twice, first mid-flight without metrics, then
	// finished with them. Only one row must remain, with the final values.
	early := entryAt("run-1", base, 0, 0, 0)
	early.Status = pipeline.StatusRunning
	r.Observe(pipeline.Snapshot{early})
	r.flush()

	r.Observe(pipeline.Snapshot{entryAt("run-1", base, 2000, 400, 0.002)})
	r.flush()

	n, err := r.RunCount()
	if err != nil {
		t.Fatalf("RunCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("RunCount = %d, want 1", n)
	}
	samples, err := r.SamplesBetween(base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("SamplesBetween: %v", err)
	}
	if len(samples) != 1 || samples[0].InputTokens != 2000 || samples[0].Cost != 0.002 {
		t.Fatalf("upsert did not keep latest values: %+v", samples)
	}
}

func TestObserveSkipsEmptyIDs(t *testing.T) {
	r := newTestRecorder(t)
	r.Observe(pipeline.Snapshot{{Filename: "orphan.csv"}})
	r.flush()

	n, err := r.RunCount()
	if err != nil {
		t.Fatalf("RunCount: %v", err)
	}
	if n != 0 {
		t.Errorf("RunCount = %d, want 0", n)
	}
}

func TestCloseFlushesPending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.db")
	r, err := NewRecorder(path, time.Hour)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	r.Observe(pipeline.Snapshot{entryAt("x", base, 10, 5, 0.0001)})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	r2, err := NewRecorder(path, time.Hour)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r2.Close()
	n, err := r2.RunCount()
	if err != nil {
		t.Fatalf("RunCount: %v", err)
	}
	if n != 1 {
		t.Errorf("RunCount after reopen = %d, want 1", n)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Observe(pipeline.Snapshot{entryAt("a", time.Now(), 1, 1, 0)})
	if _, err := r.SamplesBetween(time.Time{}, time.Now()); err != nil {
		t.Fatalf("nil SamplesBetween: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
