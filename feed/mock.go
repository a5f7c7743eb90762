package feed

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/siryo169/Genesis/pipeline"
)

// mockFilenames seed the synthetic runs; extensions cover what the ingest
// watcher accepts so extension filters have something to chew on.
var mockFilenames = []string{
	"customers_export.csv",
	"orders_2025.tsv",
	"leads_batch.psv",
	"subscribers.txt",
	"inventory.xlsx",
	"transactions.json",
	"users_dump.sql",
	"contacts_q2.csv",
}

var mockModels = []string{"Gemini 2.5 Flash", "Gemini 2.5 Pro"}

var mockFields = [][]string{
	{"name", "email", "phone"},
	{"order_id", "amount", "currency", "country"},
	{"first_name", "last_name", "address", "zip", "city"},
	{"email", "signup_date"},
}

// MockGenerator fabricates evolving snapshots for mock mode: every Advance
// call progresses each run one step through its stages, so the dashboard
// shows realistic motion without a backend.
type MockGenerator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	entries []mockRun
	now     func() time.Time
}

type mockRun struct {
	entry pipeline.Entry
	// stageIdx is the next stage to start; len(Stages) means all done.
	stageIdx int
	failAt   int // stage index that errors, -1 for a clean run
}

// NewMockGenerator seeds count synthetic runs. A zero seed derives one from
// the clock.
func NewMockGenerator(count int, seed int64) *MockGenerator {
	if count <= 0 {
		count = 8
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &MockGenerator{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
	for i := 0; i < count; i++ {
		g.entries = append(g.entries, g.newRun(i))
	}
	return g
}

func (g *MockGenerator) newRun(i int) mockRun {
	now := g.now().UTC()
	filename := mockFilenames[g.rng.Intn(len(mockFilenames))]
	entry := pipeline.Entry{
		ID:            fmt.Sprintf("mock-%d-%04x", i, g.rng.Intn(0xffff)),
		Filename:      filename,
		Status:        pipeline.StatusEnqueued,
		InsertionDate: now.Add(-time.Duration(g.rng.Intn(120)) * time.Minute),
		AIModel:       mockModels[g.rng.Intn(len(mockModels))],
		StageStats:    make(map[pipeline.Stage]pipeline.StageStat),
	}
	// Roughly a third of runs carry no explicit priority, exercising the
	// default-resolution path downstream.
	if g.rng.Intn(3) > 0 {
		entry.Priority = 1 + g.rng.Intn(5)
	}
	failAt := -1
	if g.rng.Intn(5) == 0 {
		failAt = g.rng.Intn(len(pipeline.Stages))
	}
	return mockRun{entry: entry, failAt: failAt}
}

// Snapshot returns the current synthetic snapshot without advancing it.
func (g *MockGenerator) Snapshot() pipeline.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Advance progresses every run one step and returns the new snapshot.
// Completed runs are recycled into fresh enqueued ones so the view keeps
// changing.
func (g *MockGenerator) Advance() pipeline.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.entries {
		g.advanceRun(&g.entries[i], i)
	}
	return g.snapshotLocked()
}

func (g *MockGenerator) advanceRun(run *mockRun, i int) {
	e := &run.entry
	now := g.now().UTC()

	switch e.Status {
	case pipeline.StatusEnqueued:
		e.Status = pipeline.StatusRunning
		e.StartTime = &now
		g.startStage(run, now)
	case pipeline.StatusRunning:
		g.finishStage(run, now)
		if e.Status != pipeline.StatusRunning {
			return // errored in finishStage
		}
		if run.stageIdx >= len(pipeline.Stages) {
			e.Status = pipeline.StatusOK
			e.EndTime = &now
			e.DurationMS = int64(now.Sub(*e.StartTime) / time.Millisecond)
			return
		}
		g.startStage(run, now)
	case pipeline.StatusOK, pipeline.StatusError:
		// Recycle finished runs after a while so the table stays lively.
		if g.rng.Intn(4) == 0 {
			*run = g.newRun(i)
		}
	}
}

func (g *MockGenerator) startStage(run *mockRun, now time.Time) {
	stage := pipeline.Stages[run.stageIdx]
	run.entry.StageStats[stage] = pipeline.StageStat{
		Status:    pipeline.StatusRunning,
		StartTime: &now,
	}
}

func (g *MockGenerator) finishStage(run *mockRun, now time.Time) {
	e := &run.entry
	stage := pipeline.Stages[run.stageIdx]
	stat := e.StageStats[stage]
	stat.EndTime = &now

	if run.stageIdx == run.failAt {
		stat.Status = pipeline.StatusError
		stat.ErrorMessage = "synthetic failure"
		e.StageStats[stage] = stat
		e.Status = pipeline.StatusError
		e.ErrorMessage = fmt.Sprintf("%s failed", stage)
		e.EndTime = &now
		return
	}

	stat.Status = pipeline.StatusOK
	e.StageStats[stage] = stat

	if stage == pipeline.StageAIQuery {
		e.InputTokens = int64(500 + g.rng.Intn(5000))
		e.OutputTokens = int64(100 + g.rng.Intn(1500))
		e.TotalTokens = e.InputTokens + e.OutputTokens
		e.EstimatedCost = float64(e.TotalTokens) * 0.0000004
		e.ExtractedFields = mockFields[g.rng.Intn(len(mockFields))]
	}
	run.stageIdx++
}

// snapshotLocked deep-copies entries so listeners never observe later
// mutations of the generator's working state.
func (g *MockGenerator) snapshotLocked() pipeline.Snapshot {
	out := make(pipeline.Snapshot, len(g.entries))
	for i := range g.entries {
		e := g.entries[i].entry
		if len(e.StageStats) > 0 {
			stages := make(map[pipeline.Stage]pipeline.StageStat, len(e.StageStats))
			for k, v := range e.StageStats {
				stages[k] = v
			}
			e.StageStats = stages
		}
		out[i] = e
	}
	return out
}
