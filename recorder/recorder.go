// Package recorder persists per-run token and cost metrics to SQLite so
// charts can be rebuilt offline and across restarts, without slowing the live
// feed.
package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/siryo169/Genesis/pipeline"
	"github.com/siryo169/Genesis/sqliteutil"
)

// Recorder upserts one row per pipeline run, keyed by run id. Snapshots
// re-deliver the same runs repeatedly; the upsert keeps the latest observed
// metrics for each.
type Recorder struct {
	db *sql.DB

	mu      sync.Mutex
	pending map[string]pipeline.Entry
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewRecorder opens (or creates) the SQLite database at path, ensures the
// schema, and starts the flush loop. A zero flushInterval defaults to 5s.
func NewRecorder(path string, flushInterval time.Duration) (*Recorder, error) {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir: %w", err)
	}
	// A corrupt or wedged file from an unclean shutdown gets quarantined so
	// startup never stalls on it.
	if _, err := sqliteutil.Preflight(path, "metrics", 2*time.Second, log.Printf); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	r := &Recorder{
		db:      db,
		pending: make(map[string]pipeline.Entry),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.flushLoop(flushInterval)
	return r, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("recorder: enable WAL: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS run_metrics (
    run_id TEXT PRIMARY KEY,
    filename TEXT,
    status TEXT,
    inserted_at INTEGER,
    input_tokens INTEGER,
    output_tokens INTEGER,
    total_tokens INTEGER,
    estimated_cost REAL,
    updated_at INTEGER
);
CREATE INDEX IF NOT EXISTS run_metrics_inserted_at ON run_metrics (inserted_at);`
	_, err := db.Exec(schema)
	return err
}

// Observe queues every entry of the snapshot for the next flush. Cheap to
// call from a feed listener; the database is only touched by the flush loop.
func (r *Recorder) Observe(snap pipeline.Snapshot) {
	if r == nil || r.db == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range snap {
		if snap[i].ID == "" {
			continue
		}
		r.pending[snap[i].ID] = snap[i]
	}
}

func (r *Recorder) flushLoop(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.quit:
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = make(map[string]pipeline.Entry)
	r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		log.Printf("recorder: begin flush: %v", err)
		return
	}
	now := time.Now().UTC().Unix()
	for _, e := range batch {
		_, err := tx.Exec(`
INSERT INTO run_metrics (
    run_id, filename, status, inserted_at,
    input_tokens, output_tokens, total_tokens, estimated_cost, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
    filename = excluded.filename,
    status = excluded.status,
    inserted_at = excluded.inserted_at,
    input_tokens = excluded.input_tokens,
    output_tokens = excluded.output_tokens,
    total_tokens = excluded.total_tokens,
    estimated_cost = excluded.estimated_cost,
    updated_at = excluded.updated_at`,
			e.ID,
			e.Filename,
			string(e.DerivedStatus()),
			e.InsertionDate.UTC().Unix(),
			e.InputTokens,
			e.OutputTokens,
			e.TotalTokens,
			e.EstimatedCost,
			now,
		)
		if err != nil {
			tx.Rollback()
			log.Printf("recorder: upsert run %s: %v", e.ID, err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("recorder: commit flush: %v", err)
	}
}

// SamplesBetween returns one metric sample per recorded run with
// inserted_at in [from, to), ordered by insertion time. Feeds the bucket
// aggregator when the backend metrics endpoint is unreachable.
func (r *Recorder) SamplesBetween(from, to time.Time) ([]pipeline.MetricSample, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	rows, err := r.db.Query(`
SELECT inserted_at, input_tokens, output_tokens, estimated_cost
FROM run_metrics
WHERE inserted_at >= ? AND inserted_at < ?
ORDER BY inserted_at ASC`,
		from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("recorder: query samples: %w", err)
	}
	defer rows.Close()

	var out []pipeline.MetricSample
	for rows.Next() {
		var at int64
		var s pipeline.MetricSample
		if err := rows.Scan(&at, &s.InputTokens, &s.OutputTokens, &s.Cost); err != nil {
			return nil, fmt.Errorf("recorder: scan sample: %w", err)
		}
		s.Time = time.Unix(at, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// RunCount reports how many runs are recorded.
func (r *Recorder) RunCount() (int64, error) {
	if r == nil || r.db == nil {
		return 0, nil
	}
	var n int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM run_metrics`).Scan(&n)
	return n, err
}

// Close flushes any queued entries and closes the database. Idempotent.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	r.once.Do(func() {
		close(r.quit)
		<-r.done
	})
	return r.db.Close()
}
