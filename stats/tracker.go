// Package stats tracks feed counters (pushes, polls, reconnects, errors) for
// display in the dashboard's periodic console line.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Tracker counts feed activity. All methods are safe on a nil receiver so
// wiring can leave stats out entirely.
type Tracker struct {
	start           atomic.Int64
	pushes          atomic.Uint64
	polls           atomic.Uint64
	reconnects      atomic.Uint64
	parseErrors     atomic.Uint64
	fetchErrors     atomic.Uint64
	connDrops       atomic.Uint64
	duplicates      atomic.Uint64
	snapshots       atomic.Uint64
	modeSwitches    atomic.Uint64
	droppedDispatch atomic.Uint64
}

// NewTracker creates a tracker with the uptime clock started.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

func (t *Tracker) IncPush() {
	if t != nil {
		t.pushes.Add(1)
	}
}

func (t *Tracker) IncPoll() {
	if t != nil {
		t.polls.Add(1)
	}
}

func (t *Tracker) IncReconnect() {
	if t != nil {
		t.reconnects.Add(1)
	}
}

func (t *Tracker) IncParseError() {
	if t != nil {
		t.parseErrors.Add(1)
	}
}

func (t *Tracker) IncFetchError() {
	if t != nil {
		t.fetchErrors.Add(1)
	}
}

func (t *Tracker) IncConnDrop() {
	if t != nil {
		t.connDrops.Add(1)
	}
}

// IncDuplicate counts payloads skipped because their content hash matched the
// previous one.
func (t *Tracker) IncDuplicate() {
	if t != nil {
		t.duplicates.Add(1)
	}
}

// IncSnapshot counts applied snapshot replacements.
func (t *Tracker) IncSnapshot() {
	if t != nil {
		t.snapshots.Add(1)
	}
}

func (t *Tracker) IncModeSwitch() {
	if t != nil {
		t.modeSwitches.Add(1)
	}
}

// IncDroppedDispatch counts listener callbacks that panicked and were
// isolated.
func (t *Tracker) IncDroppedDispatch() {
	if t != nil {
		t.droppedDispatch.Add(1)
	}
}

func (t *Tracker) Snapshots() uint64 {
	if t == nil {
		return 0
	}
	return t.snapshots.Load()
}

func (t *Tracker) Uptime() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(time.Unix(0, t.start.Load()))
}

// Reset zeroes all counters and restarts the uptime clock.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.pushes.Store(0)
	t.polls.Store(0)
	t.reconnects.Store(0)
	t.parseErrors.Store(0)
	t.fetchErrors.Store(0)
	t.connDrops.Store(0)
	t.duplicates.Store(0)
	t.snapshots.Store(0)
	t.modeSwitches.Store(0)
	t.droppedDispatch.Store(0)
	t.start.Store(time.Now().UnixNano())
}

// SummaryLine returns a single human-readable stats line for console display.
func (t *Tracker) SummaryLine() string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf(
		"snapshots=%d pushes=%d polls=%d dup-skips=%d drops=%d reconnects=%d parse-errs=%d fetch-errs=%d",
		t.snapshots.Load(),
		t.pushes.Load(),
		t.polls.Load(),
		t.duplicates.Load(),
		t.connDrops.Load(),
		t.reconnects.Load(),
		t.parseErrors.Load(),
		t.fetchErrors.Load(),
	)
}
