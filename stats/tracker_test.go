package stats

import (
	"strings"
	"testing"
)

func TestTrackerCountsAndSummary(t *testing.T) {
	tr := NewTracker()
	tr.IncPush()
	tr.IncPush()
	tr.IncPoll()
	tr.IncSnapshot()
	tr.IncSnapshot()
	tr.IncSnapshot()
	tr.IncParseError()

	if got := tr.Snapshots(); got != 3 {
		t.Errorf("Snapshots = %d, want 3", got)
	}
	line := tr.SummaryLine()
	for _, want := range []string{"snapshots=3", "pushes=2", "polls=1", "parse-errs=1"} {
		if !strings.Contains(line, want) {
			t.Errorf("summary %q missing %q", line, want)
		}
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.IncPush()
	tr.IncSnapshot()
	tr.Reset()
	if tr.Snapshots() != 0 {
		t.Errorf("Snapshots after reset = %d, want 0", tr.Snapshots())
	}
	if !strings.Contains(tr.SummaryLine(), "pushes=0") {
		t.Errorf("summary after reset: %q", tr.SummaryLine())
	}
}

func TestNilTrackerIsSafe(t *testing.T) {
	var tr *Tracker
	tr.IncPush()
	tr.IncSnapshot()
	tr.Reset()
	if tr.Snapshots() != 0 {
		t.Error("nil Snapshots should be 0")
	}
	if tr.SummaryLine() != "" {
		t.Error("nil SummaryLine should be empty")
	}
	if tr.Uptime() != 0 {
		t.Error("nil Uptime should be 0")
	}
}
