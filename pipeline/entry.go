// Package pipeline defines the canonical pipeline-run entry structure and
// helpers shared across the dashboard core: status derivation, priority
// defaulting, and metric-sample extraction.
package pipeline

import (
	"path/filepath"
	"strings"
	"time"
)

// Status is the lifecycle state of a run or of a single stage.
type Status string

const (
	StatusEnqueued Status = "enqueued"
	StatusRunning  Status = "running"
	StatusOK       Status = "ok"
	StatusError    Status = "error"
	StatusSkipped  Status = "skipped" // stage-level only
)

// Stage names the fixed processing phases every run moves through, in order.
type Stage string

const (
	StageClassification Stage = "classification"
	StageSampling       Stage = "sampling"
	StageAIQuery        Stage = "ai_query"
	StageNormalization  Stage = "normalization"
)

// Stages lists the fixed stage set in processing order. Exported so consumers
// can render stage columns without hardcoding the sequence.
var Stages = []Stage{StageClassification, StageSampling, StageAIQuery, StageNormalization}

// DefaultPriority is applied whenever a run carries no explicit priority.
const DefaultPriority = 3

// StageStat captures the progress of one stage within a run. Timestamps are
// pointers because a stage that has not started carries neither.
type StageStat struct {
	Status       Status     `json:"status"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
}

// Entry represents one pipeline run as reported by the backend. Entries are
// immutable value objects: the sync layer never mutates one in place, it
// replaces whole snapshots instead.
type Entry struct {
	ID            string              `json:"id"`
	Filename      string              `json:"filename"`
	Status        Status              `json:"status"`
	InsertionDate time.Time           `json:"insertion_date"`
	StartTime     *time.Time          `json:"start_time,omitempty"`
	EndTime       *time.Time          `json:"end_time,omitempty"`
	DurationMS    int64               `json:"duration_ms,omitempty"`
	StageStats    map[Stage]StageStat `json:"stage_stats,omitempty"`

	// Priority is 1-5; zero means the backend omitted it. Use
	// EffectivePriority at every read site instead of reading this directly.
	Priority int `json:"priority,omitempty"`

	AIModel            string   `json:"ai_model,omitempty"`
	ExtractedFields    []string `json:"extracted_fields,omitempty"`
	InputTokens        int64    `json:"gemini_input_tokens,omitempty"`
	OutputTokens       int64    `json:"gemini_output_tokens,omitempty"`
	TotalTokens        int64    `json:"gemini_total_tokens,omitempty"`
	EstimatedCost      float64  `json:"estimated_cost,omitempty"`
	OriginalFileSize   int64    `json:"original_file_size,omitempty"`
	FinalFileSize      int64    `json:"final_file_size,omitempty"`
	OriginalRowCount   int64    `json:"original_row_count,omitempty"`
	FinalRowCount      int64    `json:"final_row_count,omitempty"`
	ValidRowPercentage int      `json:"valid_row_percentage,omitempty"`
	ErrorMessage       string   `json:"error_message,omitempty"`
}

// Snapshot is the complete set of entries known at one moment, unique by ID.
// A new snapshot fully supersedes the previous one; there is no partial merge.
type Snapshot []Entry

// EffectivePriority resolves the backend's "absent" priority to the default.
// Out-of-range values are clamped into 1-5 so a misbehaving backend cannot
// push an entry outside the sortable range.
func (e *Entry) EffectivePriority() int {
	p := e.Priority
	if p == 0 {
		return DefaultPriority
	}
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

// DerivedStatus folds the run status and the four stage statuses into the
// single displayed status. Precedence, first match wins:
//
//	error    - run status error, or any stage errored
//	running  - run status running, or any stage still running
//	ok       - run status ok
//	enqueued - everything else
func (e *Entry) DerivedStatus() Status {
	if e.Status == StatusError || e.anyStage(StatusError) {
		return StatusError
	}
	if e.Status == StatusRunning || e.anyStage(StatusRunning) {
		return StatusRunning
	}
	if e.Status == StatusOK {
		return StatusOK
	}
	return StatusEnqueued
}

func (e *Entry) anyStage(status Status) bool {
	for _, stage := range Stages {
		if stat, ok := e.StageStats[stage]; ok && stat.Status == status {
			return true
		}
	}
	return false
}

// Extension returns the lowercased filename extension including the dot,
// e.g. ".csv". Empty when the filename has none.
func (e *Entry) Extension() string {
	return strings.ToLower(filepath.Ext(e.Filename))
}

// Find returns the entry with the given ID, if present.
func (s Snapshot) Find(id string) (Entry, bool) {
	for i := range s {
		if s[i].ID == id {
			return s[i], true
		}
	}
	return Entry{}, false
}

// CountByStatus tallies entries per derived status for the stats line.
func (s Snapshot) CountByStatus() map[Status]int {
	counts := make(map[Status]int, 4)
	for i := range s {
		counts[s[i].DerivedStatus()]++
	}
	return counts
}
