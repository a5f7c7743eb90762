package pipeline

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireEntry mirrors the backend JSON shape with timestamps as raw strings.
// The backend emits ISO-8601 both with and without a zone suffix (naive
// datetimes are UTC per its database convention), so time fields cannot be
// decoded as time.Time directly.
type wireEntry struct {
	ID            string               `json:"id"`
	Filename      string               `json:"filename"`
	Status        string               `json:"status"`
	InsertionDate string               `json:"insertion_date"`
	StartTime     string               `json:"start_time"`
	EndTime       string               `json:"end_time"`
	DurationMS    int64                `json:"duration_ms"`
	StageStats    map[string]wireStage `json:"stage_stats"`
	Priority      int                  `json:"priority"`

	AIModel            string   `json:"ai_model"`
	ExtractedFields    []string `json:"extracted_fields"`
	InputTokens        int64    `json:"gemini_input_tokens"`
	OutputTokens       int64    `json:"gemini_output_tokens"`
	TotalTokens        int64    `json:"gemini_total_tokens"`
	EstimatedCost      float64  `json:"estimated_cost"`
	OriginalFileSize   int64    `json:"original_file_size"`
	FinalFileSize      int64    `json:"final_file_size"`
	OriginalRowCount   int64    `json:"original_row_count"`
	FinalRowCount      int64    `json:"final_row_count"`
	ValidRowPercentage int      `json:"valid_row_percentage"`
	ErrorMessage       string   `json:"error_message"`
}

type wireStage struct {
	Status       string   `json:"status"`
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time"`
	ErrorMessage string   `json:"error_message"`
	Warnings     []string `json:"warnings"`
}

// timestampLayouts covers the backend's datetime variants, most specific
// first. Naive layouts are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a backend timestamp string, treating zone-less values
// as UTC. The zero time and nil error are returned for empty input.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// DecodeSnapshot parses a JSON array of entries as delivered by both the push
// channel and the pull endpoint. Entries with duplicate IDs collapse to the
// one with the most recent insertion date, keeping snapshots unique by ID.
func DecodeSnapshot(payload []byte) (Snapshot, error) {
	var wire []wireEntry
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}

	byID := make(map[string]int, len(wire))
	snapshot := make(Snapshot, 0, len(wire))
	for i := range wire {
		entry, err := wire[i].toEntry()
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", wire[i].ID, err)
		}
		if prev, ok := byID[entry.ID]; ok {
			if entry.InsertionDate.After(snapshot[prev].InsertionDate) {
				snapshot[prev] = entry
			}
			continue
		}
		byID[entry.ID] = len(snapshot)
		snapshot = append(snapshot, entry)
	}
	return snapshot, nil
}

func (w *wireEntry) toEntry() (Entry, error) {
	if w.ID == "" {
		return Entry{}, fmt.Errorf("missing id")
	}
	insertion, err := ParseTimestamp(w.InsertionDate)
	if err != nil {
		return Entry{}, fmt.Errorf("insertion_date: %w", err)
	}
	start, err := optionalTimestamp(w.StartTime)
	if err != nil {
		return Entry{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := optionalTimestamp(w.EndTime)
	if err != nil {
		return Entry{}, fmt.Errorf("end_time: %w", err)
	}

	entry := Entry{
		ID:                 w.ID,
		Filename:           w.Filename,
		Status:             normalizeStatus(w.Status),
		InsertionDate:      insertion,
		StartTime:          start,
		EndTime:            end,
		DurationMS:         w.DurationMS,
		Priority:           w.Priority,
		AIModel:            w.AIModel,
		ExtractedFields:    w.ExtractedFields,
		InputTokens:        w.InputTokens,
		OutputTokens:       w.OutputTokens,
		TotalTokens:        w.TotalTokens,
		EstimatedCost:      w.EstimatedCost,
		OriginalFileSize:   w.OriginalFileSize,
		FinalFileSize:      w.FinalFileSize,
		OriginalRowCount:   w.OriginalRowCount,
		FinalRowCount:      w.FinalRowCount,
		ValidRowPercentage: w.ValidRowPercentage,
		ErrorMessage:       w.ErrorMessage,
	}
	if len(w.StageStats) > 0 {
		entry.StageStats = make(map[Stage]StageStat, len(w.StageStats))
		for name, ws := range w.StageStats {
			stat, err := ws.toStageStat()
			if err != nil {
				return Entry{}, fmt.Errorf("stage %q: %w", name, err)
			}
			entry.StageStats[Stage(name)] = stat
		}
	}
	return entry, nil
}

func (w *wireStage) toStageStat() (StageStat, error) {
	start, err := optionalTimestamp(w.StartTime)
	if err != nil {
		return StageStat{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := optionalTimestamp(w.EndTime)
	if err != nil {
		return StageStat{}, fmt.Errorf("end_time: %w", err)
	}
	return StageStat{
		Status:       normalizeStatus(w.Status),
		StartTime:    start,
		EndTime:      end,
		ErrorMessage: w.ErrorMessage,
		Warnings:     w.Warnings,
	}, nil
}

func optionalTimestamp(s string) (*time.Time, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}

// normalizeStatus maps unknown backend status strings to enqueued so a new
// backend state never breaks status derivation.
func normalizeStatus(s string) Status {
	switch Status(s) {
	case StatusEnqueued, StatusRunning, StatusOK, StatusError, StatusSkipped:
		return Status(s)
	default:
		return StatusEnqueued
	}
}
