// Package view turns a pipeline snapshot into the filtered, ordered slice the
// dashboard table renders.
//
// Filters allow users to narrow which runs they see based on:
//   - Free-text filename match (case-insensitive substring)
//   - Free-text match on any extracted field name
//   - Derived status, priority, file extension, and AI model sets
//   - Inclusive insertion-date range
//
// Filter Logic:
//   - Multiple filters use AND logic (all must match)
//   - Default state: everything passes (no filtering)
//   - Within a set filter, members use OR logic
//   - Malformed values degrade to "no match" rather than failing
//
// Sorting is stable and tiered: the default "priority" key applies a fixed
// sequence of tie-breakers, while every other key compares one field directly.
package view

import (
	"sort"
	"strings"
	"time"

	"github.com/siryo169/Genesis/pipeline"
)

// SortKey selects the comparison applied by Apply.
type SortKey string

const (
	// SortPriority is the composite default ordering described on Less.
	SortPriority      SortKey = "priority"
	SortFilename      SortKey = "filename"
	SortInsertionDate SortKey = "insertion_date"
	SortStatus        SortKey = "status"
	SortModel         SortKey = "ai_model"
	SortDuration      SortKey = "duration_ms"
	SortCost          SortKey = "estimated_cost"
	SortTokens        SortKey = "gemini_total_tokens"
)

// Direction orders ascending or descending. Descending negates the final
// comparison result only; it never reorders the tie-breaking tiers.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Filter holds the active narrowing criteria. The zero value passes every
// entry. Set members are normalized on insertion via the Set* helpers.
type Filter struct {
	FilenameQuery string                   `yaml:"filename_query,omitempty"`
	FieldQuery    string                   `yaml:"field_query,omitempty"`
	Statuses      map[pipeline.Status]bool `yaml:"statuses,omitempty"`
	Priorities    map[int]bool             `yaml:"priorities,omitempty"`
	Extensions    map[string]bool          `yaml:"extensions,omitempty"`
	Models        map[string]bool          `yaml:"models,omitempty"`
	DateFrom      *time.Time               `yaml:"date_from,omitempty"`
	DateTo        *time.Time               `yaml:"date_to,omitempty"`
}

// NewFilter creates an empty filter that passes all entries.
func NewFilter() *Filter {
	return &Filter{
		Statuses:   make(map[pipeline.Status]bool),
		Priorities: make(map[int]bool),
		Extensions: make(map[string]bool),
		Models:     make(map[string]bool),
	}
}

// SetStatus enables or disables a derived status in the filter set.
func (f *Filter) SetStatus(status pipeline.Status, enabled bool) {
	if f.Statuses == nil {
		f.Statuses = make(map[pipeline.Status]bool)
	}
	if enabled {
		f.Statuses[status] = true
	} else {
		delete(f.Statuses, status)
	}
}

// SetPriority enables or disables a priority value. Values outside 1-5 are
// accepted into the set but can never match, which keeps malformed input
// harmless.
func (f *Filter) SetPriority(priority int, enabled bool) {
	if f.Priorities == nil {
		f.Priorities = make(map[int]bool)
	}
	if enabled {
		f.Priorities[priority] = true
	} else {
		delete(f.Priorities, priority)
	}
}

// SetExtension enables or disables a file extension. The dot prefix is
// optional and matching is case-insensitive.
func (f *Filter) SetExtension(ext string, enabled bool) {
	if f.Extensions == nil {
		f.Extensions = make(map[string]bool)
	}
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == "." || ext == "" {
		return
	}
	if enabled {
		f.Extensions[ext] = true
	} else {
		delete(f.Extensions, ext)
	}
}

// SetModel enables or disables an AI model name.
func (f *Filter) SetModel(model string, enabled bool) {
	if f.Models == nil {
		f.Models = make(map[string]bool)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	if enabled {
		f.Models[model] = true
	} else {
		delete(f.Models, model)
	}
}

// SetDateRange restricts entries to an inclusive insertion-date window.
// Either bound may be nil for a half-open range.
func (f *Filter) SetDateRange(from, to *time.Time) {
	f.DateFrom = from
	f.DateTo = to
}

// Reset returns the filter to its default pass-everything state.
func (f *Filter) Reset() {
	f.FilenameQuery = ""
	f.FieldQuery = ""
	f.Statuses = make(map[pipeline.Status]bool)
	f.Priorities = make(map[int]bool)
	f.Extensions = make(map[string]bool)
	f.Models = make(map[string]bool)
	f.DateFrom = nil
	f.DateTo = nil
}

// Matches returns true when the entry passes every active criterion.
func (f *Filter) Matches(e *pipeline.Entry) bool {
	if f == nil {
		return true
	}
	if q := strings.TrimSpace(f.FilenameQuery); q != "" {
		if !strings.Contains(strings.ToLower(e.Filename), strings.ToLower(q)) {
			return false
		}
	}
	if q := strings.TrimSpace(f.FieldQuery); q != "" {
		if !matchesAnyField(e.ExtractedFields, q) {
			return false
		}
	}
	if len(f.Statuses) > 0 && !f.Statuses[e.DerivedStatus()] {
		return false
	}
	if len(f.Priorities) > 0 && !f.Priorities[e.EffectivePriority()] {
		return false
	}
	if len(f.Extensions) > 0 && !f.Extensions[e.Extension()] {
		return false
	}
	if len(f.Models) > 0 && !f.Models[e.AIModel] {
		return false
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		// Inverted range can never match anything.
		return false
	}
	if f.DateFrom != nil && e.InsertionDate.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && e.InsertionDate.After(*f.DateTo) {
		return false
	}
	return true
}

func matchesAnyField(fields []string, query string) bool {
	query = strings.ToLower(query)
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// Apply filters the snapshot and sorts the surviving entries. The input is
// never mutated; the result is a fresh slice.
func Apply(snapshot pipeline.Snapshot, filter *Filter, key SortKey, dir Direction) []pipeline.Entry {
	out := make([]pipeline.Entry, 0, len(snapshot))
	for i := range snapshot {
		if filter.Matches(&snapshot[i]) {
			out = append(out, snapshot[i])
		}
	}
	Sort(out, filter, key, dir)
	return out
}

// Sort orders entries in place. Sorting is stable, so entries that compare
// equal keep their prior order. The filter supplies the active priority set
// for the default key's first tier; it does not narrow the slice here, which
// lets callers sort with the filter as context only.
func Sort(entries []pipeline.Entry, filter *Filter, key SortKey, dir Direction) {
	sort.SliceStable(entries, func(i, j int) bool {
		c := compare(&entries[i], &entries[j], filter, key)
		if dir == Descending {
			c = -c
		}
		return c < 0
	})
}

// compare returns a three-way comparison for the chosen key. The default
// priority key evaluates its tiers in fixed order, each tier only breaking
// ties left by the previous one:
//
//  1. Entries whose priority is in the active priority filter set first
//  2. Running entries first
//  3. Effective priority ascending
//  4. Insertion date descending (most recent first)
//  5. Secondary status order: enqueued < ok < error
func compare(a, b *pipeline.Entry, filter *Filter, key SortKey) int {
	switch key {
	case SortFilename:
		return strings.Compare(strings.ToLower(a.Filename), strings.ToLower(b.Filename))
	case SortInsertionDate:
		return compareTime(a.InsertionDate, b.InsertionDate)
	case SortStatus:
		return strings.Compare(string(a.DerivedStatus()), string(b.DerivedStatus()))
	case SortModel:
		return strings.Compare(a.AIModel, b.AIModel)
	case SortDuration:
		return compareInt64(a.DurationMS, b.DurationMS)
	case SortCost:
		return compareFloat(a.EstimatedCost, b.EstimatedCost)
	case SortTokens:
		return compareInt64(a.TotalTokens, b.TotalTokens)
	default:
		return comparePriorityTiers(a, b, filter)
	}
}

func comparePriorityTiers(a, b *pipeline.Entry, filter *Filter) int {
	// Tier 1: entries matching the active priority filter sort first.
	if filter != nil && len(filter.Priorities) > 0 {
		aIn := filter.Priorities[a.EffectivePriority()]
		bIn := filter.Priorities[b.EffectivePriority()]
		if aIn != bIn {
			if aIn {
				return -1
			}
			return 1
		}
	}

	// Tier 2: running entries before everything else. This tier reads the
	// entry's reported status, not the derived one: a run still marked
	// enqueued keeps its queue position even if a stage has started, and
	// only flips to the top once the backend reports it running.
	aRunning := a.Status == pipeline.StatusRunning
	bRunning := b.Status == pipeline.StatusRunning
	if aRunning != bRunning {
		if aRunning {
			return -1
		}
		return 1
	}

	// Tier 3: numeric priority ascending, absent defaulting to 3.
	if c := compareInt(a.EffectivePriority(), b.EffectivePriority()); c != 0 {
		return c
	}

	// Tier 4: insertion date descending.
	if c := compareTime(b.InsertionDate, a.InsertionDate); c != 0 {
		return c
	}

	// Tier 5: enqueued < ok < error.
	return compareInt(secondaryStatusRank(a.DerivedStatus()), secondaryStatusRank(b.DerivedStatus()))
}

// secondaryStatusRank orders the non-running statuses for the final sort
// tier. Running is already handled by tier 2 and ranks alongside enqueued.
func secondaryStatusRank(status pipeline.Status) int {
	switch status {
	case pipeline.StatusOK:
		return 1
	case pipeline.StatusError:
		return 2
	default:
		return 0
	}
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
