package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/siryo169/Genesis/pipeline"
	"github.com/siryo169/Genesis/view"
)

const (
	minTableWidth   = 60
	fallbackWidth   = 100
	filenameColMin  = 12
	renderThrottle  = 500 * time.Millisecond
	maxRenderedRows = 40
)

// console renders snapshots as a plain text table, one render per update,
// throttled so push feeds that re-send every few seconds don't flood the
// terminal.
type console struct {
	mu         sync.Mutex
	filter     *view.Filter
	sortKey    view.SortKey
	direction  view.Direction
	lastRender time.Time
	out        *os.File
	tty        bool
}

func newConsole(filter *view.Filter) *console {
	if filter == nil {
		filter = view.NewFilter()
	}
	return &console{
		filter:    filter,
		sortKey:   view.SortPriority,
		direction: view.Ascending,
		out:       os.Stdout,
		tty:       isStdoutTTY(),
	}
}

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func (c *console) width() int {
	w, _, err := term.GetSize(int(c.out.Fd()))
	if err != nil || w < minTableWidth {
		return fallbackWidth
	}
	return w
}

// Render prints the filtered, sorted snapshot. Safe from any goroutine.
// Rendering requires an interactive console; piped output gets log lines
// only.
func (c *console) Render(snap pipeline.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tty {
		return
	}
	now := time.Now()
	if now.Sub(c.lastRender) < renderThrottle {
		return
	}
	c.lastRender = now

	rows := view.Apply(snap, c.filter, c.sortKey, c.direction)
	width := c.width()

	var b strings.Builder
	c.writeHeader(&b, snap, rows, width)
	shown := rows
	if len(shown) > maxRenderedRows {
		shown = shown[:maxRenderedRows]
	}
	for i := range shown {
		c.writeRow(&b, &shown[i], width)
	}
	if len(rows) > maxRenderedRows {
		fmt.Fprintf(&b, "  ... %d more\n", len(rows)-maxRenderedRows)
	}
	fmt.Fprint(c.out, b.String())
}

func (c *console) writeHeader(b *strings.Builder, snap pipeline.Snapshot, rows []pipeline.Entry, width int) {
	counts := snap.CountByStatus()
	fmt.Fprintf(b, "\n== %s runs (%d shown / %d total) ok=%d running=%d error=%d enqueued=%d ==\n",
		time.Now().UTC().Format("15:04:05"),
		len(rows), len(snap),
		counts[pipeline.StatusOK],
		counts[pipeline.StatusRunning],
		counts[pipeline.StatusError],
		counts[pipeline.StatusEnqueued])
	fmt.Fprintf(b, "%-3s %-*s %-8s %-3s %-19s %-10s %-10s %s\n",
		"PRI", c.filenameWidth(width), "FILENAME", "STATUS", "OK%", "INSERTED", "TOKENS", "COST", "SIZE")
}

func (c *console) writeRow(b *strings.Builder, e *pipeline.Entry, width int) {
	name := e.Filename
	nameW := c.filenameWidth(width)
	if len(name) > nameW {
		name = name[:nameW-3] + "..."
	}
	tokens := "-"
	if e.TotalTokens > 0 {
		tokens = humanize.Comma(e.TotalTokens)
	}
	cost := "-"
	if e.EstimatedCost > 0 {
		cost = fmt.Sprintf("$%.4f", e.EstimatedCost)
	}
	size := "-"
	if e.OriginalFileSize > 0 {
		size = humanize.Bytes(uint64(e.OriginalFileSize))
	}
	fmt.Fprintf(b, "%-3d %-*s %-8s %-3d %-19s %-10s %-10s %s\n",
		e.EffectivePriority(),
		nameW, name,
		e.DerivedStatus(),
		e.ValidRowPercentage,
		e.InsertionDate.UTC().Format("2006-01-02 15:04:05"),
		tokens, cost, size)
}

func (c *console) filenameWidth(width int) int {
	// Fixed columns take ~70 characters; the filename gets the rest.
	w := width - 70
	if w < filenameColMin {
		w = filenameColMin
	}
	return w
}

// SetModelFilter applies a model-name filter, suggesting the nearest known
// model when the requested one matches nothing in the snapshot.
func (c *console) SetModelFilter(snap pipeline.Snapshot, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := make(map[string]bool)
	for i := range snap {
		if snap[i].AIModel != "" {
			known[snap[i].AIModel] = true
		}
	}
	if !known[model] {
		names := make([]string, 0, len(known))
		for name := range known {
			names = append(names, name)
		}
		if suggestion := view.SuggestModel(model, names, 5); suggestion != "" {
			fmt.Fprintf(c.out, "model %q unknown, did you mean %q?\n", model, suggestion)
			model = suggestion
		}
	}
	c.filter.SetModel(model, true)
}
