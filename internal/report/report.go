// Package report renders a static summary of a finished run.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/aristath/taskforge/internal/dispatch"
	"github.com/aristath/taskforge/internal/scheduler"
)

const maxErrWidth = 60

// Stalled is a task left blocked when the run ended.
type Stalled struct {
	ID        string
	WaitingOn []string
}

// Run is everything the report shows.
type Run struct {
	Plan     string
	Elapsed  time.Duration
	Stats    scheduler.Stats
	Outcomes []dispatch.Outcome
	Stalled  []Stalled
}

// Collect gathers the final state of q and d.
func Collect(plan string, elapsed time.Duration, q *scheduler.Queue, d *dispatch.Dispatcher) Run {
	return Run{
		Plan:     plan,
		Elapsed:  elapsed,
		Stats:    q.Stats(),
		Outcomes: d.Outcomes(),
		Stalled:  StalledTasks(q),
	}
}

// StalledTasks lists every blocked task in q with the prerequisites it is
// still waiting on.
func StalledTasks(q *scheduler.Queue) []Stalled {
	var out []Stalled
	for _, s := range q.Snapshot() {
		if s.Status != scheduler.TaskPending {
			continue
		}
		if waiting := q.Blocking(s.ID); len(waiting) > 0 {
			out = append(out, Stalled{ID: s.ID, WaitingOn: waiting})
		}
	}
	return out
}

// Final returns the last outcome of each task in first-run order. A task
// retried by a workflow recovery appears once, with its latest result.
func (r Run) Final() []dispatch.Outcome {
	pos := make(map[string]int, len(r.Outcomes))
	var out []dispatch.Outcome
	for _, o := range r.Outcomes {
		if i, ok := pos[o.TaskID]; ok {
			out[i] = o
			continue
		}
		pos[o.TaskID] = len(out)
		out = append(out, o)
	}
	return out
}

// Succeeded reports whether every task ended completed and nothing was
// left behind.
func (r Run) Succeeded() bool {
	if len(r.Stalled) > 0 || r.Stats.Ready > 0 || r.Stats.InFlight > 0 {
		return false
	}
	c := r.tally()
	return c.failed == 0 && c.cancelled == 0
}

type tally struct {
	total, completed, failed, cancelled int
}

// tally counts final outcomes. Tasks cancelled before they were ever
// dispatched only show up in the queue's counters.
func (r Run) tally() tally {
	var c tally
	final := r.Final()
	for _, o := range final {
		switch o.Status {
		case scheduler.TaskCompleted:
			c.completed++
		case scheduler.TaskFailed, scheduler.TaskTimeout:
			c.failed++
		case scheduler.TaskCancelled:
			c.cancelled++
		}
	}
	var dispatchedCancels int
	for _, o := range r.Outcomes {
		if o.Status == scheduler.TaskCancelled {
			dispatchedCancels++
		}
	}
	undispatched := max(0, int(r.Stats.Cancelled)-dispatchedCancels)
	c.cancelled += undispatched
	c.total = len(final) + undispatched + len(r.Stalled) + r.Stats.Ready + r.Stats.InFlight
	return c
}

// Render draws the report. width bounds the progress bar.
func Render(r Run, width int) string {
	var b strings.Builder

	title := "Run summary"
	if r.Plan != "" {
		title += ": " + r.Plan
	}
	b.WriteString(StyleTitle.Render(title))
	b.WriteString("\n\n")
	b.WriteString(StyleBox.Render(renderCounts(r, width)))
	b.WriteString("\n")

	if len(r.Outcomes) > 0 {
		b.WriteString("\n")
		b.WriteString(renderOutcomes(r.Outcomes))
		b.WriteString("\n")
	}

	if len(r.Stalled) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("%d task(s) never ran:", len(r.Stalled))))
		b.WriteString("\n")
		for _, s := range r.Stalled {
			b.WriteString(fmt.Sprintf("  %s %s\n", s.ID, StyleMuted.Render("waiting on "+strings.Join(s.WaitingOn, ", "))))
		}
	}

	return b.String()
}

func renderCounts(r Run, width int) string {
	c := r.tally()
	total, completed, failed, cancelled := c.total, c.completed, c.failed, c.cancelled

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Total:     %d\n", total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", completed))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", failed))))
	b.WriteString(fmt.Sprintf("Cancelled: %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", cancelled))))
	b.WriteString(fmt.Sprintf("Stalled:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", len(r.Stalled)))))
	if r.Elapsed > 0 {
		b.WriteString(fmt.Sprintf("Elapsed:   %s\n", r.Elapsed.Round(time.Millisecond)))
	}

	if total > 0 {
		barWidth := min(width-12, 40)
		if barWidth < 10 {
			barWidth = 10
		}
		completedWidth := completed * barWidth / total
		failedWidth := (failed + cancelled) * barWidth / total
		pendingWidth := barWidth - completedWidth - failedWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", completedWidth))
		bar += StyleStatusFailed.Render(strings.Repeat("!", failedWidth))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
		b.WriteString(fmt.Sprintf("\n[%s]  %d/%d", bar, completed, total))
	}
	return b.String()
}

func renderOutcomes(outcomes []dispatch.Outcome) string {
	rows := make([][]string, len(outcomes))
	for i, o := range outcomes {
		errText := ""
		if o.Err != nil {
			errText = truncate(o.Err.Error(), maxErrWidth)
		}
		rows[i] = []string{
			o.TaskID,
			o.Agent,
			o.Status.String(),
			fmt.Sprintf("%d", o.Attempts),
			o.Duration.Round(time.Millisecond).String(),
			errText,
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(StyleTableBorder).
		Headers("TASK", "AGENT", "STATUS", "ATTEMPTS", "DURATION", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleHeader
			}
			if col == 2 && row >= 0 && row < len(outcomes) {
				return statusStyle(outcomes[row].Status).Padding(0, 1)
			}
			return StyleCell
		})
	return t.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
