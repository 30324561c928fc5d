package report

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aristath/taskforge/internal/dispatch"
	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/scheduler"
)

func sampleRun() Run {
	return Run{
		Plan:    "release",
		Elapsed: 1500 * time.Millisecond,
		Outcomes: []dispatch.Outcome{
			{TaskID: "deps", Agent: "builder", Status: scheduler.TaskCompleted, Attempts: 1, Duration: 20 * time.Millisecond},
			{TaskID: "compile", Agent: "builder", Status: scheduler.TaskFailed, Attempts: 1, Err: errors.New("command failed: exit status 2")},
		},
		Stalled: []Stalled{{ID: "package", WaitingOn: []string{"compile"}}},
	}
}

// TestRender verifies counts, outcomes and stalled tasks all appear.
func TestRender(t *testing.T) {
	out := Render(sampleRun(), 80)

	for _, want := range []string{
		"Run summary: release",
		"Total:     3",
		"deps", "compile", "builder",
		"completed", "failed",
		"exit status 2",
		"1/3",
		"1 task(s) never ran",
		"package",
		"waiting on compile",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

// TestRender_Empty verifies an empty run renders without a table.
func TestRender_Empty(t *testing.T) {
	out := Render(Run{}, 80)
	if !strings.Contains(out, "Total:     0") {
		t.Errorf("Expected zero total, got:\n%s", out)
	}
	if strings.Contains(out, "ATTEMPTS") {
		t.Error("Expected no outcome table for an empty run")
	}
}

// TestSucceeded verifies the run verdict.
func TestSucceeded(t *testing.T) {
	tests := []struct {
		name string
		run  Run
		want bool
	}{
		{"empty", Run{}, true},
		{"all completed", Run{Outcomes: []dispatch.Outcome{{Status: scheduler.TaskCompleted}}}, true},
		{"failure", Run{Outcomes: []dispatch.Outcome{{Status: scheduler.TaskFailed}}}, false},
		{"cancelled", Run{Outcomes: []dispatch.Outcome{{Status: scheduler.TaskCancelled}}}, false},
		{"stalled", Run{Stalled: []Stalled{{ID: "x"}}}, false},
		{"left ready", Run{Stats: scheduler.Stats{Ready: 1}}, false},
		{"cancelled before dispatch", Run{Stats: scheduler.Stats{Cancelled: 1}}, false},
		{"recovered", Run{Outcomes: []dispatch.Outcome{
			{TaskID: "a", Status: scheduler.TaskFailed},
			{TaskID: "a-recover-1", Status: scheduler.TaskCompleted},
			{TaskID: "a", Status: scheduler.TaskCompleted},
		}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.run.Succeeded(); got != tt.want {
				t.Errorf("Succeeded() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestStalledTasks verifies blocked tasks are listed with their unmet prerequisites.
func TestStalledTasks(t *testing.T) {
	q := scheduler.New(scheduler.Options{Logger: logging.Discard()})
	_ = q.Push(&scheduler.Task{ID: "a"})
	_ = q.Push(&scheduler.Task{ID: "b", DependsOn: []string{"a"}})
	_ = q.Push(&scheduler.Task{ID: "c"})

	a, _ := q.TryPop()
	_ = q.Fail(a.ID, errors.New("boom"))

	stalled := StalledTasks(q)
	if len(stalled) != 1 || stalled[0].ID != "b" {
		t.Fatalf("Expected b stalled, got %+v", stalled)
	}
	if len(stalled[0].WaitingOn) != 1 || stalled[0].WaitingOn[0] != "a" {
		t.Errorf("Expected b waiting on a, got %v", stalled[0].WaitingOn)
	}
}

// TestFinal verifies retried tasks keep their latest outcome in first-run order.
func TestFinal(t *testing.T) {
	r := Run{Outcomes: []dispatch.Outcome{
		{TaskID: "a", Status: scheduler.TaskFailed},
		{TaskID: "b", Status: scheduler.TaskCompleted},
		{TaskID: "a", Status: scheduler.TaskCompleted, Attempts: 2},
	}}
	final := r.Final()
	if len(final) != 2 || final[0].TaskID != "a" || final[1].TaskID != "b" {
		t.Fatalf("unexpected final outcomes %+v", final)
	}
	if final[0].Status != scheduler.TaskCompleted || final[0].Attempts != 2 {
		t.Errorf("Expected latest outcome for a, got %+v", final[0])
	}
}

// TestRender_CountsUndispatchedCancels verifies cascade cancels appear in the totals.
func TestRender_CountsUndispatchedCancels(t *testing.T) {
	r := Run{
		Stats:    scheduler.Stats{Cancelled: 2},
		Outcomes: []dispatch.Outcome{{TaskID: "x", Status: scheduler.TaskFailed}},
	}
	out := Render(r, 80)
	if !strings.Contains(out, "Total:     3") || !strings.Contains(out, "Cancelled: 2") {
		t.Errorf("unexpected counts:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("line one\nline two is longer", 12); got != "line one ..." {
		t.Errorf("got %q", got)
	}
	if got := truncate("héllo wörld ünïcode", 8); got != "héllo..." {
		t.Errorf("got %q", got)
	}
	if got := truncate("日本語のエラーメッセージ", 6); got != "日本語..." || !utf8.ValidString(got) {
		t.Errorf("got %q", got)
	}
}
