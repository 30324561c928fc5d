package scheduler

import (
	"testing"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"low", PriorityLow, false},
		{"HIGH", PriorityHigh, false},
		{" critical ", PriorityCritical, false},
		{"urgent", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, %v; want %v, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
	if s := Priority(7).String(); s != "priority(7)" {
		t.Errorf("String() = %q", s)
	}
}

func TestParseTaskType(t *testing.T) {
	if typ, err := ParseTaskType(""); err != nil || typ != TypeGeneral {
		t.Errorf("Expected general for empty type, got %q %v", typ, err)
	}
	if typ, err := ParseTaskType("Build"); err != nil || typ != TypeBuild {
		t.Errorf("Expected build, got %q %v", typ, err)
	}
	if _, err := ParseTaskType("deploy"); err == nil {
		t.Error("Expected error for unknown type")
	}
	if TypeFix.Capability() != CapFix || TypeGeneral.Capability() != 0 {
		t.Error("unexpected default capabilities")
	}
}

func TestTaskStatus_String(t *testing.T) {
	for s, want := range map[TaskStatus]string{
		TaskPending:      "pending",
		TaskWaitingChild: "waiting_child",
		TaskTimeout:      "timeout",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
	if TaskRunning.IsTerminal() || !TaskCancelled.IsTerminal() {
		t.Error("unexpected IsTerminal result")
	}
}

func TestNewTask(t *testing.T) {
	tk := NewTask("", "compile", TypeBuild, PriorityHigh)
	if tk.ID == "" {
		t.Fatal("Expected generated id")
	}
	if tk.Status() != TaskPending || tk.CreatedAt().IsZero() {
		t.Errorf("unexpected initial state %s", tk.Status())
	}
	if tk.CancelRequested() {
		t.Error("new task reports cancellation")
	}

	tk.DependsOn = []string{"x"}
	sum := tk.Summary()
	tk.DependsOn[0] = "y"
	if sum.DependsOn[0] != "x" {
		t.Error("Summary shares the DependsOn slice")
	}
	if sum.Type != TypeBuild || sum.Priority != PriorityHigh {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestTask_Clone(t *testing.T) {
	q := newTestQueue(t, Options{})
	orig := &Task{ID: "a", Priority: PriorityHigh, Resources: []string{"out"}, Input: "make"}
	mustPush(t, q, orig)
	mustPop(t, q)
	if err := q.Cancel("a"); err != nil {
		t.Fatal(err)
	}

	c := orig.Clone()
	if c.ID != "a" || c.Priority != PriorityHigh || c.Input != "make" {
		t.Errorf("clone lost producer fields: %+v", c.Summary())
	}
	if c.Status() != TaskPending || c.CancelRequested() {
		t.Errorf("clone carried lifecycle state: %s", c.Status())
	}
	c.Resources[0] = "other"
	if orig.Resources[0] != "out" {
		t.Error("clone shares Resources")
	}
	mustPush(t, q, c)
}
