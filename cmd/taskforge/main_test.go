package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/scheduler"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	return path
}

func testRunOptions(t *testing.T, planPath string) (runOptions, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return runOptions{
		PlanPath: planPath,
		Config:   config.DefaultConfig(),
		Dir:      t.TempDir(),
		Logger:   logging.Discard(),
		Stdout:   &out,
	}, &out
}

// TestRunPlan_Succeeds verifies a plan runs in dependency order and reports success.
func TestRunPlan_Succeeds(t *testing.T) {
	planPath := writePlan(t, `
name: chain
tasks:
  - id: second
    command: cat first.txt > second.txt
    depends_on: [first]
  - id: first
    command: echo hello > first.txt
`)
	opts, out := testRunOptions(t, planPath)

	run, err := runPlan(context.Background(), opts)
	if err != nil {
		t.Fatalf("runPlan error: %v", err)
	}
	if !run.Succeeded() {
		t.Fatalf("Expected success, report:\n%s", out.String())
	}

	data, err := os.ReadFile(filepath.Join(opts.Dir, "second.txt"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if strings.TrimSpace(string(data)) != "hello" {
		t.Errorf("second.txt = %q, want hello", data)
	}
	if !strings.Contains(out.String(), "Run summary: chain") {
		t.Errorf("Expected report on stdout, got:\n%s", out.String())
	}
}

// TestRunPlan_FailureStallsDependents verifies a failing command leaves its
// dependents unrun and the run unsuccessful.
func TestRunPlan_FailureStallsDependents(t *testing.T) {
	planPath := writePlan(t, `
tasks:
  - id: broken
    command: exit 2
  - id: after
    command: touch after.txt
    depends_on: [broken]
`)
	opts, out := testRunOptions(t, planPath)

	run, err := runPlan(context.Background(), opts)
	if err != nil {
		t.Fatalf("runPlan error: %v", err)
	}
	if run.Succeeded() {
		t.Fatal("Expected run to fail")
	}
	if len(run.Stalled) != 1 || run.Stalled[0].ID != "after" {
		t.Errorf("Expected after stalled, got %+v", run.Stalled)
	}
	if _, err := os.Stat(filepath.Join(opts.Dir, "after.txt")); !os.IsNotExist(err) {
		t.Error("Expected dependent never to run")
	}
	if !strings.Contains(out.String(), "waiting on broken") {
		t.Errorf("Expected stalled task in report, got:\n%s", out.String())
	}
}

// TestRunPlan_Cascade verifies --cascade cancels dependents instead of stalling them.
func TestRunPlan_Cascade(t *testing.T) {
	planPath := writePlan(t, `
tasks:
  - id: broken
    command: exit 2
  - id: after
    command: "true"
    depends_on: [broken]
`)
	opts, _ := testRunOptions(t, planPath)
	opts.Cascade = true

	run, err := runPlan(context.Background(), opts)
	if err != nil {
		t.Fatalf("runPlan error: %v", err)
	}
	if len(run.Stalled) != 0 {
		t.Errorf("Expected nothing stalled, got %+v", run.Stalled)
	}
	if run.Stats.Cancelled != 1 {
		t.Errorf("Expected after cancelled, stats %+v", run.Stats)
	}
}

// TestRunPlan_WorkflowRecovery verifies a workflow task that fails gets a fix
// step and a retry.
func TestRunPlan_WorkflowRecovery(t *testing.T) {
	planPath := writePlan(t, `
workflow: standard
tasks:
  - id: compile
    type: build
    command: test -f fixed.txt
`)
	opts, _ := testRunOptions(t, planPath)
	wf := opts.Config.Workflows["standard"]
	wf.OnFailure = &config.WorkflowStepConfig{Type: "fix", Command: "touch fixed.txt"}
	opts.Config.Workflows["standard"] = wf

	run, err := runPlan(context.Background(), opts)
	if err != nil {
		t.Fatalf("runPlan error: %v", err)
	}

	statuses := map[string][]scheduler.TaskStatus{}
	for _, o := range run.Outcomes {
		statuses[o.TaskID] = append(statuses[o.TaskID], o.Status)
	}
	compile := statuses["compile"]
	if len(compile) != 2 || compile[0] != scheduler.TaskFailed || compile[1] != scheduler.TaskCompleted {
		t.Errorf("Expected compile to fail then complete, got %v", compile)
	}
	if len(statuses["compile-recover-1"]) != 1 || len(statuses["compile-execute"]) != 1 {
		t.Errorf("Expected recovery and next step to run, got %v", statuses)
	}
}

// TestRunPlan_Interrupted verifies cancelling the context kills running commands.
func TestRunPlan_Interrupted(t *testing.T) {
	planPath := writePlan(t, `
tasks:
  - id: hang
    command: sleep 30
`)
	opts, _ := testRunOptions(t, planPath)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	run, err := runPlan(ctx, opts)
	if err == nil {
		t.Fatal("Expected interrupted error")
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("Interrupted run took %v", time.Since(start))
	}
	if run.Succeeded() {
		t.Error("Expected interrupted run not to succeed")
	}
}

// TestRunPlan_InvalidPlan verifies plan errors surface before anything runs.
func TestRunPlan_InvalidPlan(t *testing.T) {
	planPath := writePlan(t, "tasks:\n  - id: a\n    depends_on: [a]\n")
	opts, out := testRunOptions(t, planPath)
	if _, err := runPlan(context.Background(), opts); err == nil {
		t.Fatal("Expected cycle error")
	}
	if out.Len() != 0 {
		t.Errorf("Expected no report, got:\n%s", out.String())
	}
}

// TestValidateCommand verifies the validate subcommand prints the order.
func TestValidateCommand(t *testing.T) {
	planPath := writePlan(t, `
tasks:
  - id: b
    depends_on: [a]
  - id: a
`)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", planPath})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "2 task(s) OK") {
		t.Errorf("unexpected output:\n%s", got)
	}
	if strings.Index(got, "1. a") > strings.Index(got, "2. b") {
		t.Errorf("Expected a before b:\n%s", got)
	}
}

// TestBuildAgents verifies agents are sorted and carry parsed capabilities.
func TestBuildAgents(t *testing.T) {
	agents, err := buildAgents(config.DefaultConfig())
	if err != nil {
		t.Fatalf("buildAgents error: %v", err)
	}
	if len(agents) != 3 || agents[0].ID != "analyst" || agents[2].ID != "maintainer" {
		t.Fatalf("unexpected agents %+v", agents)
	}
	if !agents[1].Accepts(&scheduler.Task{Capabilities: scheduler.CapBuild}) {
		t.Error("Expected builder to accept build tasks")
	}

	if _, err := buildAgents(&config.Config{}); err == nil {
		t.Error("Expected error with no agents")
	}
}
