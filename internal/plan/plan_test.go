package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/taskforge/internal/scheduler"
)

const samplePlan = `
name: release
workflow: standard
tasks:
  - id: package
    type: build
    priority: low
    command: tar czf dist.tgz bin/
    depends_on: [compile, deps]
    resources: [dist/]
  - id: compile
    type: build
    priority: high
    command: go build -o bin/ ./...
    depends_on: [deps]
    timeout: 5m
  - id: deps
    type: install
    command: go mod download
    capabilities: [install, network]
    preferred_agent: builder
    workflow: ""
`

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestParseAndValidate(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Name != "release" || len(p.Entries) != 3 {
		t.Fatalf("unexpected plan %+v", p)
	}

	order, err := p.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("Expected 3 ids, got %v", order)
	}
	if !(indexOf(order, "deps") < indexOf(order, "compile") && indexOf(order, "compile") < indexOf(order, "package")) {
		t.Errorf("order %v violates dependencies", order)
	}
}

func TestTasks(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatal(err)
	}
	tasks, err := p.Tasks()
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}

	byID := map[string]*scheduler.Task{}
	for _, task := range tasks {
		byID[task.ID] = task
	}
	if tasks[0].ID != "deps" || tasks[2].ID != "package" {
		t.Errorf("Expected topological order, got %s..%s", tasks[0].ID, tasks[2].ID)
	}

	compile := byID["compile"]
	if compile.Priority != scheduler.PriorityHigh || compile.Timeout != 5*time.Minute {
		t.Errorf("compile = %+v", compile.Summary())
	}
	if compile.Capabilities != scheduler.CapBuild {
		t.Errorf("Expected default build capability, got %s", compile.Capabilities)
	}
	if compile.Input != "go build -o bin/ ./..." || compile.Description != "go build -o bin/ ./..." {
		t.Errorf("Expected command as input and description, got %v", compile.Input)
	}

	deps := byID["deps"]
	if deps.Capabilities != scheduler.CapInstall|scheduler.CapNetwork || deps.PreferredAgent != "builder" {
		t.Errorf("deps = %s / %q", deps.Capabilities, deps.PreferredAgent)
	}
	if byID["package"].Priority != scheduler.PriorityLow || byID["package"].Resources[0] != "dist/" {
		t.Errorf("package = %+v", byID["package"].Summary())
	}

	if p.WorkflowFor("compile") != "standard" {
		t.Errorf("Expected plan default workflow, got %q", p.WorkflowFor("compile"))
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		plan    string
		wantSub string
	}{
		{"no tasks", "name: x\ntasks: []\n", "no tasks"},
		{"missing id", "tasks:\n  - type: build\n", "no id"},
		{"duplicate", "tasks:\n  - id: a\n  - id: a\n", "duplicate"},
		{"unknown dependency", "tasks:\n  - id: a\n    depends_on: [ghost]\n", "non-existent"},
		{"unknown type", "tasks:\n  - id: a\n    type: deploy\n", "deploy"},
		{"unknown priority", "tasks:\n  - id: a\n    priority: asap\n", "asap"},
		{"unknown capability", "tasks:\n  - id: a\n    capabilities: [fly]\n", "fly"},
		{"cycle", "tasks:\n  - id: a\n    depends_on: [b]\n  - id: b\n    depends_on: [a]\n", "cycle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.plan))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			_, err = p.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Error("expected error for empty plan")
	}
	if _, err := Parse([]byte("tasks:\n  - id: a\n    comand: typo\n")); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := Parse([]byte("tasks:\n  - id: a\n    timeout: soon\n")); err == nil {
		t.Error("expected error for bad timeout")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(samplePlan), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Name != "release" {
		t.Errorf("Expected release, got %q", p.Name)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
