// Package plan loads YAML build plans: a named list of tasks with
// dependencies, validated into a topological order before anything is
// queued.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gammazero/toposort"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskforge/internal/scheduler"
)

// Entry is one task in a plan file.
type Entry struct {
	ID             string        `yaml:"id"`
	Description    string        `yaml:"description,omitempty"`
	Type           string        `yaml:"type,omitempty"`
	Priority       string        `yaml:"priority,omitempty"`
	Command        string        `yaml:"command,omitempty"`
	DependsOn      []string      `yaml:"depends_on,omitempty"`
	Capabilities   []string      `yaml:"capabilities,omitempty"`
	PreferredAgent string        `yaml:"preferred_agent,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	Resources      []string      `yaml:"resources,omitempty"`
	Workflow       string        `yaml:"workflow,omitempty"`
}

// Plan is a parsed plan file.
type Plan struct {
	Name     string  `yaml:"name"`
	Workflow string  `yaml:"workflow,omitempty"` // Default workflow for entries that name none
	Entries  []Entry `yaml:"tasks"`
}

// Load reads and parses the plan at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a plan. Unknown keys are rejected.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("plan is empty")
		}
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	return &p, nil
}

// Validate checks every entry and returns the task ids in an order where
// each task follows all of its prerequisites.
func (p *Plan) Validate() ([]string, error) {
	if len(p.Entries) == 0 {
		return nil, errors.New("plan has no tasks")
	}

	var errs []error
	ids := make(map[string]bool, len(p.Entries))
	for i, e := range p.Entries {
		if strings.TrimSpace(e.ID) == "" {
			errs = append(errs, fmt.Errorf("task %d has no id", i))
			continue
		}
		if ids[e.ID] {
			errs = append(errs, fmt.Errorf("duplicate task id %q", e.ID))
		}
		ids[e.ID] = true
		if _, err := e.task(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range p.Entries {
		for _, dep := range e.DependsOn {
			if !ids[dep] {
				errs = append(errs, fmt.Errorf("task %q depends on non-existent task %q", e.ID, dep))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var edges []toposort.Edge
	for _, e := range p.Entries {
		if len(e.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, e.ID})
			continue
		}
		for _, dep := range e.DependsOn {
			edges = append(edges, toposort.Edge{dep, e.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("plan contains a dependency cycle: %w", err)
	}

	order := make([]string, 0, len(p.Entries))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(p.Entries) {
		return nil, fmt.Errorf("plan contains a dependency cycle: ordered %d of %d tasks", len(order), len(p.Entries))
	}
	return order, nil
}

// Tasks validates the plan and converts it to scheduler tasks in
// topological order. Pushing them in this order guarantees every
// prerequisite is already queued when its dependents arrive.
func (p *Plan) Tasks() ([]*scheduler.Task, error) {
	order, err := p.Validate()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Entry, len(p.Entries))
	for _, e := range p.Entries {
		byID[e.ID] = e
	}

	tasks := make([]*scheduler.Task, 0, len(order))
	for _, id := range order {
		t, err := byID[id].task()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// WorkflowFor returns the workflow an entry belongs to, falling back to
// the plan default.
func (p *Plan) WorkflowFor(id string) string {
	for _, e := range p.Entries {
		if e.ID == id && e.Workflow != "" {
			return e.Workflow
		}
	}
	return p.Workflow
}

func (e Entry) task() (*scheduler.Task, error) {
	typ, err := scheduler.ParseTaskType(e.Type)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", e.ID, err)
	}
	prio, err := scheduler.ParsePriority(e.Priority)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", e.ID, err)
	}
	caps := typ.Capability()
	if len(e.Capabilities) > 0 {
		if caps, err = scheduler.ParseCapabilities(e.Capabilities); err != nil {
			return nil, fmt.Errorf("task %q: %w", e.ID, err)
		}
	}
	if e.Timeout < 0 {
		return nil, fmt.Errorf("task %q: negative timeout", e.ID)
	}

	desc := e.Description
	if desc == "" {
		desc = e.Command
	}
	t := &scheduler.Task{
		ID:             e.ID,
		Description:    desc,
		Type:           typ,
		Priority:       prio,
		PreferredAgent: e.PreferredAgent,
		Capabilities:   caps,
		DependsOn:      append([]string(nil), e.DependsOn...),
		Resources:      append([]string(nil), e.Resources...),
		Timeout:        e.Timeout,
	}
	if e.Command != "" {
		t.Input = e.Command
	}
	return t, nil
}
