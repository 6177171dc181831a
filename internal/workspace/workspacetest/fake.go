// Package workspacetest provides an in-memory Workspace for tests.
package workspacetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dungeon-io/dungeon/internal/workspace"
)

// EmptyState is an exported deployment without resources.
const EmptyState = `{"version":3,"deployment":{"manifest":{},"resources":[]}}`

// Workspace hands out Stacks keyed by project and records every call.
type Workspace struct {
	mu     sync.Mutex
	Stacks map[string]*Stack
	Calls  []string
	// OpenErr fails CreateOrSelect for the named project.
	OpenErr map[string]error
}

func New() *Workspace {
	return &Workspace{Stacks: make(map[string]*Stack), OpenErr: make(map[string]error)}
}

// Stack returns the fake for project, creating a succeeding one if needed.
func (w *Workspace) Stack(project string) *Stack {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stackLocked(project)
}

func (w *Workspace) stackLocked(project string) *Stack {
	s, ok := w.Stacks[project]
	if !ok {
		s = &Stack{
			Project:        project,
			PreviewChanges: workspace.ChangeSummary{workspace.OpCreate: 1},
			UpResult:       workspace.Outcome{Result: workspace.Succeeded},
			DestroyResult:  workspace.Outcome{Result: workspace.Succeeded},
			RefreshResult:  workspace.Outcome{Result: workspace.Succeeded},
			State:          json.RawMessage(EmptyState),
		}
		w.Stacks[project] = s
	}
	s.ws = w
	return s
}

func (w *Workspace) record(call string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Calls = append(w.Calls, call)
}

// Recorded returns a copy of the call log.
func (w *Workspace) Recorded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.Calls...)
}

func (w *Workspace) CreateOrSelect(_ context.Context, project, stackName string, _ pulumi.RunFunc) (workspace.Stack, error) {
	w.record("open " + project)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.OpenErr[project]; err != nil {
		return nil, err
	}
	s := w.stackLocked(project)
	s.StackName = stackName
	return s, nil
}

// Stack is a scripted workspace.Stack.
type Stack struct {
	ws *Workspace

	Project   string
	StackName string

	PreviewChanges workspace.ChangeSummary
	PreviewErr     error
	UpResult       workspace.Outcome
	DestroyResult  workspace.Outcome
	RefreshResult  workspace.Outcome
	InstallErr     error
	ImportErr      error
	State          json.RawMessage

	Plugins     []string
	Config      map[string]workspace.ConfigValue
	Imported    []json.RawMessage
	Unprotected [][]string
	LastOptions workspace.Options
	// Events are delivered to OnEvent during every engine operation.
	Events  []workspace.Event
	Removed bool
}

func (s *Stack) call(op string) {
	s.ws.record(s.Project + " " + op)
}

func (s *Stack) emit(o workspace.Options) {
	s.LastOptions = o
	if o.OnEvent == nil {
		return
	}
	for _, e := range s.Events {
		o.OnEvent(e)
	}
}

func (s *Stack) Name() string { return s.StackName }

func (s *Stack) InstallPlugin(_ context.Context, name, version string) error {
	s.call("install " + name)
	if s.InstallErr != nil {
		return s.InstallErr
	}
	s.Plugins = append(s.Plugins, fmt.Sprintf("%s %s", name, version))
	return nil
}

func (s *Stack) SetAllConfig(_ context.Context, values map[string]workspace.ConfigValue) error {
	s.call("config")
	s.Config = values
	return nil
}

func (s *Stack) Preview(_ context.Context, o workspace.Options) (workspace.ChangeSummary, error) {
	s.call("preview")
	s.emit(o)
	return s.PreviewChanges, s.PreviewErr
}

func (s *Stack) Up(_ context.Context, o workspace.Options) workspace.Outcome {
	s.call("up")
	s.emit(o)
	return s.UpResult
}

func (s *Stack) Destroy(_ context.Context, o workspace.Options) workspace.Outcome {
	s.call("destroy")
	s.emit(o)
	return s.DestroyResult
}

func (s *Stack) Refresh(_ context.Context, o workspace.Options) workspace.Outcome {
	s.call("refresh")
	s.emit(o)
	return s.RefreshResult
}

func (s *Stack) Export(context.Context) (json.RawMessage, error) {
	s.call("export")
	return s.State, nil
}

func (s *Stack) Import(_ context.Context, doc json.RawMessage) error {
	s.call("import")
	if s.ImportErr != nil {
		return s.ImportErr
	}
	s.Imported = append(s.Imported, doc)
	s.State = doc
	return nil
}

func (s *Stack) Unprotect(_ context.Context, targets []string) error {
	s.call("unprotect")
	s.Unprotected = append(s.Unprotected, targets)
	return nil
}

func (s *Stack) Remove(context.Context) error {
	s.call("remove")
	s.Removed = true
	return nil
}
