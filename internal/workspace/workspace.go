// Package workspace abstracts the infrastructure engine's persisted-state
// workspace. The Pulumi type adapts the Pulumi Automation API.
package workspace

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// OpType is an engine step kind as reported in change summaries.
type OpType string

const (
	OpSame    OpType = "same"
	OpCreate  OpType = "create"
	OpUpdate  OpType = "update"
	OpDelete  OpType = "delete"
	OpReplace OpType = "replace"
)

// ChangeSummary tallies planned or applied steps per operation type.
type ChangeSummary map[OpType]int

// HasChanges reports whether any step other than "same" is counted.
func (c ChangeSummary) HasChanges() bool {
	for op, n := range c {
		if op != OpSame && n > 0 {
			return true
		}
	}
	return false
}

// Result is the final state of a mutating engine operation.
type Result string

const (
	Succeeded      Result = "succeeded"
	Failed         Result = "failed"
	PartialFailure Result = "partial-failure"
)

// Outcome describes a completed update, destroy or refresh.
type Outcome struct {
	Result  Result
	Changes ChangeSummary
	Elapsed time.Duration
	// Err carries the engine error when Result is not Succeeded.
	Err error
}

func (o Outcome) Succeeded() bool {
	return o.Result == Succeeded
}

// NewOutcome maps an engine result string and error to an Outcome. A failure
// that still applied changes is reported as a partial failure.
func NewOutcome(result string, changes ChangeSummary, elapsed time.Duration, err error) Outcome {
	o := Outcome{Result: Succeeded, Changes: changes, Elapsed: elapsed, Err: err}
	if err == nil && result == string(Succeeded) {
		return o
	}
	o.Result = Failed
	if changes.HasChanges() {
		o.Result = PartialFailure
	}
	return o
}

// ConfigValue is a stack configuration value.
type ConfigValue struct {
	Value  string
	Secret bool
}

// Options tune a single engine operation. Not every operation honors every field.
type Options struct {
	Color            string
	Diff             bool
	ExpectNoChanges  bool
	Targets          []string
	TargetDependents bool
	// OnEvent receives engine events in arrival order.
	OnEvent func(Event)
	// Stdout and Stderr receive the engine's raw progress output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Stack is a handle on one stack's persisted state.
type Stack interface {
	Name() string
	InstallPlugin(ctx context.Context, name, version string) error
	SetAllConfig(ctx context.Context, values map[string]ConfigValue) error
	Preview(ctx context.Context, opts Options) (ChangeSummary, error)
	Up(ctx context.Context, opts Options) Outcome
	Destroy(ctx context.Context, opts Options) Outcome
	Refresh(ctx context.Context, opts Options) Outcome
	// Export returns the deployment document ({"version": N, "deployment": {...}}).
	Export(ctx context.Context) (json.RawMessage, error)
	// Import replaces the persisted state with doc, bypassing preview.
	Import(ctx context.Context, doc json.RawMessage) error
	// Unprotect clears the protect flag on the targeted resources, or all resources when targets is empty.
	Unprotect(ctx context.Context, targets []string) error
	// Remove deletes the stack record.
	Remove(ctx context.Context) error
}

// Workspace creates or selects stacks.
type Workspace interface {
	CreateOrSelect(ctx context.Context, project, stackName string, program pulumi.RunFunc) (Stack, error)
}
