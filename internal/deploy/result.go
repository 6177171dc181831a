package deploy

import (
	"time"

	"github.com/dungeon-io/dungeon/internal/workspace"
)

// Status is the terminal state of one stack.
type Status int

const (
	Succeeded Status = iota
	SkippedUnapproved
	SkippedUnchanged
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case SkippedUnapproved:
		return "skipped (unapproved)"
	case SkippedUnchanged:
		return "skipped (unchanged)"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// halts reports whether no further stacks are processed after s.
func (s Status) halts() bool {
	return s == SkippedUnapproved || s == Failed
}

// StackResult records what happened to one stack.
type StackResult struct {
	Stack   string
	Mode    Mode
	Status  Status
	Outcome *workspace.Outcome
	Err     error
	Elapsed time.Duration
}

// Result aggregates the pipeline.
type Result struct {
	Stacks []StackResult
	// Halted is set when processing stopped before the last selected stack.
	Halted bool
}

// Failed reports whether any stack failed.
func (r Result) Failed() bool {
	for _, s := range r.Stacks {
		if s.Status == Failed {
			return true
		}
	}
	return false
}

// ExitCode is -1 when any stack failed and 0 otherwise, declines included.
func (r Result) ExitCode() int {
	if r.Failed() {
		return -1
	}
	return 0
}

// with returns a copy of r with s appended.
func (r Result) with(s StackResult) Result {
	next := Result{Stacks: make([]StackResult, 0, len(r.Stacks)+1), Halted: r.Halted}
	next.Stacks = append(next.Stacks, r.Stacks...)
	next.Stacks = append(next.Stacks, s)
	return next
}
