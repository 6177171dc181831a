package deploy

import "github.com/dungeon-io/dungeon/internal/stacks"

// Mode is the operation applied to every selected stack.
type Mode int

const (
	ModeUpdate Mode = iota
	ModeDestroy
	ModeRemove
	ModeRepair
	ModeRefresh
	ModeUnprotect
)

func (m Mode) String() string {
	switch m {
	case ModeUpdate:
		return "update"
	case ModeDestroy:
		return "destroy"
	case ModeRemove:
		return "remove"
	case ModeRepair:
		return "repair"
	case ModeRefresh:
		return "refresh"
	case ModeUnprotect:
		return "unprotect"
	default:
		return "unknown"
	}
}

// Teardown reports whether stacks are processed in reverse dependency order.
func (m Mode) Teardown() bool {
	return m == ModeDestroy || m == ModeRemove
}

// Request is one deploy invocation.
type Request struct {
	Environment string
	Stacks      stacks.ID

	Destroy   bool
	Remove    bool
	Repair    bool
	Refresh   bool
	Unprotect bool

	Targets          []string
	TargetDependents bool

	Approve         bool
	NonInteractive  bool
	SkipPreview     bool
	Diff            bool
	ExpectNoChanges bool
	LogEvents       bool
}

// Mode resolves the mode flags. Destroy wins over Remove, then Repair,
// Refresh and Unprotect; with none set the stacks are previewed and updated.
func (r Request) Mode() Mode {
	switch {
	case r.Destroy:
		return ModeDestroy
	case r.Remove:
		return ModeRemove
	case r.Repair:
		return ModeRepair
	case r.Refresh:
		return ModeRefresh
	case r.Unprotect:
		return ModeUnprotect
	default:
		return ModeUpdate
	}
}
