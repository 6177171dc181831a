// Package deploy drives the selected stacks through one operation mode.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dungeon-io/dungeon/internal/logging"
	"github.com/dungeon-io/dungeon/internal/repair"
	"github.com/dungeon-io/dungeon/internal/session"
	"github.com/dungeon-io/dungeon/internal/stacks"
	"github.com/dungeon-io/dungeon/internal/workspace"
)

// RefreshPolicy decides whether a failed refresh stops the pipeline.
type RefreshPolicy string

const (
	RefreshHalt RefreshPolicy = "halt"
	RefreshWarn RefreshPolicy = "warn"
)

// Opener opens a session on a stack.
type Opener interface {
	Open(ctx context.Context, d stacks.Descriptor) (*session.Session, error)
}

// Prompter asks the operator for confirmation.
type Prompter interface {
	Confirm(message string) (bool, error)
	Prompt(message string) (string, error)
}

// Repairer runs the interactive state repair.
type Repairer interface {
	Run(ctx context.Context, st repair.State) (repair.Report, error)
}

// Orchestrator runs a Request over the registry's stacks, one stack at a time.
type Orchestrator struct {
	Registry *stacks.Registry
	Opener   Opener
	Prompter Prompter
	Repairer Repairer
	Logger   *slog.Logger
	// Stdout receives engine output, or JSON event lines with LogEvents.
	Stdout         io.Writer
	Stderr         io.Writer
	Color          string
	RefreshFailure RefreshPolicy

	mu sync.Mutex
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return logging.Logger()
	}
	return o.Logger
}

// Run processes the selected stacks in order and stops at the first decline
// or failure. The returned error is reserved for failures outside an engine
// operation (opening a stack, a failed editor); the Result is valid either way.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	mode := req.Mode()
	l := o.logger().With("mode", mode.String())

	selected, err := o.Registry.Select(req.Stacks, mode.Teardown(), req.Environment)
	if err != nil {
		return Result{}, err
	}
	if len(selected) == 0 {
		l.Warn("No stacks apply to environment", "environment", req.Environment, "stacks", req.Stacks.Name())
		return Result{}, nil
	}
	defer logging.Elapsed(l, "Processed stacks")()

	var result Result
	for i, d := range selected {
		var sr StackResult
		sr, err = o.step(ctx, req, mode, d)
		result = result.with(sr)
		if err != nil {
			result.Halted = i < len(selected)-1
			return result, err
		}
		if sr.Status.halts() {
			result.Halted = i < len(selected)-1
			break
		}
	}
	return result, nil
}

// step takes one stack from Opening to a terminal state.
func (o *Orchestrator) step(ctx context.Context, req Request, mode Mode, d stacks.Descriptor) (StackResult, error) {
	start := time.Now()
	sr := StackResult{Stack: d.Project, Mode: mode}

	sess, err := o.Opener.Open(ctx, d)
	if err != nil {
		sr.Status, sr.Err = Failed, err
		return sr, fmt.Errorf("failed to open stack %s: %w", d.Project, err)
	}
	defer sess.Close()

	sr.Stack = sess.FullName()
	l := o.logger().With("stack", sr.Stack)
	l.Info("Processing stack", "mode", mode.String())

	switch mode {
	case ModeDestroy:
		err = o.destroy(ctx, req, sess, &sr, l)
	case ModeRemove:
		err = o.remove(ctx, req, sess, &sr, l)
	case ModeRepair:
		err = o.repair(ctx, req, sess, &sr, l)
	case ModeRefresh:
		err = o.refresh(ctx, req, sess, &sr, l)
	case ModeUnprotect:
		err = o.unprotect(ctx, req, sess, &sr, l)
	default:
		err = o.update(ctx, req, sess, &sr, l)
	}
	sr.Elapsed = time.Since(start)

	if err != nil {
		sr.Status, sr.Err = Failed, err
		return sr, err
	}
	switch sr.Status {
	case Failed:
		l.Error("Stack failed", "mode", mode.String(), "error", sr.Err)
	case SkippedUnapproved:
		l.Info(fmt.Sprintf("%s skipped (%sunapproved)", mode, nonInteractiveNote(req)))
	case SkippedUnchanged:
		l.Info("Update skipped (unchanged)")
	default:
		l.Info(fmt.Sprintf("Processed stack in %s", logging.FormatElapsed(sr.Elapsed)))
	}
	return sr, nil
}

func nonInteractiveNote(req Request) string {
	if req.NonInteractive {
		return "non-interactive; "
	}
	return ""
}

// approved applies the confirmation gate. With retype the operator must also
// type the full stack name; a mismatch is a decline. Approve does not satisfy
// a retype gate, so destroy and remove always need an interactive operator.
func (o *Orchestrator) approved(req Request, question, retype string) (bool, error) {
	if req.Approve && retype == "" {
		return true, nil
	}
	if req.NonInteractive || o.Prompter == nil {
		return false, nil
	}
	ok, err := o.Prompter.Confirm(question)
	if err != nil || !ok {
		return false, err
	}
	if retype == "" {
		return true, nil
	}
	answer, err := o.Prompter.Prompt(fmt.Sprintf("Confirm %s %q:", question, retype))
	if err != nil {
		return false, err
	}
	return answer == retype, nil
}

func (o *Orchestrator) options(req Request) workspace.Options {
	opts := workspace.Options{
		Color:            o.Color,
		Diff:             req.Diff,
		ExpectNoChanges:  req.ExpectNoChanges,
		Targets:          req.Targets,
		TargetDependents: req.TargetDependents,
	}
	if req.LogEvents {
		opts.OnEvent = o.logEvent
		return opts
	}
	opts.Stdout, opts.Stderr = o.Stdout, o.Stderr
	return opts
}

// logEvent writes one JSON line per engine event.
func (o *Orchestrator) logEvent(e workspace.Event) {
	if o.Stdout == nil {
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		o.logger().Warn("Failed to encode engine event", "kind", string(e.Kind), "error", err)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.Stdout, string(line))
}

// settle records an engine outcome on sr.
func settle(sr *StackResult, out workspace.Outcome) {
	sr.Outcome = &out
	if out.Succeeded() {
		sr.Status = Succeeded
		return
	}
	sr.Status = Failed
	sr.Err = out.Err
	if sr.Err == nil {
		sr.Err = fmt.Errorf("%s %s", sr.Mode, out.Result)
	}
}

func (o *Orchestrator) destroy(ctx context.Context, req Request, sess *session.Session, sr *StackResult, l *slog.Logger) error {
	ok, err := o.approved(req, "Destroy stack resources?", sess.FullName())
	if err != nil || !ok {
		sr.Status = SkippedUnapproved
		return err
	}
	out, err := sess.Destroy(ctx, o.options(req))
	if err != nil {
		return err
	}
	settle(sr, out)
	return nil
}

func (o *Orchestrator) remove(ctx context.Context, req Request, sess *session.Session, sr *StackResult, l *slog.Logger) error {
	ok, err := o.approved(req, "Remove stack?", sess.FullName())
	if err != nil || !ok {
		sr.Status = SkippedUnapproved
		return err
	}
	if err := sess.Remove(ctx); err != nil {
		if errors.Is(err, session.ErrStackNotEmpty) {
			sr.Status, sr.Err = Failed, err
			return nil
		}
		return err
	}
	sr.Status = Succeeded
	return nil
}

// repair is never auto-approved: it needs an interactive confirmation even with Approve.
func (o *Orchestrator) repair(ctx context.Context, req Request, sess *session.Session, sr *StackResult, l *slog.Logger) error {
	if req.NonInteractive || o.Prompter == nil || o.Repairer == nil {
		sr.Status = SkippedUnapproved
		return nil
	}
	ok, err := o.Prompter.Confirm("Repair stack resources?")
	if err != nil || !ok {
		sr.Status = SkippedUnapproved
		return err
	}
	report, err := o.Repairer.Run(ctx, sess)
	if err != nil {
		return err
	}
	l.Debug("Repair finished", "classification", report.Classification.String())
	sr.Status = Succeeded
	return nil
}

func (o *Orchestrator) refresh(ctx context.Context, req Request, sess *session.Session, sr *StackResult, l *slog.Logger) error {
	ok, err := o.approved(req, "Refresh stack resources?", "")
	if err != nil || !ok {
		sr.Status = SkippedUnapproved
		return err
	}
	out, err := sess.Refresh(ctx, o.options(req))
	if err != nil {
		return err
	}
	settle(sr, out)
	if sr.Status == Failed && o.RefreshFailure == RefreshWarn {
		l.Warn("Refresh failed; continuing", "result", out.Result, "error", sr.Err)
		sr.Status, sr.Err = Succeeded, nil
	}
	return nil
}

func (o *Orchestrator) unprotect(ctx context.Context, req Request, sess *session.Session, sr *StackResult, l *slog.Logger) error {
	ok, err := o.approved(req, "Unprotect stack resources?", "")
	if err != nil || !ok {
		sr.Status = SkippedUnapproved
		return err
	}
	if err := sess.Unprotect(ctx, req.Targets); err != nil {
		sr.Status, sr.Err = Failed, err
		return nil
	}
	sr.Status = Succeeded
	return nil
}

func (o *Orchestrator) update(ctx context.Context, req Request, sess *session.Session, sr *StackResult, l *slog.Logger) error {
	if req.SkipPreview {
		l.Debug("Preview stack skipped")
	} else {
		changes, err := sess.Preview(ctx, o.options(req))
		if err != nil {
			sr.Status, sr.Err = Failed, err
			return nil
		}
		if !changes.HasChanges() {
			sr.Status = SkippedUnchanged
			return nil
		}
	}

	ok, err := o.approved(req, "Update stack?", "")
	if err != nil || !ok {
		sr.Status = SkippedUnapproved
		return err
	}
	out, err := sess.Update(ctx, o.options(req))
	if err != nil {
		return err
	}
	settle(sr, out)
	return nil
}
