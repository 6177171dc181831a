package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/events"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optrefresh"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// Pulumi is a Workspace backed by Pulumi local workspaces running inline programs.
type Pulumi struct {
	// EnvVars are set on every workspace, e.g. PULUMI_BACKEND_URL.
	EnvVars map[string]string
}

func NewPulumi(envVars map[string]string) *Pulumi {
	return &Pulumi{EnvVars: envVars}
}

// CreateOrSelect returns a fresh handle on the stack; handles are never cached.
func (p *Pulumi) CreateOrSelect(ctx context.Context, project, stackName string, program pulumi.RunFunc) (Stack, error) {
	var opts []auto.LocalWorkspaceOption
	if len(p.EnvVars) > 0 {
		opts = append(opts, auto.EnvVars(p.EnvVars))
	}
	s, err := auto.UpsertStackInlineSource(ctx, stackName, project, program, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create or select stack %s: %w", stackName, err)
	}
	return &pulumiStack{stack: s}, nil
}

type pulumiStack struct {
	stack auto.Stack
}

func (s *pulumiStack) Name() string {
	return s.stack.Name()
}

func (s *pulumiStack) InstallPlugin(ctx context.Context, name, version string) error {
	return s.stack.Workspace().InstallPlugin(ctx, name, version)
}

func (s *pulumiStack) SetAllConfig(ctx context.Context, values map[string]ConfigValue) error {
	m := make(auto.ConfigMap, len(values))
	for k, v := range values {
		m[k] = auto.ConfigValue{Value: v.Value, Secret: v.Secret}
	}
	return s.stack.SetAllConfig(ctx, m)
}

func (s *pulumiStack) Preview(ctx context.Context, o Options) (ChangeSummary, error) {
	opts := []optpreview.Option{optpreview.Color(o.color())}
	if o.Diff {
		opts = append(opts, optpreview.Diff())
	}
	if o.ExpectNoChanges {
		opts = append(opts, optpreview.ExpectNoChanges())
	}
	if len(o.Targets) > 0 {
		opts = append(opts, optpreview.Target(o.Targets))
	}
	if o.TargetDependents {
		opts = append(opts, optpreview.TargetDependents())
	}
	opts = append(opts, optpreview.ProgressStreams(o.stdout()), optpreview.ErrorProgressStreams(o.stderr()))
	ch, wait := o.pump()
	if ch != nil {
		opts = append(opts, optpreview.EventStreams(ch))
	}

	res, err := s.stack.Preview(ctx, opts...)
	wait()
	if err != nil {
		return nil, fmt.Errorf("preview failed: %w", err)
	}
	return fromOpTypes(res.ChangeSummary), nil
}

func (s *pulumiStack) Up(ctx context.Context, o Options) Outcome {
	opts := []optup.Option{optup.Color(o.color())}
	if o.Diff {
		opts = append(opts, optup.Diff())
	}
	if o.ExpectNoChanges {
		opts = append(opts, optup.ExpectNoChanges())
	}
	if len(o.Targets) > 0 {
		opts = append(opts, optup.Target(o.Targets))
	}
	if o.TargetDependents {
		opts = append(opts, optup.TargetDependents())
	}
	opts = append(opts, optup.ProgressStreams(o.stdout()), optup.ErrorProgressStreams(o.stderr()))
	ch, wait := o.pump()
	if ch != nil {
		opts = append(opts, optup.EventStreams(ch))
	}

	start := time.Now()
	res, err := s.stack.Up(ctx, opts...)
	wait()
	return summaryOutcome(res.Summary, time.Since(start), err)
}

func (s *pulumiStack) Destroy(ctx context.Context, o Options) Outcome {
	opts := []optdestroy.Option{optdestroy.Color(o.color())}
	if len(o.Targets) > 0 {
		opts = append(opts, optdestroy.Target(o.Targets))
	}
	if o.TargetDependents {
		opts = append(opts, optdestroy.TargetDependents())
	}
	opts = append(opts, optdestroy.ProgressStreams(o.stdout()), optdestroy.ErrorProgressStreams(o.stderr()))
	ch, wait := o.pump()
	if ch != nil {
		opts = append(opts, optdestroy.EventStreams(ch))
	}

	start := time.Now()
	res, err := s.stack.Destroy(ctx, opts...)
	wait()
	return summaryOutcome(res.Summary, time.Since(start), err)
}

func (s *pulumiStack) Refresh(ctx context.Context, o Options) Outcome {
	opts := []optrefresh.Option{optrefresh.Color(o.color())}
	if o.ExpectNoChanges {
		opts = append(opts, optrefresh.ExpectNoChanges())
	}
	if len(o.Targets) > 0 {
		opts = append(opts, optrefresh.Target(o.Targets))
	}
	opts = append(opts, optrefresh.ProgressStreams(o.stdout()), optrefresh.ErrorProgressStreams(o.stderr()))
	ch, wait := o.pump()
	if ch != nil {
		opts = append(opts, optrefresh.EventStreams(ch))
	}

	start := time.Now()
	res, err := s.stack.Refresh(ctx, opts...)
	wait()
	return summaryOutcome(res.Summary, time.Since(start), err)
}

func (s *pulumiStack) Export(ctx context.Context) (json.RawMessage, error) {
	dep, err := s.stack.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export stack state: %w", err)
	}
	doc, err := json.Marshal(dep)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stack state: %w", err)
	}
	return doc, nil
}

func (s *pulumiStack) Import(ctx context.Context, doc json.RawMessage) error {
	var dep apitype.UntypedDeployment
	if err := json.Unmarshal(doc, &dep); err != nil {
		return fmt.Errorf("failed to parse stack state: %w", err)
	}
	if err := s.stack.Import(ctx, dep); err != nil {
		return fmt.Errorf("failed to import stack state: %w", err)
	}
	return nil
}

func (s *pulumiStack) Unprotect(ctx context.Context, targets []string) error {
	doc, err := s.Export(ctx)
	if err != nil {
		return err
	}
	out, changed, err := UnprotectState(doc, targets)
	if err != nil || !changed {
		return err
	}
	return s.Import(ctx, out)
}

func (s *pulumiStack) Remove(ctx context.Context) error {
	if err := s.stack.Workspace().RemoveStack(ctx, s.stack.Name()); err != nil {
		return fmt.Errorf("failed to remove stack %s: %w", s.stack.Name(), err)
	}
	return nil
}

func (o Options) color() string {
	if o.Color == "" {
		return "auto"
	}
	return o.Color
}

func (o Options) stdout() io.Writer {
	if o.Stdout == nil {
		return io.Discard
	}
	return o.Stdout
}

func (o Options) stderr() io.Writer {
	if o.Stderr == nil {
		return io.Discard
	}
	return o.Stderr
}

// drainTimeout bounds how long wait blocks for a channel the Automation API
// never closed, which happens when a command fails before it starts.
var drainTimeout = 5 * time.Second

// pump forwards engine events to OnEvent in arrival order. The Automation API
// closes the channel when the command exits; wait blocks until the last event
// has been delivered. When the channel is still open after drainTimeout, wait
// stops the forwarder and later events are dropped.
func (o Options) pump() (chan events.EngineEvent, func()) {
	if o.OnEvent == nil {
		return nil, func() {}
	}
	ch := make(chan events.EngineEvent)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-ch:
				if !ok {
					return
				}
				o.OnEvent(FromEngine(e))
			case <-stop:
				return
			}
		}
	}()
	return ch, func() {
		select {
		case <-done:
		case <-time.After(drainTimeout):
			close(stop)
			<-done
		}
	}
}

func fromOpTypes(m map[apitype.OpType]int) ChangeSummary {
	c := make(ChangeSummary, len(m))
	for op, n := range m {
		c[OpType(op)] = n
	}
	return c
}

func summaryOutcome(s auto.UpdateSummary, elapsed time.Duration, err error) Outcome {
	changes := ChangeSummary{}
	if s.ResourceChanges != nil {
		for op, n := range *s.ResourceChanges {
			changes[OpType(op)] = n
		}
	}
	return NewOutcome(s.Result, changes, elapsed, err)
}
