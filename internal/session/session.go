// Package session manages one stack's working handle for a single run.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/logging"
	"github.com/dungeon-io/dungeon/internal/stacks"
	"github.com/dungeon-io/dungeon/internal/workspace"
)

var (
	ErrAlreadyOpen    = errors.New("stack session already open")
	ErrAlreadyUpdated = errors.New("stack already updated in this session")
	ErrStackNotEmpty  = errors.New("stack still has resources")
	ErrClosed         = errors.New("stack session closed")
)

// ConfigPrefix is the stack configuration namespace the environment is injected under.
const ConfigPrefix = "dungeon:Environment"

var secretKey = regexp.MustCompile(`(?i)password|secret|token`)

// IsSecretKey reports whether a configuration key must be stored encrypted.
func IsSecretKey(key string) bool {
	return secretKey.MatchString(key)
}

// Plugin is a provider plugin required by the stack programs.
type Plugin struct {
	Name    string
	Version string
}

// DefaultPlugins are installed into every stack workspace.
var DefaultPlugins = []Plugin{
	{Name: "aws", Version: "v6.66.2"},
	{Name: "kubernetes", Version: "v4.20.0"},
	{Name: "random", Version: "v4.16.7"},
	{Name: "tls", Version: "v4.11.1"},
}

// Opener opens sessions against a workspace.
type Opener struct {
	Workspace workspace.Workspace
	Config    *config.Config
	Plugins   []Plugin
	Retry     *workspace.RetryPolicy
	Locks     *Locks
	Logger    *slog.Logger
}

// FullName returns {organization}/{project}/{environment}.
func FullName(cfg *config.Config, d stacks.Descriptor) string {
	return fmt.Sprintf("%s/%s/%s", cfg.Pulumi.Organization.Name, d.Project, cfg.Environment.Name)
}

// StackName returns the engine stack name {organization}/{environment}.
func StackName(cfg *config.Config) string {
	return cfg.Pulumi.Organization.Name + "/" + cfg.Environment.Name
}

// ConfigValues flattens the environment configuration into stack configuration.
func ConfigValues(env config.EnvironmentConfig) map[string]workspace.ConfigValue {
	tokens := env.Tokens(ConfigPrefix)
	values := make(map[string]workspace.ConfigValue, len(tokens))
	for _, t := range tokens {
		values[t.Key] = workspace.ConfigValue{
			Value:  config.ValueString(t.Value),
			Secret: IsSecretKey(t.Key),
		}
	}
	return values
}

// Open creates or selects the stack for d, installs plugins and injects
// configuration. Every call acquires a fresh handle.
func (o *Opener) Open(ctx context.Context, d stacks.Descriptor) (*Session, error) {
	l := o.Logger
	if l == nil {
		l = logging.Logger()
	}
	locks := o.Locks
	if locks == nil {
		locks = processLocks
	}
	if d.Program == nil {
		return nil, fmt.Errorf("stack %s has no program", d.Project)
	}

	fullName := FullName(o.Config, d)
	l = l.With("stack", fullName)
	if err := locks.Lock(fullName); err != nil {
		return nil, err
	}

	s, err := o.open(ctx, d, fullName, l)
	if err != nil {
		locks.Unlock(fullName)
		return nil, err
	}
	s.locks = locks
	return s, nil
}

func (o *Opener) open(ctx context.Context, d stacks.Descriptor, fullName string, l *slog.Logger) (*Session, error) {
	l.Debug("Opening stack")
	stack, err := o.Workspace.CreateOrSelect(ctx, d.Project, StackName(o.Config), d.Program(o.Config))
	if err != nil {
		return nil, err
	}

	plugins := o.Plugins
	if plugins == nil {
		plugins = DefaultPlugins
	}
	l.Debug("Installing plugins")
	for _, p := range plugins {
		err := workspace.RetryWithBackoff(ctx, o.Retry, func() error {
			return stack.InstallPlugin(ctx, p.Name, p.Version)
		}, workspace.IsTransientError)
		if err != nil {
			return nil, fmt.Errorf("failed to install plugin %s %s: %w", p.Name, p.Version, err)
		}
	}

	l.Debug("Setting config")
	if err := stack.SetAllConfig(ctx, ConfigValues(o.Config.Environment)); err != nil {
		return nil, fmt.Errorf("failed to set stack config: %w", err)
	}

	return &Session{
		descriptor: d,
		fullName:   fullName,
		stack:      stack,
		logger:     l,
	}, nil
}

// Session wraps one stack handle. It is not safe for concurrent use.
type Session struct {
	descriptor stacks.Descriptor
	fullName   string
	stack      workspace.Stack
	logger     *slog.Logger
	locks      *Locks
	updated    bool
	closed     bool
}

func (s *Session) FullName() string              { return s.fullName }
func (s *Session) Descriptor() stacks.Descriptor { return s.descriptor }

// Close releases the session's claim on the stack.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.locks != nil {
		s.locks.Unlock(s.fullName)
	}
	return nil
}

func (s *Session) check() error {
	if s.closed {
		return fmt.Errorf("%w: %s", ErrClosed, s.fullName)
	}
	return nil
}

// Preview computes the change summary without mutating state.
func (s *Session) Preview(ctx context.Context, opts workspace.Options) (workspace.ChangeSummary, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.logger.Debug("Previewing stack")
	defer logging.Elapsed(s.logger, "Previewed stack")()
	return s.stack.Preview(ctx, opts)
}

// Update applies the program. It runs at most once per session.
func (s *Session) Update(ctx context.Context, opts workspace.Options) (workspace.Outcome, error) {
	if err := s.check(); err != nil {
		return workspace.Outcome{}, err
	}
	if s.updated {
		return workspace.Outcome{}, fmt.Errorf("%w: %s", ErrAlreadyUpdated, s.fullName)
	}
	s.updated = true

	s.logger.Debug("Updating stack")
	o := s.stack.Up(ctx, opts)
	s.logger.Info("Updated stack", "result", o.Result, "elapsed", logging.FormatElapsed(o.Elapsed))
	return o, nil
}

// Destroy unprotects the targeted resources and then destroys them.
func (s *Session) Destroy(ctx context.Context, opts workspace.Options) (workspace.Outcome, error) {
	if err := s.check(); err != nil {
		return workspace.Outcome{}, err
	}
	if err := s.Unprotect(ctx, opts.Targets); err != nil {
		return workspace.Outcome{}, err
	}

	s.logger.Debug("Destroying stack resources")
	o := s.stack.Destroy(ctx, opts)
	s.logger.Info("Destroyed stack resources", "result", o.Result, "elapsed", logging.FormatElapsed(o.Elapsed))
	return o, nil
}

// Refresh reconciles state with the real infrastructure.
func (s *Session) Refresh(ctx context.Context, opts workspace.Options) (workspace.Outcome, error) {
	if err := s.check(); err != nil {
		return workspace.Outcome{}, err
	}
	s.logger.Debug("Refreshing stack resources")
	o := s.stack.Refresh(ctx, opts)
	s.logger.Info("Refreshed stack resources", "result", o.Result, "elapsed", logging.FormatElapsed(o.Elapsed))
	return o, nil
}

// Unprotect clears delete protection on targets, or on every resource when targets is empty.
func (s *Session) Unprotect(ctx context.Context, targets []string) error {
	if err := s.check(); err != nil {
		return err
	}
	s.logger.Debug("Unprotecting stack resources", "targets", targets)
	defer logging.Elapsed(s.logger, "Unprotected stack resources")()
	if err := s.stack.Unprotect(ctx, targets); err != nil {
		return fmt.Errorf("failed to unprotect stack resources: %w", err)
	}
	return nil
}

// Remove deletes the stack record. The stack must not hold resources.
func (s *Session) Remove(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	doc, err := s.stack.Export(ctx)
	if err != nil {
		return err
	}
	n, err := ResourceCount(doc)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s has %d resources", ErrStackNotEmpty, s.fullName, n)
	}

	s.logger.Debug("Removing stack")
	if err := s.stack.Remove(ctx); err != nil {
		return err
	}
	s.logger.Info("Removed stack")
	return nil
}

// Export returns the stack's persisted state.
func (s *Session) Export(ctx context.Context) (json.RawMessage, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.stack.Export(ctx)
}

// Import replaces the stack's persisted state. It bypasses preview.
func (s *Session) Import(ctx context.Context, doc json.RawMessage) error {
	if err := s.check(); err != nil {
		return err
	}
	s.logger.Debug("Importing stack state")
	return s.stack.Import(ctx, doc)
}

// ResourceCount returns the number of resources in an exported deployment.
func ResourceCount(doc json.RawMessage) (int, error) {
	var state struct {
		Deployment struct {
			Resources []json.RawMessage `json:"resources"`
		} `json:"deployment"`
	}
	if err := json.Unmarshal(doc, &state); err != nil {
		return 0, fmt.Errorf("failed to parse stack state: %w", err)
	}
	return len(state.Deployment.Resources), nil
}
