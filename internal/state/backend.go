// Package state resolves and verifies the Pulumi state backend the stacks
// are persisted in.
package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Backend is the persisted-state location the engine is pointed at.
type Backend interface {
	// URL is passed to the engine as PULUMI_BACKEND_URL. Empty defers to the CLI login.
	URL() string

	// Verify checks that the backend is usable, creating local directories as needed.
	Verify(ctx context.Context) error
}

const (
	TypeCloud = "cloud"
	TypeLocal = "local"
	TypeS3    = "s3"
)

// ErrPassphraseRequired is returned for self-managed backends when no secrets
// passphrase is available to the engine.
var ErrPassphraseRequired = errors.New("PULUMI_CONFIG_PASSPHRASE or PULUMI_CONFIG_PASSPHRASE_FILE must be set for self-managed backends")

// BackendConfig is the parsed form of a backend URL.
type BackendConfig struct {
	Type string
	URL  string

	// Path is the state directory of a local backend.
	Path string

	Bucket  string
	Prefix  string
	Region  string
	Profile string
}

// ParseBackend parses a backend URL. An empty URL selects the cloud backend
// the CLI is logged in to.
func ParseBackend(raw string) (*BackendConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &BackendConfig{Type: TypeCloud}, nil
	}

	switch {
	case strings.HasPrefix(raw, "file://"):
		path, err := expandPath(strings.TrimPrefix(raw, "file://"))
		if err != nil {
			return nil, err
		}
		return &BackendConfig{Type: TypeLocal, URL: "file://" + path, Path: path}, nil
	case strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid backend url %q: %w", raw, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("s3 backend url %q has no bucket", raw)
		}
		q := u.Query()
		return &BackendConfig{
			Type:    TypeS3,
			URL:     raw,
			Bucket:  u.Host,
			Prefix:  strings.Trim(u.Path, "/"),
			Region:  q.Get("region"),
			Profile: q.Get("profile"),
		}, nil
	case strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "http://"):
		return &BackendConfig{Type: TypeCloud, URL: raw}, nil
	default:
		return nil, fmt.Errorf("unsupported backend url %q (expected file://, s3:// or https://)", raw)
	}
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("local backend url has no path")
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}

// NewBackend creates a state backend from configuration.
func NewBackend(ctx context.Context, cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case TypeCloud:
		return cloudBackend{url: cfg.URL}, nil
	case TypeLocal:
		return localBackend{path: cfg.Path}, nil
	case TypeS3:
		return newS3Backend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// EnvVars returns the engine environment selecting b.
func EnvVars(b Backend) map[string]string {
	if b == nil || b.URL() == "" {
		return nil
	}
	return map[string]string{"PULUMI_BACKEND_URL": b.URL()}
}

func requirePassphrase() error {
	if _, ok := os.LookupEnv("PULUMI_CONFIG_PASSPHRASE"); ok {
		return nil
	}
	if os.Getenv("PULUMI_CONFIG_PASSPHRASE_FILE") != "" {
		return nil
	}
	return ErrPassphraseRequired
}

type cloudBackend struct {
	url string
}

func (b cloudBackend) URL() string { return b.url }

// Verify is a no-op: credentials for the managed service are owned by the CLI login.
func (b cloudBackend) Verify(context.Context) error { return nil }

type localBackend struct {
	path string
}

func (b localBackend) URL() string { return "file://" + b.path }

func (b localBackend) Verify(context.Context) error {
	if err := requirePassphrase(); err != nil {
		return err
	}
	if err := os.MkdirAll(b.path, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", b.path, err)
	}
	return nil
}
