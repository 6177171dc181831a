package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name     string
		raw      string
		expected BackendConfig
		wantErr  bool
	}{
		{name: "empty", raw: "", expected: BackendConfig{Type: TypeCloud}},
		{name: "cloud", raw: "https://api.pulumi.com", expected: BackendConfig{Type: TypeCloud, URL: "https://api.pulumi.com"}},
		{name: "local absolute", raw: "file:///var/lib/dungeon", expected: BackendConfig{Type: TypeLocal, URL: "file:///var/lib/dungeon", Path: "/var/lib/dungeon"}},
		{
			name:     "local home",
			raw:      "file://~/.dungeon",
			expected: BackendConfig{Type: TypeLocal, URL: "file://" + filepath.Join(home, ".dungeon"), Path: filepath.Join(home, ".dungeon")},
		},
		{
			name: "s3",
			raw:  "s3://acme-state/dungeon?region=us-west-2&profile=ops",
			expected: BackendConfig{
				Type: TypeS3, URL: "s3://acme-state/dungeon?region=us-west-2&profile=ops",
				Bucket: "acme-state", Prefix: "dungeon", Region: "us-west-2", Profile: "ops",
			},
		},
		{name: "s3 without bucket", raw: "s3:///state", wantErr: true},
		{name: "local without path", raw: "file://", wantErr: true},
		{name: "unsupported", raw: "gs://bucket", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseBackend(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *cfg)
		})
	}
}

func TestNewBackendRejectsNilConfig(t *testing.T) {
	_, err := NewBackend(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestNewBackendRejectsUnknownType(t *testing.T) {
	_, err := NewBackend(context.Background(), &BackendConfig{Type: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

func TestLocalBackendVerifyCreatesDirectory(t *testing.T) {
	t.Setenv("PULUMI_CONFIG_PASSPHRASE", "")
	dir := filepath.Join(t.TempDir(), "state", "nested")

	b, err := NewBackend(context.Background(), &BackendConfig{Type: TypeLocal, Path: dir})
	require.NoError(t, err)
	require.NoError(t, b.Verify(context.Background()))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, map[string]string{"PULUMI_BACKEND_URL": "file://" + dir}, EnvVars(b))
}

func TestLocalBackendVerifyRequiresPassphrase(t *testing.T) {
	t.Setenv("PULUMI_CONFIG_PASSPHRASE", "")
	os.Unsetenv("PULUMI_CONFIG_PASSPHRASE")
	t.Setenv("PULUMI_CONFIG_PASSPHRASE_FILE", "")

	b := localBackend{path: t.TempDir()}
	assert.ErrorIs(t, b.Verify(context.Background()), ErrPassphraseRequired)
}

func TestCloudBackendEnvVars(t *testing.T) {
	b, err := NewBackend(context.Background(), &BackendConfig{Type: TypeCloud})
	require.NoError(t, err)
	assert.NoError(t, b.Verify(context.Background()))
	assert.Nil(t, EnvVars(b))
}
