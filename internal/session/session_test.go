package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/stacks"
	"github.com/dungeon-io/dungeon/internal/workspace"
	"github.com/dungeon-io/dungeon/internal/workspace/workspacetest"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvironmentConfig{
			Name:        "prod",
			DisplayName: "Prod",
			Aws:         config.AwsConfig{AccountId: "012345678901", Region: "us-west-2"},
		},
		Pulumi: config.PulumiConfig{Organization: config.PulumiOrganizationConfig{Name: "acme", DisplayName: "Acme"}},
	}
}

func noop(*config.Config) pulumi.RunFunc {
	return func(*pulumi.Context) error { return nil }
}

var vpc = stacks.Descriptor{ID: stacks.Vpc, Project: "aws-vpc", Program: noop}

func testOpener(ws *workspacetest.Workspace) *Opener {
	return &Opener{
		Workspace: ws,
		Config:    testConfig(),
		Locks:     &Locks{},
		Retry:     &workspace.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func TestIsSecretKey(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"Database.Password", true},
		{"Auth.Token", true},
		{"dungeon:Environment.Api.ClientSecret", true},
		{"database.password", true},
		{"Database.Port", false},
		{"Aws.Region", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSecretKey(tt.key))
		})
	}
}

func TestNames(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "acme/aws-vpc/prod", FullName(cfg, vpc))
	assert.Equal(t, "acme/prod", StackName(cfg))
}

func TestOpen_InstallsPluginsAndInjectsConfig(t *testing.T) {
	ws := workspacetest.New()
	s, err := testOpener(ws).Open(context.Background(), vpc)
	require.NoError(t, err)
	defer s.Close()

	stack := ws.Stack("aws-vpc")
	assert.Equal(t, "acme/aws-vpc/prod", s.FullName())
	assert.Equal(t, "acme/prod", stack.StackName)
	assert.Equal(t, []string{"aws v6.66.2", "kubernetes v4.20.0", "random v4.16.7", "tls v4.11.1"}, stack.Plugins)

	region, ok := stack.Config["dungeon:Environment.Aws.Region"]
	require.True(t, ok)
	assert.Equal(t, workspace.ConfigValue{Value: "us-west-2"}, region)
	assert.Equal(t, "(null)", stack.Config["dungeon:Environment.Aws.Profile"].Value)
}

func TestOpen_RetriesTransientPluginFailure(t *testing.T) {
	ws := workspacetest.New()
	ws.Stack("aws-vpc").InstallErr = errors.New("connection reset by peer")

	opener := testOpener(ws)
	opener.Plugins = []Plugin{{Name: "aws", Version: "v6.66.0"}}

	_, err := opener.Open(context.Background(), vpc)
	require.ErrorContains(t, err, "max retries")
	assert.Equal(t, []string{"open aws-vpc", "aws-vpc install aws", "aws-vpc install aws", "aws-vpc install aws"}, ws.Recorded())

	// the failed open released its claim
	assert.False(t, opener.Locks.Held("acme/aws-vpc/prod"))
}

func TestConfigValues_MarksSecrets(t *testing.T) {
	env := testConfig().Environment
	env.DefaultTags = map[string]string{"Password": "hunter2", "Token": "abc", "Port": "5432"}

	values := ConfigValues(env)

	assert.True(t, values["dungeon:Environment.DefaultTags.Password"].Secret)
	assert.True(t, values["dungeon:Environment.DefaultTags.Token"].Secret)
	assert.False(t, values["dungeon:Environment.DefaultTags.Port"].Secret)
	assert.Equal(t, "5432", values["dungeon:Environment.DefaultTags.Port"].Value)
}

func TestOpen_Exclusive(t *testing.T) {
	ws := workspacetest.New()
	opener := testOpener(ws)

	first, err := opener.Open(context.Background(), vpc)
	require.NoError(t, err)

	_, err = opener.Open(context.Background(), vpc)
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	require.NoError(t, first.Close())
	second, err := opener.Open(context.Background(), vpc)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestOpen_FreshHandleEachTime(t *testing.T) {
	ws := workspacetest.New()
	opener := testOpener(ws)

	for i := 0; i < 2; i++ {
		s, err := opener.Open(context.Background(), vpc)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	opens := 0
	for _, c := range ws.Recorded() {
		if c == "open aws-vpc" {
			opens++
		}
	}
	assert.Equal(t, 2, opens)
}

func TestUpdate_AtMostOnce(t *testing.T) {
	ws := workspacetest.New()
	s, err := testOpener(ws).Open(context.Background(), vpc)
	require.NoError(t, err)
	defer s.Close()

	o, err := s.Update(context.Background(), workspace.Options{})
	require.NoError(t, err)
	assert.True(t, o.Succeeded())

	_, err = s.Update(context.Background(), workspace.Options{})
	assert.ErrorIs(t, err, ErrAlreadyUpdated)
}

func TestDestroy_UnprotectsFirst(t *testing.T) {
	ws := workspacetest.New()
	s, err := testOpener(ws).Open(context.Background(), vpc)
	require.NoError(t, err)
	defer s.Close()

	o, err := s.Destroy(context.Background(), workspace.Options{Targets: []string{"vpc-subnet-1"}})
	require.NoError(t, err)
	assert.True(t, o.Succeeded())

	calls := ws.Recorded()
	assert.Equal(t, []string{"aws-vpc unprotect", "aws-vpc destroy"}, calls[len(calls)-2:])
	assert.Equal(t, [][]string{{"vpc-subnet-1"}}, ws.Stack("aws-vpc").Unprotected)
}

func TestRemove_NonEmptyFails(t *testing.T) {
	ws := workspacetest.New()
	ws.Stack("aws-vpc").State = json.RawMessage(`{"version":3,"deployment":{"resources":[{"urn":"urn:pulumi:prod::aws-vpc::aws:ec2/vpc:Vpc::vpc"}]}}`)

	s, err := testOpener(ws).Open(context.Background(), vpc)
	require.NoError(t, err)
	defer s.Close()

	err = s.Remove(context.Background())
	assert.ErrorIs(t, err, ErrStackNotEmpty)
	assert.False(t, ws.Stack("aws-vpc").Removed)
}

func TestRemove_Empty(t *testing.T) {
	ws := workspacetest.New()
	s, err := testOpener(ws).Open(context.Background(), vpc)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Remove(context.Background()))
	assert.True(t, ws.Stack("aws-vpc").Removed)
}

func TestClosedSessionRejectsOperations(t *testing.T) {
	ws := workspacetest.New()
	s, err := testOpener(ws).Open(context.Background(), vpc)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Preview(context.Background(), workspace.Options{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResourceCount(t *testing.T) {
	n, err := ResourceCount(json.RawMessage(workspacetest.EmptyState))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = ResourceCount(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestLocks(t *testing.T) {
	var l Locks
	require.NoError(t, l.Lock("a"))
	assert.True(t, l.Held("a"))
	assert.ErrorIs(t, l.Lock("a"), ErrAlreadyOpen)
	l.Unlock("a")
	l.Unlock("a")
	assert.False(t, l.Held("a"))
}
