package cli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dungeon-io/dungeon/internal/cloud"
	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/deploy"
	"github.com/dungeon-io/dungeon/internal/stacks"
)

const defaultYAML = `Dungeon:
  Commands:
    Deploy:
      Repair: code --wait
  Environment:
    Aws:
      Region: us-west-2
      Ec2:
        EbsVolumeSize: 20
        EbsVolumeType: gp3
        InstanceType: t3.medium
        KeyName: ops
      Eks:
        Version: "1.31"
      Iam:
        DeployerRole: deployer
        PolicyArn: arn:aws:iam::aws:policy
        RoleArn: arn:aws:iam::012345678901:role
      Vpc:
        MaxAvailabilityZones: 3
        CidrBlock: 10.0.0.0/16
    K8s:
      Version: "1.31"
      ContainerRuntime: containerd
      CertManagerChartVersion: v1.16.2
      ExternalDnsChartVersion: 1.15.0
  Pulumi:
    Organization:
      Name: acme
      DisplayName: Acme
`

const prodYAML = `Dungeon:
  Environment:
    Name: prod
    DisplayName: Prod
    DefaultTags:
      Owner: platform
      ApiToken: hunter2
    Aws:
      AccountId: "012345678901"
      Route53:
        Internal:
          Domain: prod.internal
        Internet:
          Domain: prod.example.com
`

func writeConfig(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configYAML = false
		rootConfigDir = ""
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestShortenPaths(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		cwd      string
		home     string
		expected string
	}{
		{
			name:     "cwd",
			msg:      "failed to read /home/ops/infra/config/prod.yaml",
			cwd:      "/home/ops/infra",
			home:     "/home/ops",
			expected: "failed to read ./config/prod.yaml",
		},
		{
			name:     "home",
			msg:      "failed to read /home/ops/.aws/config",
			cwd:      "/home/ops/infra",
			home:     "/home/ops",
			expected: "failed to read ~/.aws/config",
		},
		{
			name:     "root cwd untouched",
			msg:      "failed to read /etc/dungeon",
			cwd:      "/",
			home:     "",
			expected: "failed to read /etc/dungeon",
		},
		{
			name:     "no paths",
			msg:      "stack aws-vpc failed",
			cwd:      "/home/ops/infra",
			home:     "/home/ops",
			expected: "stack aws-vpc failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, shortenPaths(tt.msg, tt.cwd, tt.home))
		})
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.New("boom"))
	assert.Contains(t, buf.String(), "Error: boom")
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("DUNGEON_CONFIG_DIR", "/srv/config")
	t.Setenv("DUNGEON_LOG_LEVEL", "debug")
	t.Cleanup(func() { rootConfigDir = "" })

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVar(&rootConfigDir, "config-dir", "", "")
	flags.StringVar(&rootLogLevel, "log-level", "", "")

	s, err := loadSettings(flags)
	require.NoError(t, err)
	assert.Equal(t, "/srv/config", s.ConfigDir)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "production", s.Environment)

	require.NoError(t, flags.Set("config-dir", "local"))
	s, err = loadSettings(flags)
	require.NoError(t, err)
	assert.Equal(t, "local", s.ConfigDir)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestConfigCommand_Table(t *testing.T) {
	dir := writeConfig(t, map[string]string{"_default.yaml": defaultYAML, "prod.yaml": prodYAML})

	out, err := runRoot(t, "--config-dir", dir, "config", "prod")
	require.NoError(t, err)
	assert.Contains(t, out, "TOKEN")
	assert.Regexp(t, `Environment\.Aws\.Region\s+us-west-2`, out)
	assert.Regexp(t, `Environment\.Aws\.Profile\s+\(null\)`, out)
}

func TestConfigCommand_YAML(t *testing.T) {
	dir := writeConfig(t, map[string]string{"_default.yaml": defaultYAML, "prod.yaml": prodYAML})

	out, err := runRoot(t, "--config-dir", dir, "config", "prod", "--yaml")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Environment:\n"))
	assert.Contains(t, out, `AccountId: "012345678901"`)
	assert.Contains(t, out, "Owner: platform")
	assert.NotContains(t, out, "ApiToken")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "Pulumi:")
}

func TestConfigCommand_ValidationFailure(t *testing.T) {
	dir := writeConfig(t, map[string]string{"_default.yaml": defaultYAML})

	_, err := runRoot(t, "--config-dir", dir, "config")
	require.Error(t, err)
	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDeployRequest(t *testing.T) {
	t.Cleanup(func() {
		deployDestroy, deployYes, deployTargets, deployNonInteractive = false, false, nil, false
	})

	req, err := deployRequest([]string{"prod"}, true)
	require.NoError(t, err)
	assert.Equal(t, "prod", req.Environment)
	assert.Equal(t, stacks.All, req.Stacks)
	assert.Equal(t, deploy.ModeUpdate, req.Mode())
	assert.False(t, req.NonInteractive)

	deployDestroy, deployYes, deployTargets = true, true, []string{"vpc-subnet-1"}
	req, err = deployRequest([]string{"prod", "aws-vpc"}, true)
	require.NoError(t, err)
	assert.Equal(t, stacks.Vpc, req.Stacks)
	assert.Equal(t, deploy.ModeDestroy, req.Mode())
	assert.True(t, req.Approve)
	assert.Equal(t, []string{"vpc-subnet-1"}, req.Targets)

	req, err = deployRequest([]string{"prod"}, false)
	require.NoError(t, err)
	assert.True(t, req.NonInteractive, "no terminal means no prompts")

	_, err = deployRequest([]string{"prod", "database"}, true)
	assert.Error(t, err)
}

func TestDeployFlags(t *testing.T) {
	for _, name := range []string{
		"destroy", "diff", "expect-no-changes", "log-events", "non-interactive", "refresh", "remove",
		"repair", "skip-preview", "target", "target-dependents", "unprotect", "yes", "skip-preflight",
	} {
		assert.NotNil(t, deployCmd.Flags().Lookup(name), name)
	}
	for short, long := range map[string]string{"r": "refresh", "f": "skip-preview", "y": "yes"} {
		f := deployCmd.Flags().ShorthandLookup(short)
		require.NotNil(t, f, short)
		assert.Equal(t, long, f.Name)
	}
}

func TestPreflightChecks(t *testing.T) {
	assert.Equal(t, cloud.Checks{}, preflightChecks([]stacks.ID{stacks.Bootstrap}, deploy.ModeUpdate))
	assert.Equal(t, cloud.Checks{DeployerRole: true, Network: true, Addons: true}, preflightChecks([]stacks.ID{stacks.Vpc, stacks.Eks, stacks.K8s}, deploy.ModeUpdate))
	assert.Equal(t, cloud.Checks{DeployerRole: true}, preflightChecks([]stacks.ID{stacks.K8s, stacks.Eks, stacks.Vpc}, deploy.ModeDestroy))
	assert.Equal(t, cloud.Checks{DeployerRole: true, Addons: true}, preflightChecks([]stacks.ID{stacks.Eks}, deploy.ModeUpdate))
}

func TestRefreshPolicy(t *testing.T) {
	cfg := &config.Config{}
	assert.Equal(t, deploy.RefreshHalt, refreshPolicy(cfg))
	cfg.Commands.Deploy.RefreshFailure = "warn"
	assert.Equal(t, deploy.RefreshWarn, refreshPolicy(cfg))
}

func TestPrompter_Confirm(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var out bytes.Buffer
			ok, err := newPrompter(strings.NewReader(tt.input), &out).Confirm("Update stack?")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
			assert.Contains(t, out.String(), "[y/N]")
		})
	}
}

func TestPrompter_Prompt(t *testing.T) {
	p := newPrompter(strings.NewReader("  acme/aws-vpc/prod \nnext\n"), io.Discard)

	answer, err := p.Prompt("Confirm destroy:")
	require.NoError(t, err)
	assert.Equal(t, "acme/aws-vpc/prod", answer)

	answer, err = p.Prompt("again:")
	require.NoError(t, err)
	assert.Equal(t, "next", answer)
}

func TestPrompter_ReadError(t *testing.T) {
	p := newPrompter(iotest.ErrReader(errors.New("closed")), io.Discard)
	_, err := p.Confirm("Update stack?")
	assert.ErrorContains(t, err, "failed to read answer")
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dungeon version dev")
}
