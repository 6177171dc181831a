package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultYAML = `Dungeon:
  Commands:
    Deploy:
      Repair: vi
  Environment:
    DefaultTags:
      Owner: platform
    Aws:
      Region: us-east-1
      Ec2:
        EbsVolumeSize: 20
        EbsVolumeType: gp3
  Pulumi:
    Organization:
      Name: acme
      DisplayName: Acme
`

const sharedYAML = `Dungeon:
  Environment:
    Aws:
      Region: us-west-2
      Ec2:
        InstanceType: t3.large
`

const prodYAML = `# extends: shared
Dungeon:
  Environment:
    Name: prod
    DisplayName: Prod
    DefaultTags:
      cost-center: "42"
    Aws:
      AccountId: "012345678901"
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestFiles_Order(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"_default.yaml":     defaultYAML,
		"_development.yaml": "Dungeon: {}\n",
		"shared.yaml":       sharedYAML,
		"prod.yaml":         prodYAML,
	})

	files, err := Files(LoadOptions{Dir: dir, Environment: "prod", HostEnvironment: "Development"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "_default.yaml"),
		filepath.Join(dir, "_development.yaml"),
		filepath.Join(dir, "shared.yaml"),
		filepath.Join(dir, "prod.yaml"),
	}, files)
}

func TestFiles_MissingHostOverlayIgnored(t *testing.T) {
	dir := writeFiles(t, map[string]string{"_default.yaml": defaultYAML})

	files, err := Files(LoadOptions{Dir: dir, HostEnvironment: "production"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "_default.yaml")}, files)
}

func TestFiles_MissingEnvironment(t *testing.T) {
	dir := writeFiles(t, map[string]string{"_default.yaml": defaultYAML})

	_, err := Files(LoadOptions{Dir: dir, Environment: "nope"})
	assert.Error(t, err)
}

func TestFiles_MissingExtension(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"_default.yaml": defaultYAML,
		"prod.yaml":     prodYAML,
	})

	_, err := Files(LoadOptions{Dir: dir, Environment: "prod"})
	assert.ErrorContains(t, err, "shared")
}

func TestReadExtends(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []string
	}{
		{"single", "# extends: shared\n", []string{"shared"}},
		{"multiple", "# extends: shared us-west\n", []string{"shared", "us-west"}},
		{"none", "Dungeon:\n", nil},
		{"malformed", "# extends:\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "env.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.header), 0o644))

			got, err := readExtends(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_MergesLayers(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"_default.yaml": defaultYAML,
		"shared.yaml":   sharedYAML,
		"prod.yaml":     prodYAML,
	})

	cfg, err := Load(context.Background(), LoadOptions{Dir: dir, Environment: "prod"})
	require.NoError(t, err)

	assert.Equal(t, "vi", cfg.Commands.Deploy.Repair)
	assert.Equal(t, "prod", cfg.Environment.Name)
	assert.Equal(t, "us-west-2", cfg.Environment.Aws.Region)
	assert.Equal(t, "012345678901", cfg.Environment.Aws.AccountId)
	assert.Equal(t, 20, cfg.Environment.Aws.Ec2.EbsVolumeSize)
	assert.Equal(t, "t3.large", cfg.Environment.Aws.Ec2.InstanceType)
	assert.Equal(t, map[string]string{"Owner": "platform", "cost-center": "42"}, cfg.Environment.DefaultTags)
	assert.Equal(t, "acme", cfg.Pulumi.Organization.Name)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"_default.yaml": defaultYAML,
		"shared.yaml":   sharedYAML,
		"prod.yaml":     prodYAML,
	})
	t.Setenv("DUNGEON_PULUMI_ORGANIZATION_NAME", "globex")

	cfg, err := Load(context.Background(), LoadOptions{Dir: dir, Environment: "prod"})
	require.NoError(t, err)
	assert.Equal(t, "globex", cfg.Pulumi.Organization.Name)
}

func TestLoad_MissingSection(t *testing.T) {
	dir := writeFiles(t, map[string]string{"_default.yaml": "Other: {}\n"})

	_, err := Load(context.Background(), LoadOptions{Dir: dir})
	assert.ErrorContains(t, err, "Dungeon")
}
