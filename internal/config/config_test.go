package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func validConfig() *Config {
	return &Config{
		Commands: CommandsConfig{Deploy: DeployCommandConfig{Repair: "code --wait"}},
		Environment: EnvironmentConfig{
			Name:        "prod",
			DisplayName: "Prod",
			DefaultTags: map[string]string{"Owner": "platform", "cost-center": "42"},
			Aws: AwsConfig{
				AccountId: "012345678901",
				Region:    "us-west-2",
				Ec2: AwsEc2Config{
					EbsVolumeSize: 20,
					EbsVolumeType: "gp3",
					InstanceType:  "t3.medium",
					KeyName:       "prod",
				},
				Eks: AwsEksConfig{
					Version: "1.31",
					NodeGroups: map[string]AwsEksNodeGroupConfig{
						"Default": {Name: "default", AutoScaling: AwsAutoScalingConfig{DesiredCapacity: 2, MinSize: 1, MaxSize: 3}},
					},
				},
				Iam: AwsIamConfig{
					DeployerRole: "deployer",
					PolicyArn:    "arn:aws:iam::aws:policy",
					RoleArn:      "arn:aws:iam::012345678901:role",
				},
				Route53: AwsRoute53Config{
					Internal: AwsRoute53ZoneConfig{Domain: "prod.internal"},
					Internet: AwsRoute53ZoneConfig{Domain: "prod.example.com"},
				},
				Vpc: AwsVpcConfig{MaxAvailabilityZones: 3, CidrBlock: "10.0.0.0/16"},
			},
			K8s: K8sConfig{
				Version:                 "1.31",
				ContainerRuntime:        "containerd",
				CertManagerChartVersion: "v1.16.2",
				ExternalDnsChartVersion: "1.15.0",
			},
		},
		Pulumi: PulumiConfig{
			Organization: PulumiOrganizationConfig{Name: "acme", DisplayName: "Acme"},
		},
	}
}

func TestDeployerRoleArn(t *testing.T) {
	iam := AwsIamConfig{RoleArn: "arn:aws:iam::1:role", DeployerRole: "deployer"}
	assert.Equal(t, "arn:aws:iam::1:role/deployer", iam.DeployerRoleArn())
}

func TestColorOr(t *testing.T) {
	assert.Equal(t, "auto", PulumiConfig{}.ColorOr("auto"))
	assert.Equal(t, "auto", PulumiConfig{Color: strPtr("")}.ColorOr("auto"))
	assert.Equal(t, "never", PulumiConfig{Color: strPtr("never")}.ColorOr("auto"))
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing repair", func(c *Config) { c.Commands.Deploy.Repair = "" }, "Commands.Deploy.Repair: must not be empty"},
		{"bad env name", func(c *Config) { c.Environment.Name = "Prod" }, "Environment.Name"},
		{"bad display name", func(c *Config) { c.Environment.DisplayName = "prod-1" }, "Environment.DisplayName"},
		{"missing account", func(c *Config) { c.Environment.Aws.AccountId = "" }, "Environment.Aws.AccountId: must not be empty"},
		{"bad entity", func(c *Config) { c.Environment.Aws.Iam.DeployerEntities = strPtr("bob") }, "Environment.Aws.Iam.DeployerEntities"},
		{"bad runtime", func(c *Config) { c.Environment.K8s.ContainerRuntime = "cri-o" }, "Environment.K8s.ContainerRuntime"},
		{"bad autoscaler tag", func(c *Config) { c.Environment.K8s.ClusterAutoscalerImageTag = strPtr("latest") }, "Environment.K8s.ClusterAutoscalerImageTag"},
		{"bad color", func(c *Config) { c.Pulumi.Color = strPtr("rainbow") }, "Pulumi.Color"},
		{"bad cidr", func(c *Config) { c.Environment.Aws.Vpc.CidrBlock = "10.0.0.0" }, "Environment.Aws.Vpc.CidrBlock"},
		{"bad node group", func(c *Config) {
			c.Environment.Aws.Eks.NodeGroups["Default"] = AwsEksNodeGroupConfig{Name: "Default"}
		}, "Environment.Aws.Eks.NodeGroups[Default].Name"},
		{"bad org", func(c *Config) { c.Pulumi.Organization.Name = "" }, "Pulumi.Organization.Name: must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestValidate_AcceptsValidEntities(t *testing.T) {
	cfg := validConfig()
	cfg.Environment.Aws.Iam.DeployerEntities = strPtr("role/admin")
	cfg.Environment.Aws.Iam.EksReadOnlyEntities = strPtr("group/dev")
	assert.NoError(t, cfg.Validate())
}
