// Package config holds the typed deployment configuration and its loaders.
package config

// Key is the root section of the configuration files.
const Key = "Dungeon"

// Config represents the top-level configuration.
type Config struct {
	Commands    CommandsConfig    `mapstructure:"Commands" yaml:"Commands" pkl:"Commands"`
	Environment EnvironmentConfig `mapstructure:"Environment" yaml:"Environment" pkl:"Environment"`
	Pulumi      PulumiConfig      `mapstructure:"Pulumi" yaml:"Pulumi" pkl:"Pulumi"`
}

type CommandsConfig struct {
	Deploy DeployCommandConfig `mapstructure:"Deploy" yaml:"Deploy" pkl:"Deploy"`
}

type DeployCommandConfig struct {
	// Repair is the interactive editor command line; the state file path is appended.
	Repair string `mapstructure:"Repair" yaml:"Repair" pkl:"Repair" validate:"required"`
	// RefreshFailure is "halt" or "warn".
	RefreshFailure string `mapstructure:"RefreshFailure" yaml:"RefreshFailure,omitempty" pkl:"RefreshFailure" validate:"omitempty,oneof=halt warn"`
}

type EnvironmentConfig struct {
	Name        string            `mapstructure:"Name" yaml:"Name" pkl:"Name" validate:"required,lowerdash"`
	DisplayName string            `mapstructure:"DisplayName" yaml:"DisplayName" pkl:"DisplayName" validate:"required,pascal"`
	DefaultTags map[string]string `mapstructure:"DefaultTags" yaml:"DefaultTags,omitempty" pkl:"DefaultTags"`
	Aws         AwsConfig         `mapstructure:"Aws" yaml:"Aws" pkl:"Aws"`
	K8s         K8sConfig         `mapstructure:"K8s" yaml:"K8s" pkl:"K8s"`
}

type AwsConfig struct {
	AccountId string           `mapstructure:"AccountId" yaml:"AccountId" pkl:"AccountId" validate:"required"`
	Region    string           `mapstructure:"Region" yaml:"Region" pkl:"Region" validate:"required"`
	Profile   *string          `mapstructure:"Profile" yaml:"Profile,omitempty" pkl:"Profile"`
	Ec2       AwsEc2Config     `mapstructure:"Ec2" yaml:"Ec2" pkl:"Ec2"`
	Eks       AwsEksConfig     `mapstructure:"Eks" yaml:"Eks" pkl:"Eks"`
	Iam       AwsIamConfig     `mapstructure:"Iam" yaml:"Iam" pkl:"Iam"`
	Route53   AwsRoute53Config `mapstructure:"Route53" yaml:"Route53" pkl:"Route53"`
	Vpc       AwsVpcConfig     `mapstructure:"Vpc" yaml:"Vpc" pkl:"Vpc"`
}

type AwsAutoScalingConfig struct {
	DesiredCapacity int `mapstructure:"DesiredCapacity" yaml:"DesiredCapacity" pkl:"DesiredCapacity"`
	MinSize         int `mapstructure:"MinSize" yaml:"MinSize" pkl:"MinSize"`
	MaxSize         int `mapstructure:"MaxSize" yaml:"MaxSize" pkl:"MaxSize" validate:"gtefield=MinSize"`
}

type AwsEc2Config struct {
	EbsVolumeSize int               `mapstructure:"EbsVolumeSize" yaml:"EbsVolumeSize" pkl:"EbsVolumeSize"`
	EbsVolumeType string            `mapstructure:"EbsVolumeType" yaml:"EbsVolumeType" pkl:"EbsVolumeType" validate:"required"`
	InstanceType  string            `mapstructure:"InstanceType" yaml:"InstanceType" pkl:"InstanceType" validate:"required"`
	InstanceTags  map[string]string `mapstructure:"InstanceTags" yaml:"InstanceTags,omitempty" pkl:"InstanceTags"`
	KeyName       string            `mapstructure:"KeyName" yaml:"KeyName" pkl:"KeyName" validate:"required"`
	Monitoring    bool              `mapstructure:"Monitoring" yaml:"Monitoring" pkl:"Monitoring"`
}

type AwsEksConfig struct {
	Version    string                           `mapstructure:"Version" yaml:"Version" pkl:"Version" validate:"required"`
	LogTypes   *string                          `mapstructure:"LogTypes" yaml:"LogTypes,omitempty" pkl:"LogTypes"`
	Addons     map[string]AwsEksAddonConfig     `mapstructure:"Addons" yaml:"Addons,omitempty" pkl:"Addons" validate:"dive"`
	NodeGroups map[string]AwsEksNodeGroupConfig `mapstructure:"NodeGroups" yaml:"NodeGroups,omitempty" pkl:"NodeGroups" validate:"dive"`
}

type AwsEksAddonConfig struct {
	Name             string  `mapstructure:"Name" yaml:"Name" pkl:"Name" validate:"required"`
	Version          string  `mapstructure:"Version" yaml:"Version" pkl:"Version" validate:"required"`
	ResolveConflicts *string `mapstructure:"ResolveConflicts" yaml:"ResolveConflicts,omitempty" pkl:"ResolveConflicts"`
}

type AwsEksNodeGroupConfig struct {
	Name          string                         `mapstructure:"Name" yaml:"Name" pkl:"Name" validate:"required,lowerdash"`
	EbsVolumeType *string                        `mapstructure:"EbsVolumeType" yaml:"EbsVolumeType,omitempty" pkl:"EbsVolumeType"`
	EbsVolumeSize *int                           `mapstructure:"EbsVolumeSize" yaml:"EbsVolumeSize,omitempty" pkl:"EbsVolumeSize"`
	InstanceType  *string                        `mapstructure:"InstanceType" yaml:"InstanceType,omitempty" pkl:"InstanceType"`
	KeyName       *string                        `mapstructure:"KeyName" yaml:"KeyName,omitempty" pkl:"KeyName"`
	Monitoring    *bool                          `mapstructure:"Monitoring" yaml:"Monitoring,omitempty" pkl:"Monitoring"`
	Tainted       bool                           `mapstructure:"Tainted" yaml:"Tainted" pkl:"Tainted"`
	AutoScaling   AwsAutoScalingConfig           `mapstructure:"AutoScaling" yaml:"AutoScaling" pkl:"AutoScaling"`
	Updating      *AwsEksNodeGroupUpdatingConfig `mapstructure:"Updating" yaml:"Updating,omitempty" pkl:"Updating"`
}

type AwsEksNodeGroupUpdatingConfig struct {
	MaxUnavailable           *int `mapstructure:"MaxUnavailable" yaml:"MaxUnavailable,omitempty" pkl:"MaxUnavailable"`
	MaxUnavailablePercentage *int `mapstructure:"MaxUnavailablePercentage" yaml:"MaxUnavailablePercentage,omitempty" pkl:"MaxUnavailablePercentage"`
}

type AwsIamConfig struct {
	DeployerRole          string  `mapstructure:"DeployerRole" yaml:"DeployerRole" pkl:"DeployerRole" validate:"required"`
	PolicyArn             string  `mapstructure:"PolicyArn" yaml:"PolicyArn" pkl:"PolicyArn" validate:"required"`
	RoleArn               string  `mapstructure:"RoleArn" yaml:"RoleArn" pkl:"RoleArn" validate:"required"`
	DeployerEntities      *string `mapstructure:"DeployerEntities" yaml:"DeployerEntities,omitempty" pkl:"DeployerEntities" validate:"omitempty,iamentity"`
	EksFullAccessEntities *string `mapstructure:"EksFullAccessEntities" yaml:"EksFullAccessEntities,omitempty" pkl:"EksFullAccessEntities" validate:"omitempty,iamentity"`
	EksReadOnlyEntities   *string `mapstructure:"EksReadOnlyEntities" yaml:"EksReadOnlyEntities,omitempty" pkl:"EksReadOnlyEntities" validate:"omitempty,iamentity"`
}

// DeployerRoleArn is the full ARN of the deployer role.
func (c AwsIamConfig) DeployerRoleArn() string {
	return c.RoleArn + "/" + c.DeployerRole
}

type AwsRoute53Config struct {
	Internal AwsRoute53ZoneConfig `mapstructure:"Internal" yaml:"Internal" pkl:"Internal"`
	Internet AwsRoute53ZoneConfig `mapstructure:"Internet" yaml:"Internet" pkl:"Internet"`
}

type AwsRoute53ZoneConfig struct {
	Domain string `mapstructure:"Domain" yaml:"Domain" pkl:"Domain" validate:"required"`
}

type AwsVpcConfig struct {
	MaxAvailabilityZones int     `mapstructure:"MaxAvailabilityZones" yaml:"MaxAvailabilityZones" pkl:"MaxAvailabilityZones" validate:"gte=1"`
	CidrBlock            string  `mapstructure:"CidrBlock" yaml:"CidrBlock" pkl:"CidrBlock" validate:"required,cidrv4"`
	VpnCidrBlock         *string `mapstructure:"VpnCidrBlock" yaml:"VpnCidrBlock,omitempty" pkl:"VpnCidrBlock" validate:"omitempty,cidrv4"`
	TransitGatewayId     *string `mapstructure:"TransitGatewayId" yaml:"TransitGatewayId,omitempty" pkl:"TransitGatewayId"`
}

type K8sConfig struct {
	Version                 string `mapstructure:"Version" yaml:"Version" pkl:"Version" validate:"required"`
	ContainerRuntime        string `mapstructure:"ContainerRuntime" yaml:"ContainerRuntime" pkl:"ContainerRuntime" validate:"required,oneof=containerd dockerd"`
	CertManagerChartVersion string `mapstructure:"CertManagerChartVersion" yaml:"CertManagerChartVersion" pkl:"CertManagerChartVersion" validate:"required"`
	ExternalDnsChartVersion string `mapstructure:"ExternalDnsChartVersion" yaml:"ExternalDnsChartVersion" pkl:"ExternalDnsChartVersion" validate:"required"`
	// Optional releases; each is installed only when its chart version is set.
	AwsLbcChartVersion            *string `mapstructure:"AwsLbcChartVersion" yaml:"AwsLbcChartVersion,omitempty" pkl:"AwsLbcChartVersion"`
	ClusterAutoscalerChartVersion *string `mapstructure:"ClusterAutoscalerChartVersion" yaml:"ClusterAutoscalerChartVersion,omitempty" pkl:"ClusterAutoscalerChartVersion"`
	ClusterAutoscalerImageTag     *string `mapstructure:"ClusterAutoscalerImageTag" yaml:"ClusterAutoscalerImageTag,omitempty" pkl:"ClusterAutoscalerImageTag" validate:"omitempty,semver"`
	FluentBitChartVersion         *string `mapstructure:"FluentBitChartVersion" yaml:"FluentBitChartVersion,omitempty" pkl:"FluentBitChartVersion"`
}

type PulumiConfig struct {
	// BackendUrl selects the state backend (file://, s3://, https://); empty uses the CLI login.
	BackendUrl   *string                  `mapstructure:"BackendUrl" yaml:"BackendUrl,omitempty" pkl:"BackendUrl"`
	Color        *string                  `mapstructure:"Color" yaml:"Color,omitempty" pkl:"Color" validate:"omitempty,oneof=auto always never raw"`
	Organization PulumiOrganizationConfig `mapstructure:"Organization" yaml:"Organization" pkl:"Organization"`
}

type PulumiOrganizationConfig struct {
	Name        string `mapstructure:"Name" yaml:"Name" pkl:"Name" validate:"required,lowerdash"`
	DisplayName string `mapstructure:"DisplayName" yaml:"DisplayName" pkl:"DisplayName" validate:"required,pascal"`
}

// ColorOr returns the configured engine color mode or def.
func (c PulumiConfig) ColorOr(def string) string {
	if c.Color == nil || *c.Color == "" {
		return def
	}
	return *c.Color
}
