package config

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// Token is one flattened configuration entry, e.g. "Environment.Aws.Region" = "us-west-2".
type Token struct {
	Key   string
	Value any
}

var propertyKey = regexp.MustCompile(`^[A-Z][A-Za-z]*$`)

// tokens accumulates entries in declaration order.
type tokens []Token

func (t *tokens) add(key string, value any) {
	*t = append(*t, Token{Key: key, Value: value})
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// entry formats a string map key as a property (.Key) or an indexer (['key']).
func entry(prefix, key string) string {
	if propertyKey.MatchString(key) {
		return prefix + "." + key
	}
	return prefix + "['" + key + "']"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *tokens) stringMap(key string, m map[string]string) {
	if len(m) == 0 {
		t.add(key, m)
		return
	}
	for _, k := range sortedKeys(m) {
		t.add(entry(key, k), m[k])
	}
}

func ptr[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// Tokens flattens the whole configuration.
func (c *Config) Tokens() []Token {
	var t tokens
	t.add("Commands.Deploy.Repair", c.Commands.Deploy.Repair)
	t.add("Commands.Deploy.RefreshFailure", c.Commands.Deploy.RefreshFailure)
	t = append(t, c.Environment.Tokens("Environment")...)
	t.add("Pulumi.BackendUrl", ptr(c.Pulumi.BackendUrl))
	t.add("Pulumi.Color", ptr(c.Pulumi.Color))
	t.add("Pulumi.Organization.Name", c.Pulumi.Organization.Name)
	t.add("Pulumi.Organization.DisplayName", c.Pulumi.Organization.DisplayName)
	return t
}

// Tokens flattens the environment configuration under prefix, which may be empty.
func (e EnvironmentConfig) Tokens(prefix string) []Token {
	var t tokens
	t.add(join(prefix, "Name"), e.Name)
	t.add(join(prefix, "DisplayName"), e.DisplayName)
	t.stringMap(join(prefix, "DefaultTags"), e.DefaultTags)
	e.Aws.tokens(&t, join(prefix, "Aws"))
	e.K8s.tokens(&t, join(prefix, "K8s"))
	return t
}

func (a AwsConfig) tokens(t *tokens, p string) {
	t.add(p+".AccountId", a.AccountId)
	t.add(p+".Region", a.Region)
	t.add(p+".Profile", ptr(a.Profile))

	ec2 := p + ".Ec2"
	t.add(ec2+".EbsVolumeSize", a.Ec2.EbsVolumeSize)
	t.add(ec2+".EbsVolumeType", a.Ec2.EbsVolumeType)
	t.add(ec2+".InstanceType", a.Ec2.InstanceType)
	t.stringMap(ec2+".InstanceTags", a.Ec2.InstanceTags)
	t.add(ec2+".KeyName", a.Ec2.KeyName)
	t.add(ec2+".Monitoring", a.Ec2.Monitoring)

	a.Eks.tokens(t, p+".Eks")

	iam := p + ".Iam"
	t.add(iam+".DeployerRole", a.Iam.DeployerRole)
	t.add(iam+".PolicyArn", a.Iam.PolicyArn)
	t.add(iam+".RoleArn", a.Iam.RoleArn)
	t.add(iam+".DeployerEntities", ptr(a.Iam.DeployerEntities))
	t.add(iam+".EksFullAccessEntities", ptr(a.Iam.EksFullAccessEntities))
	t.add(iam+".EksReadOnlyEntities", ptr(a.Iam.EksReadOnlyEntities))

	t.add(p+".Route53.Internal.Domain", a.Route53.Internal.Domain)
	t.add(p+".Route53.Internet.Domain", a.Route53.Internet.Domain)

	vpc := p + ".Vpc"
	t.add(vpc+".MaxAvailabilityZones", a.Vpc.MaxAvailabilityZones)
	t.add(vpc+".CidrBlock", a.Vpc.CidrBlock)
	t.add(vpc+".VpnCidrBlock", ptr(a.Vpc.VpnCidrBlock))
	t.add(vpc+".TransitGatewayId", ptr(a.Vpc.TransitGatewayId))
}

func (e AwsEksConfig) tokens(t *tokens, p string) {
	t.add(p+".Version", e.Version)
	t.add(p+".LogTypes", ptr(e.LogTypes))

	if len(e.Addons) == 0 {
		t.add(p+".Addons", e.Addons)
	}
	for _, k := range sortedKeys(e.Addons) {
		addon, key := e.Addons[k], entry(p+".Addons", k)
		t.add(key+".Name", addon.Name)
		t.add(key+".Version", addon.Version)
		t.add(key+".ResolveConflicts", ptr(addon.ResolveConflicts))
	}

	if len(e.NodeGroups) == 0 {
		t.add(p+".NodeGroups", e.NodeGroups)
	}
	for _, k := range sortedKeys(e.NodeGroups) {
		ng, key := e.NodeGroups[k], entry(p+".NodeGroups", k)
		t.add(key+".Name", ng.Name)
		t.add(key+".EbsVolumeType", ptr(ng.EbsVolumeType))
		t.add(key+".EbsVolumeSize", ptr(ng.EbsVolumeSize))
		t.add(key+".InstanceType", ptr(ng.InstanceType))
		t.add(key+".KeyName", ptr(ng.KeyName))
		t.add(key+".Monitoring", ptr(ng.Monitoring))
		t.add(key+".Tainted", ng.Tainted)
		t.add(key+".AutoScaling.DesiredCapacity", ng.AutoScaling.DesiredCapacity)
		t.add(key+".AutoScaling.MinSize", ng.AutoScaling.MinSize)
		t.add(key+".AutoScaling.MaxSize", ng.AutoScaling.MaxSize)
		if ng.Updating == nil {
			t.add(key+".Updating", nil)
			continue
		}
		t.add(key+".Updating.MaxUnavailable", ptr(ng.Updating.MaxUnavailable))
		t.add(key+".Updating.MaxUnavailablePercentage", ptr(ng.Updating.MaxUnavailablePercentage))
	}
}

func (k K8sConfig) tokens(t *tokens, p string) {
	t.add(p+".Version", k.Version)
	t.add(p+".ContainerRuntime", k.ContainerRuntime)
	t.add(p+".CertManagerChartVersion", k.CertManagerChartVersion)
	t.add(p+".ExternalDnsChartVersion", k.ExternalDnsChartVersion)
	t.add(p+".AwsLbcChartVersion", ptr(k.AwsLbcChartVersion))
	t.add(p+".ClusterAutoscalerChartVersion", ptr(k.ClusterAutoscalerChartVersion))
	t.add(p+".ClusterAutoscalerImageTag", ptr(k.ClusterAutoscalerImageTag))
	t.add(p+".FluentBitChartVersion", ptr(k.FluentBitChartVersion))
}

// ValueString renders a token value for display and stack configuration.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return "(null)"
	case bool:
		return strconv.FormatBool(t)
	case string:
		if t == "" {
			return `""`
		}
		return t
	case []string:
		if len(t) == 0 {
			return "[]"
		}
	case map[string]string:
		if len(t) == 0 {
			return "{}"
		}
	case map[string]AwsEksAddonConfig:
		if len(t) == 0 {
			return "{}"
		}
	case map[string]AwsEksNodeGroupConfig:
		if len(t) == 0 {
			return "{}"
		}
	}
	return fmt.Sprint(v)
}
