// Package programs holds the inline Pulumi programs of the stacks and binds
// them to the stack registry.
package programs

import (
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/stacks"
)

// Registry returns the registry of every deployable stack.
func Registry() (*stacks.Registry, error) {
	return stacks.NewRegistry(
		stacks.Descriptor{ID: stacks.Bootstrap, Project: stacks.Bootstrap.Name(), Program: Bootstrap},
		stacks.Descriptor{ID: stacks.Vpc, Project: stacks.Vpc.Name(), Program: Vpc},
		stacks.Descriptor{ID: stacks.Eks, Project: stacks.Eks.Name(), DependsOn: []stacks.ID{stacks.Vpc}, Program: Eks},
		stacks.Descriptor{ID: stacks.K8s, Project: stacks.K8s.Name(), DependsOn: []stacks.ID{stacks.Eks}, Program: K8s},
	)
}

// prefix names resources of a stack, e.g. "prod-aws-vpc".
func prefix(cfg *config.Config, id stacks.ID) string {
	return cfg.Environment.Name + "-" + id.Name()
}

// newAwsProvider creates the environment's AWS provider. With a role ARN the
// provider assumes that role.
func newAwsProvider(ctx *pulumi.Context, cfg *config.Config, roleArn string) (*aws.Provider, error) {
	env := cfg.Environment
	args := &aws.ProviderArgs{
		Region:            pulumi.String(env.Aws.Region),
		AllowedAccountIds: pulumi.StringArray{pulumi.String(env.Aws.AccountId)},
		DefaultTags:       &aws.ProviderDefaultTagsArgs{Tags: pulumi.ToStringMap(env.DefaultTags)},
	}
	if env.Aws.Profile != nil && *env.Aws.Profile != "" {
		args.Profile = pulumi.String(*env.Aws.Profile)
	}

	name := env.Name + "-aws"
	if roleArn != "" {
		args.AssumeRole = &aws.ProviderAssumeRoleArgs{RoleArn: pulumi.String(roleArn)}
		name += "-deployer"
	}
	return aws.NewProvider(ctx, name, args)
}

func nameTags(name string, extra map[string]string) pulumi.StringMap {
	tags := pulumi.StringMap{"Name": pulumi.String(name)}
	for k, v := range extra {
		tags[k] = pulumi.String(v)
	}
	return tags
}
