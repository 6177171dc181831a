package programs

import (
	"encoding/json"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/logging"
)

// Bootstrap creates the deployer role the other stacks assume, and the
// policy that lets the configured entities assume it.
func Bootstrap(cfg *config.Config) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		awsCfg := cfg.Environment.Aws
		l := logging.Logger().With("stack", ctx.Project())

		provider, err := newAwsProvider(ctx, cfg, "")
		if err != nil {
			return err
		}
		opts := []pulumi.ResourceOption{pulumi.Provider(provider)}

		l.Debug("Creating iam roles")
		trust, err := accountTrust(awsCfg.AccountId)
		if err != nil {
			return err
		}
		name := awsCfg.Iam.DeployerRole
		role, err := iam.NewRole(ctx, name, &iam.RoleArgs{
			Name:             pulumi.String(name),
			AssumeRolePolicy: pulumi.String(trust),
		}, append(opts, pulumi.DeleteBeforeReplace(true))...)
		if err != nil {
			return err
		}

		deployerPolicy, err := renderPolicy("deployer.json.tmpl", awsCfg)
		if err != nil {
			return err
		}
		if _, err := iam.NewRolePolicy(ctx, name+"-policy", &iam.RolePolicyArgs{
			Role:   role.Name,
			Policy: pulumi.String(deployerPolicy),
		}, opts...); err != nil {
			return err
		}

		l.Debug("Creating iam policies")
		assume := role.Arn.ApplyT(func(arn string) (string, error) {
			return allowAction("sts:AssumeRole", arn)
		}).(pulumi.StringOutput)
		policy, err := iam.NewPolicy(ctx, name, &iam.PolicyArgs{
			Name:   pulumi.String(name),
			Policy: assume,
		}, append(opts, pulumi.DeleteBeforeReplace(true))...)
		if err != nil {
			return err
		}

		entities, err := ParseEntities(awsCfg.Iam.DeployerEntities)
		if err != nil {
			return err
		}
		for _, e := range entities {
			resource := name + "-" + e.Kind + "-" + e.Name
			switch e.Kind {
			case "group":
				_, err = iam.NewGroupPolicyAttachment(ctx, resource, &iam.GroupPolicyAttachmentArgs{
					Group:     pulumi.String(e.Name),
					PolicyArn: policy.Arn,
				}, opts...)
			case "role":
				_, err = iam.NewRolePolicyAttachment(ctx, resource, &iam.RolePolicyAttachmentArgs{
					Role:      pulumi.String(e.Name),
					PolicyArn: policy.Arn,
				}, opts...)
			case "user":
				_, err = iam.NewUserPolicyAttachment(ctx, resource, &iam.UserPolicyAttachmentArgs{
					User:      pulumi.String(e.Name),
					PolicyArn: policy.Arn,
				}, opts...)
			}
			if err != nil {
				return err
			}
		}

		ctx.Export("DeployerRoleArn", role.Arn)
		ctx.Export("DeployerPolicyArn", policy.Arn)
		return nil
	}
}

func allowAction(action, resourceArn string) (string, error) {
	b, err := json.Marshal(map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]string{{
			"Effect":   "Allow",
			"Action":   action,
			"Resource": resourceArn,
		}},
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
