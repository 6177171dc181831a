package programs

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/eks"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi-random/sdk/v4/go/random"
	"github.com/pulumi/pulumi-tls/sdk/v4/go/tls"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/logging"
	"github.com/dungeon-io/dungeon/internal/stacks"
)

var (
	clusterPolicies = []string{
		"arn:aws:iam::aws:policy/AmazonEKSClusterPolicy",
	}
	nodePolicies = []string{
		"arn:aws:iam::aws:policy/AmazonEKSWorkerNodePolicy",
		"arn:aws:iam::aws:policy/AmazonEKS_CNI_Policy",
		"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly",
		"arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore",
	}
)

const (
	clusterAdminPolicy = "arn:aws:eks::aws:cluster-access-policy/AmazonEKSClusterAdminPolicy"
	viewPolicy         = "arn:aws:eks::aws:cluster-access-policy/AmazonEKSViewPolicy"
)

// Eks creates the cluster on the private subnets of the vpc stack, its OIDC
// provider, addons, managed node groups and access entries.
func Eks(cfg *config.Config) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		awsCfg := cfg.Environment.Aws
		eksCfg := awsCfg.Eks
		name := prefix(cfg, stacks.Eks)
		deployerArn := awsCfg.Iam.DeployerRoleArn()
		l := logging.Logger().With("stack", ctx.Project())

		vpcRef, err := stackReference(ctx, cfg, stacks.Vpc)
		if err != nil {
			return err
		}
		privateSubnetIDs := RequireStringArray(vpcRef, "PrivateSubnetIds")
		publicSubnetIDs := RequireStringArray(vpcRef, "PublicSubnetIds")

		provider, err := newAwsProvider(ctx, cfg, deployerArn)
		if err != nil {
			return err
		}
		opts := []pulumi.ResourceOption{pulumi.Provider(provider)}

		l.Debug("Creating cluster role")
		clusterRole, err := newServiceRole(ctx, name+"-cluster", "eks.amazonaws.com", clusterPolicies, opts)
		if err != nil {
			return err
		}

		l.Debug("Creating cluster")
		subnetIDs := pulumi.All(privateSubnetIDs, publicSubnetIDs).ApplyT(func(args []interface{}) []string {
			return append(append([]string{}, args[0].([]string)...), args[1].([]string)...)
		}).(pulumi.StringArrayOutput)
		clusterArgs := &eks.ClusterArgs{
			Name:    pulumi.String(name),
			RoleArn: clusterRole.Arn,
			Version: pulumi.String(eksCfg.Version),
			VpcConfig: &eks.ClusterVpcConfigArgs{
				SubnetIds:             subnetIDs,
				EndpointPrivateAccess: pulumi.Bool(true),
				EndpointPublicAccess:  pulumi.Bool(true),
			},
			AccessConfig: &eks.ClusterAccessConfigArgs{
				AuthenticationMode:                      pulumi.String("API_AND_CONFIG_MAP"),
				BootstrapClusterCreatorAdminPermissions: pulumi.Bool(true),
			},
			Tags: nameTags(name, nil),
		}
		if eksCfg.LogTypes != nil {
			clusterArgs.EnabledClusterLogTypes = pulumi.ToStringArray(strings.FieldsFunc(*eksCfg.LogTypes, func(r rune) bool {
				return r == ',' || r == ' '
			}))
		}
		cluster, err := eks.NewCluster(ctx, name, clusterArgs, opts...)
		if err != nil {
			return err
		}

		l.Debug("Creating oidc provider")
		issuer := cluster.Identities.Index(pulumi.Int(0)).Oidcs().Index(pulumi.Int(0)).Issuer().Elem()
		cert := tls.GetCertificateOutput(ctx, tls.GetCertificateOutputArgs{Url: issuer})
		oidc, err := iam.NewOpenIdConnectProvider(ctx, name, &iam.OpenIdConnectProviderArgs{
			Url:             issuer,
			ClientIdLists:   pulumi.StringArray{pulumi.String("sts.amazonaws.com")},
			ThumbprintLists: pulumi.StringArray{cert.Certificates().Index(pulumi.Int(0)).Sha1Fingerprint()},
		}, opts...)
		if err != nil {
			return err
		}

		l.Debug("Creating node groups", "count", len(eksCfg.NodeGroups))
		nodeRole, err := newServiceRole(ctx, name+"-node", "ec2.amazonaws.com", nodePolicies, opts)
		if err != nil {
			return err
		}
		var nodeGroups []pulumi.Resource
		for _, key := range sortedKeys(eksCfg.NodeGroups) {
			ng, err := newNodeGroup(ctx, name, awsCfg.Ec2, eksCfg.NodeGroups[key], cluster, nodeRole, privateSubnetIDs, opts)
			if err != nil {
				return err
			}
			nodeGroups = append(nodeGroups, ng)
		}

		l.Debug("Creating addons", "count", len(eksCfg.Addons))
		for _, key := range sortedKeys(eksCfg.Addons) {
			addon := eksCfg.Addons[key]
			args := &eks.AddonArgs{
				ClusterName:  cluster.Name,
				AddonName:    pulumi.String(addon.Name),
				AddonVersion: pulumi.String(addon.Version),
			}
			if addon.ResolveConflicts != nil {
				args.ResolveConflictsOnUpdate = pulumi.String(*addon.ResolveConflicts)
			}
			if _, err := eks.NewAddon(ctx, name+"-"+addon.Name, args, append(opts, pulumi.DependsOn(nodeGroups))...); err != nil {
				return err
			}
		}

		l.Debug("Creating access entries")
		if err := accessEntries(ctx, name, cluster, awsCfg.AccountId, awsCfg.Iam.EksFullAccessEntities, clusterAdminPolicy, opts); err != nil {
			return err
		}
		if err := accessEntries(ctx, name, cluster, awsCfg.AccountId, awsCfg.Iam.EksReadOnlyEntities, viewPolicy, opts); err != nil {
			return err
		}

		kubeConfig := pulumi.All(cluster.Endpoint, cluster.CertificateAuthority.Data().Elem(), cluster.Name).ApplyT(
			func(args []interface{}) (string, error) {
				return KubeConfig(cfg.Environment.Name, args[0].(string), args[1].(string), args[2].(string), deployerArn)
			}).(pulumi.StringOutput)

		ctx.Export("ClusterName", cluster.Name)
		ctx.Export("KubeConfig", pulumi.ToSecret(kubeConfig))
		ctx.Export("OidcArn", oidc.Arn)
		ctx.Export("OidcUrl", oidc.Url)
		return nil
	}
}

// newServiceRole creates a role assumable by an AWS service with managed policies attached.
func newServiceRole(ctx *pulumi.Context, name, service string, policyArns []string, opts []pulumi.ResourceOption) (*iam.Role, error) {
	trust, err := serviceTrust(service)
	if err != nil {
		return nil, err
	}
	role, err := iam.NewRole(ctx, name, &iam.RoleArgs{AssumeRolePolicy: pulumi.String(trust)}, opts...)
	if err != nil {
		return nil, err
	}
	for _, arn := range policyArns {
		short := arn[strings.LastIndex(arn, "/")+1:]
		if _, err := iam.NewRolePolicyAttachment(ctx, name+"-"+short, &iam.RolePolicyAttachmentArgs{
			Role:      role.Name,
			PolicyArn: pulumi.String(arn),
		}, opts...); err != nil {
			return nil, err
		}
	}
	return role, nil
}

// newNodeGroup creates a managed node group behind a launch template. The group
// name carries a random suffix that changes with the instance settings, so
// replacements are created before the old group is removed.
func newNodeGroup(ctx *pulumi.Context, prefix string, defaults config.AwsEc2Config, ng config.AwsEksNodeGroupConfig,
	cluster *eks.Cluster, nodeRole *iam.Role, subnetIDs pulumi.StringArrayOutput, opts []pulumi.ResourceOption) (*eks.NodeGroup, error) {
	name := prefix + "-" + ng.Name
	instanceType := valueOr(ng.InstanceType, defaults.InstanceType)
	volumeType := valueOr(ng.EbsVolumeType, defaults.EbsVolumeType)
	volumeSize := valueOr(ng.EbsVolumeSize, defaults.EbsVolumeSize)
	keyName := valueOr(ng.KeyName, defaults.KeyName)
	monitoring := valueOr(ng.Monitoring, defaults.Monitoring)

	suffix, err := random.NewRandomId(ctx, name, &random.RandomIdArgs{
		ByteLength: pulumi.Int(4),
		Keepers: pulumi.StringMap{
			"instanceType": pulumi.String(instanceType),
			"volumeType":   pulumi.String(volumeType),
			"volumeSize":   pulumi.String(strconv.Itoa(volumeSize)),
			"keyName":      pulumi.String(keyName),
		},
	})
	if err != nil {
		return nil, err
	}

	lt, err := ec2.NewLaunchTemplate(ctx, name, &ec2.LaunchTemplateArgs{
		KeyName: pulumi.String(keyName),
		BlockDeviceMappings: ec2.LaunchTemplateBlockDeviceMappingArray{&ec2.LaunchTemplateBlockDeviceMappingArgs{
			DeviceName: pulumi.String("/dev/xvda"),
			Ebs: &ec2.LaunchTemplateBlockDeviceMappingEbsArgs{
				VolumeSize: pulumi.Int(volumeSize),
				VolumeType: pulumi.String(volumeType),
			},
		}},
		Monitoring: &ec2.LaunchTemplateMonitoringArgs{Enabled: pulumi.Bool(monitoring)},
		TagSpecifications: ec2.LaunchTemplateTagSpecificationArray{&ec2.LaunchTemplateTagSpecificationArgs{
			ResourceType: pulumi.String("instance"),
			Tags:         nameTags(name, defaults.InstanceTags),
		}},
	}, opts...)
	if err != nil {
		return nil, err
	}

	args := &eks.NodeGroupArgs{
		ClusterName:   cluster.Name,
		NodeGroupName: pulumi.Sprintf("%s-%s", ng.Name, suffix.Hex),
		NodeRoleArn:   nodeRole.Arn,
		SubnetIds:     subnetIDs,
		InstanceTypes: pulumi.StringArray{pulumi.String(instanceType)},
		LaunchTemplate: &eks.NodeGroupLaunchTemplateArgs{
			Id:      lt.ID().ToStringOutput(),
			Version: pulumi.Sprintf("%d", lt.LatestVersion),
		},
		ScalingConfig: &eks.NodeGroupScalingConfigArgs{
			DesiredSize: pulumi.Int(ng.AutoScaling.DesiredCapacity),
			MinSize:     pulumi.Int(ng.AutoScaling.MinSize),
			MaxSize:     pulumi.Int(ng.AutoScaling.MaxSize),
		},
		Labels: pulumi.StringMap{"role": pulumi.String(ng.Name)},
		Tags:   nameTags(name, nil),
	}
	if ng.Tainted {
		args.Taints = eks.NodeGroupTaintArray{&eks.NodeGroupTaintArgs{
			Key:    pulumi.String("role"),
			Value:  pulumi.String(ng.Name),
			Effect: pulumi.String("NO_SCHEDULE"),
		}}
	}
	if u := ng.Updating; u != nil {
		update := &eks.NodeGroupUpdateConfigArgs{}
		if u.MaxUnavailable != nil {
			update.MaxUnavailable = pulumi.Int(*u.MaxUnavailable)
		}
		if u.MaxUnavailablePercentage != nil {
			update.MaxUnavailablePercentage = pulumi.Int(*u.MaxUnavailablePercentage)
		}
		args.UpdateConfig = update
	}

	return eks.NewNodeGroup(ctx, name, args, append(opts, pulumi.IgnoreChanges([]string{"scalingConfig.desiredSize"}))...)
}

// accessEntries grants the listed IAM entities a cluster access policy.
// Groups cannot be cluster principals and are skipped.
func accessEntries(ctx *pulumi.Context, prefix string, cluster *eks.Cluster, accountID string, list *string, policyArn string, opts []pulumi.ResourceOption) error {
	entities, err := ParseEntities(list)
	if err != nil {
		return err
	}
	for _, e := range entities {
		if e.Kind == "group" {
			logging.Warn("Skipping eks access entry for group", "entity", e.Kind+"/"+e.Name)
			continue
		}
		name := prefix + "-" + e.Kind + "-" + e.Name
		entry, err := eks.NewAccessEntry(ctx, name, &eks.AccessEntryArgs{
			ClusterName:  cluster.Name,
			PrincipalArn: pulumi.String(e.Arn(accountID)),
		}, opts...)
		if err != nil {
			return err
		}
		if _, err := eks.NewAccessPolicyAssociation(ctx, name, &eks.AccessPolicyAssociationArgs{
			ClusterName:  cluster.Name,
			PrincipalArn: entry.PrincipalArn,
			PolicyArn:    pulumi.String(policyArn),
			AccessScope:  &eks.AccessPolicyAssociationAccessScopeArgs{Type: pulumi.String("cluster")},
		}, opts...); err != nil {
			return err
		}
	}
	return nil
}

func valueOr[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
