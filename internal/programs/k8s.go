package programs

import (
	"strings"

	"github.com/pulumi/pulumi-kubernetes/sdk/v4/go/kubernetes"
	corev1 "github.com/pulumi/pulumi-kubernetes/sdk/v4/go/kubernetes/core/v1"
	helmv3 "github.com/pulumi/pulumi-kubernetes/sdk/v4/go/kubernetes/helm/v3"
	metav1 "github.com/pulumi/pulumi-kubernetes/sdk/v4/go/kubernetes/meta/v1"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/logging"
	"github.com/dungeon-io/dungeon/internal/stacks"
)

// K8s installs the cluster services on top of the eks stack.
func K8s(cfg *config.Config) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		env := cfg.Environment
		name := prefix(cfg, stacks.K8s)
		l := logging.Logger().With("stack", ctx.Project())

		eksRef, err := stackReference(ctx, cfg, stacks.Eks)
		if err != nil {
			return err
		}
		clusterName := RequireString(eksRef, "ClusterName")
		kubeConfig := RequireString(eksRef, "KubeConfig")
		oidcArn := RequireString(eksRef, "OidcArn")
		oidcURL := RequireString(eksRef, "OidcUrl")

		awsProvider, err := newAwsProvider(ctx, cfg, env.Aws.Iam.DeployerRoleArn())
		if err != nil {
			return err
		}
		awsOpts := []pulumi.ResourceOption{pulumi.Provider(awsProvider)}

		k8sProvider, err := kubernetes.NewProvider(ctx, env.Name+"-k8s", &kubernetes.ProviderArgs{
			Kubeconfig:            kubeConfig,
			EnableServerSideApply: pulumi.Bool(true),
			KubeClientSettings: &kubernetes.KubeClientSettingsArgs{
				Qps:   pulumi.Float64(50),
				Burst: pulumi.Int(100),
			},
		})
		if err != nil {
			return err
		}
		k8sOpts := []pulumi.ResourceOption{pulumi.Provider(k8sProvider)}

		l.Debug("Creating environment namespace")
		if _, err := corev1.NewNamespace(ctx, env.Name, &corev1.NamespaceArgs{
			Metadata: &metav1.ObjectMetaArgs{
				Name:   pulumi.String(env.Name),
				Labels: pulumi.StringMap{"environment": pulumi.String(env.Name)},
			},
		}, k8sOpts...); err != nil {
			return err
		}

		l.Debug("Installing cert manager")
		certManagerPolicy, err := readPolicy("cert-manager.json")
		if err != nil {
			return err
		}
		certManagerRole, err := newServiceAccountRole(ctx, name+"-cert-manager", oidcArn, oidcURL,
			"cert-manager", "cert-manager", certManagerPolicy, awsOpts...)
		if err != nil {
			return err
		}
		certManager, err := helmv3.NewRelease(ctx, "cert-manager", &helmv3.ReleaseArgs{
			Name:            pulumi.String("cert-manager"),
			Namespace:       pulumi.String("cert-manager"),
			CreateNamespace: pulumi.Bool(true),
			Chart:           pulumi.String("cert-manager"),
			Version:         pulumi.String(env.K8s.CertManagerChartVersion),
			RepositoryOpts:  &helmv3.RepositoryOptsArgs{Repo: pulumi.String("https://charts.jetstack.io")},
			Atomic:          pulumi.Bool(true),
			Values: pulumi.Map{
				"crds":       pulumi.Map{"enabled": pulumi.Bool(true)},
				"prometheus": pulumi.Map{"enabled": pulumi.Bool(true)},
				"serviceAccount": pulumi.Map{
					"annotations": pulumi.Map{"eks.amazonaws.com/role-arn": certManagerRole.Arn},
				},
			},
		}, k8sOpts...)
		if err != nil {
			return err
		}

		services := clusterServices{
			ctx:     ctx,
			name:    name,
			oidcArn: oidcArn,
			oidcURL: oidcURL,
			awsOpts: awsOpts,
			k8sOpts: k8sOpts,
		}

		if v := env.K8s.FluentBitChartVersion; v != nil {
			l.Debug("Installing fluent bit")
			outputs := pulumi.Sprintf(fluentBitOutputs, env.Aws.Region, clusterName)
			err := services.install("fluent-bit", "https://fluent.github.io/helm-charts", *v, func(roleArn pulumi.StringOutput) pulumi.Map {
				return pulumi.Map{
					"logLevel":          pulumi.String("warning"),
					"priorityClassName": pulumi.String("system-cluster-critical"),
					"config":            pulumi.Map{"outputs": outputs},
					"resources": pulumi.Map{
						"requests": pulumi.Map{"cpu": pulumi.String("50m"), "memory": pulumi.String("50Mi")},
						"limits":   pulumi.Map{"memory": pulumi.String("100Mi")},
					},
					"serviceAccount": pulumi.Map{
						"annotations": pulumi.Map{"eks.amazonaws.com/role-arn": roleArn},
					},
					"tolerations": pulumi.Array{
						pulumi.Map{"effect": pulumi.String("NoExecute"), "operator": pulumi.String("Exists")},
						pulumi.Map{"effect": pulumi.String("NoSchedule"), "operator": pulumi.String("Exists")},
					},
				}
			})
			if err != nil {
				return err
			}
		}

		if v := env.K8s.AwsLbcChartVersion; v != nil {
			l.Debug("Installing aws load balancer controller")
			// ingress finalizers need the webhook certificates issued by cert manager
			err := services.install("aws-load-balancer-controller", "https://aws.github.io/eks-charts", *v, func(roleArn pulumi.StringOutput) pulumi.Map {
				return pulumi.Map{
					"clusterName":       clusterName,
					"region":            pulumi.String(env.Aws.Region),
					"enableCertManager": pulumi.Bool(true),
					"serviceAccount": pulumi.Map{
						"annotations": pulumi.Map{"eks.amazonaws.com/role-arn": roleArn},
					},
					"tolerations": pulumi.Array{
						pulumi.Map{"key": pulumi.String("role"), "operator": pulumi.String("Exists")},
					},
				}
			}, pulumi.DependsOn([]pulumi.Resource{certManager}))
			if err != nil {
				return err
			}
		}

		if v := env.K8s.ClusterAutoscalerChartVersion; v != nil {
			l.Debug("Installing cluster autoscaler")
			err := services.install("cluster-autoscaler", "https://kubernetes.github.io/autoscaler", *v, func(roleArn pulumi.StringOutput) pulumi.Map {
				values := pulumi.Map{
					"nameOverride":      pulumi.String("cluster-autoscaler"),
					"priorityClassName": pulumi.String("system-cluster-critical"),
					"cloudProvider":     pulumi.String("aws"),
					"awsRegion":         pulumi.String(env.Aws.Region),
					"autoDiscovery": pulumi.Map{
						"enabled":     pulumi.Bool(true),
						"clusterName": clusterName,
					},
					"extraArgs": pulumi.Map{
						"v":                             pulumi.Int(0),
						"balance-similar-node-groups":   pulumi.Bool(true),
						"expander":                      pulumi.String("least-waste"),
						"skip-nodes-with-local-storage": pulumi.Bool(false),
						"skip-nodes-with-system-pods":   pulumi.Bool(false),
					},
					"podAnnotations": pulumi.Map{
						"cluster-autoscaler.kubernetes.io/safe-to-evict": pulumi.String("false"),
					},
					"rbac": pulumi.Map{"serviceAccount": pulumi.Map{
						"name":        pulumi.String("cluster-autoscaler"),
						"annotations": pulumi.Map{"eks.amazonaws.com/role-arn": roleArn},
					}},
					"tolerations": pulumi.Array{
						pulumi.Map{"key": pulumi.String("role"), "operator": pulumi.String("Exists")},
					},
				}
				if tag := env.K8s.ClusterAutoscalerImageTag; tag != nil {
					values["image"] = pulumi.Map{"tag": pulumi.String("v" + strings.TrimPrefix(*tag, "v"))}
				}
				return values
			})
			if err != nil {
				return err
			}
		}

		l.Debug("Installing external dns")
		externalDNSPolicy, err := readPolicy("external-dns.json")
		if err != nil {
			return err
		}
		externalDNSRole, err := newServiceAccountRole(ctx, name+"-external-dns", oidcArn, oidcURL,
			"kube-system", "external-dns", externalDNSPolicy, awsOpts...)
		if err != nil {
			return err
		}
		route53 := env.Aws.Route53
		if _, err := helmv3.NewRelease(ctx, "external-dns", &helmv3.ReleaseArgs{
			Name:           pulumi.String("external-dns"),
			Namespace:      pulumi.String("kube-system"),
			Chart:          pulumi.String("external-dns"),
			Version:        pulumi.String(env.K8s.ExternalDnsChartVersion),
			RepositoryOpts: &helmv3.RepositoryOptsArgs{Repo: pulumi.String("https://kubernetes-sigs.github.io/external-dns")},
			Atomic:         pulumi.Bool(true),
			Values: pulumi.Map{
				"provider":      pulumi.Map{"name": pulumi.String("aws")},
				"domainFilters": pulumi.ToStringArray([]string{route53.Internet.Domain, route53.Internal.Domain}),
				"policy":        pulumi.String("sync"),
				"txtOwnerId":    clusterName,
				"env": pulumi.Array{pulumi.Map{
					"name":  pulumi.String("AWS_DEFAULT_REGION"),
					"value": pulumi.String(env.Aws.Region),
				}},
				"serviceAccount": pulumi.Map{
					"name":        pulumi.String("external-dns"),
					"annotations": pulumi.Map{"eks.amazonaws.com/role-arn": externalDNSRole.Arn},
				},
			},
		}, k8sOpts...); err != nil {
			return err
		}

		ctx.Export("EnvironmentNamespace", pulumi.String(env.Name))
		return nil
	}
}

const fluentBitOutputs = `[OUTPUT]
    Name cloudwatch_logs
    Match kube.*
    region %s
    log_group_name /aws/eks/%s/containers
    log_stream_prefix fluent-bit-
    auto_create_group On
`

// clusterServices installs kube-system Helm releases whose service account
// assumes an IAM role through the cluster's OIDC provider.
type clusterServices struct {
	ctx              *pulumi.Context
	name             string
	oidcArn, oidcURL pulumi.StringOutput
	awsOpts, k8sOpts []pulumi.ResourceOption
}

// install creates the role for the chart's service account from the embedded
// policy named after the chart, then the release with the values built for
// that role.
func (s clusterServices) install(chart, repo, version string, values func(roleArn pulumi.StringOutput) pulumi.Map, opts ...pulumi.ResourceOption) error {
	policy, err := readPolicy(chart + ".json")
	if err != nil {
		return err
	}
	role, err := newServiceAccountRole(s.ctx, s.name+"-"+chart, s.oidcArn, s.oidcURL,
		"kube-system", chart, policy, s.awsOpts...)
	if err != nil {
		return err
	}
	_, err = helmv3.NewRelease(s.ctx, chart, &helmv3.ReleaseArgs{
		Name:           pulumi.String(chart),
		Namespace:      pulumi.String("kube-system"),
		Chart:          pulumi.String(chart),
		Version:        pulumi.String(version),
		RepositoryOpts: &helmv3.RepositoryOptsArgs{Repo: pulumi.String(repo)},
		Atomic:         pulumi.Bool(true),
		Values:         values(role.Arn),
	}, append(append([]pulumi.ResourceOption{}, s.k8sOpts...), opts...)...)
	return err
}
