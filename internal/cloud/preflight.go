package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/logging"
)

var (
	ErrAccountMismatch     = errors.New("credentials belong to a different AWS account")
	ErrDeployerRoleMissing = errors.New("deployer role not found")
)

type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type RoleAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

type AvailabilityZonesAPI interface {
	DescribeAvailabilityZones(ctx context.Context, params *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error)
}

type AddonVersionsAPI interface {
	DescribeAddonVersions(ctx context.Context, params *eks.DescribeAddonVersionsInput, optFns ...func(*eks.Options)) (*eks.DescribeAddonVersionsOutput, error)
}

type HostedZonesAPI interface {
	ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error)
}

// Preflight checks the AWS account before any stack is opened.
type Preflight struct {
	STS     CallerIdentityAPI
	IAM     RoleAPI
	EC2     AvailabilityZonesAPI
	EKS     AddonVersionsAPI
	Route53 HostedZonesAPI
	Logger  *slog.Logger
}

func NewPreflight(cfg aws.Config) *Preflight {
	return &Preflight{
		STS:     sts.NewFromConfig(cfg),
		IAM:     iam.NewFromConfig(cfg),
		EC2:     ec2.NewFromConfig(cfg),
		EKS:     eks.NewFromConfig(cfg),
		Route53: route53.NewFromConfig(cfg),
	}
}

// Checks selects the optional preflight checks.
type Checks struct {
	// DeployerRole requires the bootstrap deployer role to exist.
	DeployerRole bool
	// Network warns when the region cannot satisfy the VPC and DNS configuration.
	Network bool
	// Addons warns about EKS add-on versions not offered for the cluster version.
	Addons bool
}

// Run verifies the caller account and the selected checks. Account and role
// problems are errors; network shortfalls are logged as warnings.
func (p *Preflight) Run(ctx context.Context, env config.EnvironmentConfig, checks Checks) error {
	l := p.Logger
	if l == nil {
		l = logging.Logger()
	}
	l = l.With("environment", env.Name)

	out, err := p.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("failed to get caller identity: %w", err)
	}
	account := aws.ToString(out.Account)
	if account != env.Aws.AccountId {
		return fmt.Errorf("%w: expected %s, got %s (%s)", ErrAccountMismatch, env.Aws.AccountId, account, aws.ToString(out.Arn))
	}
	l.Debug("Verified AWS account", "account", account, "caller", aws.ToString(out.Arn))

	if checks.DeployerRole {
		if err := p.deployerRole(ctx, env.Aws.Iam.DeployerRole); err != nil {
			return err
		}
	}
	if checks.Network {
		p.availabilityZones(ctx, l, env.Aws)
		p.hostedZones(ctx, l, env.Aws.Route53)
	}
	if checks.Addons {
		p.addonVersions(ctx, l, env.Aws.Eks)
	}
	return nil
}

func (p *Preflight) deployerRole(ctx context.Context, name string) error {
	_, err := p.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err == nil {
		return nil
	}
	var nse *iamtypes.NoSuchEntityException
	if errors.As(err, &nse) {
		return fmt.Errorf("%w: %s (deploy aws-bootstrap first)", ErrDeployerRoleMissing, name)
	}
	return fmt.Errorf("failed to get deployer role %s: %w", name, err)
}

func (p *Preflight) availabilityZones(ctx context.Context, l *slog.Logger, cfg config.AwsConfig) {
	out, err := p.EC2.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []ec2types.Filter{{Name: aws.String("state"), Values: []string{"available"}}},
	})
	if err != nil {
		l.Warn("Failed to describe availability zones", "region", cfg.Region, "error", err)
		return
	}
	if n := len(out.AvailabilityZones); n < cfg.Vpc.MaxAvailabilityZones {
		l.Warn("Region has fewer availability zones than configured",
			"region", cfg.Region, "available", n, "configured", cfg.Vpc.MaxAvailabilityZones)
	}
}

func (p *Preflight) hostedZones(ctx context.Context, l *slog.Logger, cfg config.AwsRoute53Config) {
	for _, domain := range []string{cfg.Internet.Domain, cfg.Internal.Domain} {
		if domain == "" {
			continue
		}
		out, err := p.Route53.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
			DNSName:  aws.String(domain),
			MaxItems: aws.Int32(1),
		})
		if err != nil {
			l.Warn("Failed to list hosted zones", "domain", domain, "error", err)
			continue
		}
		if len(out.HostedZones) == 0 || !sameDomain(aws.ToString(out.HostedZones[0].Name), domain) {
			l.Warn("No hosted zone for domain", "domain", domain)
		}
	}
}

func (p *Preflight) addonVersions(ctx context.Context, l *slog.Logger, cfg config.AwsEksConfig) {
	for _, key := range sortedKeys(cfg.Addons) {
		addon := cfg.Addons[key]
		out, err := p.EKS.DescribeAddonVersions(ctx, &eks.DescribeAddonVersionsInput{
			AddonName:         aws.String(addon.Name),
			KubernetesVersion: aws.String(cfg.Version),
		})
		if err != nil {
			l.Warn("Failed to describe add-on versions", "addon", addon.Name, "error", err)
			continue
		}
		if !offersVersion(out, addon.Version) {
			l.Warn("Add-on version is not offered for the cluster version",
				"addon", addon.Name, "version", addon.Version, "cluster", cfg.Version)
		}
	}
}

func offersVersion(out *eks.DescribeAddonVersionsOutput, version string) bool {
	for _, info := range out.Addons {
		for _, v := range info.AddonVersions {
			if aws.ToString(v.AddonVersion) == version {
				return true
			}
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameDomain(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}
