package cloud

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dungeon-io/dungeon/internal/config"
)

type fakeSTS struct{ account string }

func (f fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.account),
		Arn:     aws.String("arn:aws:iam::" + f.account + ":user/ci"),
	}, nil
}

type fakeIAM struct {
	err   error
	asked []string
}

func (f *fakeIAM) GetRole(_ context.Context, params *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	f.asked = append(f.asked, aws.ToString(params.RoleName))
	if f.err != nil {
		return nil, f.err
	}
	return &iam.GetRoleOutput{}, nil
}

type fakeEC2 struct{ zones int }

func (f fakeEC2) DescribeAvailabilityZones(context.Context, *ec2.DescribeAvailabilityZonesInput, ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error) {
	out := &ec2.DescribeAvailabilityZonesOutput{}
	for i := 0; i < f.zones; i++ {
		out.AvailabilityZones = append(out.AvailabilityZones, ec2types.AvailabilityZone{})
	}
	return out, nil
}

type fakeEKS struct{ versions map[string][]string }

func (f fakeEKS) DescribeAddonVersions(_ context.Context, params *eks.DescribeAddonVersionsInput, _ ...func(*eks.Options)) (*eks.DescribeAddonVersionsOutput, error) {
	name := aws.ToString(params.AddonName)
	if name == "broken" {
		return nil, errors.New("throttled")
	}
	info := ekstypes.AddonInfo{AddonName: params.AddonName}
	for _, v := range f.versions[name] {
		info.AddonVersions = append(info.AddonVersions, ekstypes.AddonVersionInfo{AddonVersion: aws.String(v)})
	}
	return &eks.DescribeAddonVersionsOutput{Addons: []ekstypes.AddonInfo{info}}, nil
}

type fakeRoute53 struct{ zones map[string]bool }

func (f fakeRoute53) ListHostedZonesByName(_ context.Context, params *route53.ListHostedZonesByNameInput, _ ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error) {
	name := aws.ToString(params.DNSName)
	if !f.zones[name] {
		return &route53.ListHostedZonesByNameOutput{}, nil
	}
	return &route53.ListHostedZonesByNameOutput{HostedZones: []r53types.HostedZone{{Name: aws.String(name + ".")}}}, nil
}

func testEnv() config.EnvironmentConfig {
	env := config.EnvironmentConfig{Name: "prod"}
	env.Aws.AccountId = "123456789012"
	env.Aws.Region = "us-west-2"
	env.Aws.Iam.DeployerRole = "prod-deployer"
	env.Aws.Vpc.MaxAvailabilityZones = 3
	env.Aws.Route53.Internet.Domain = "example.com"
	env.Aws.Route53.Internal.Domain = "prod.internal"
	return env
}

func newPreflight(account string, iamErr error, zones int, buf *bytes.Buffer) (*Preflight, *fakeIAM) {
	roles := &fakeIAM{err: iamErr}
	return &Preflight{
		STS:     fakeSTS{account: account},
		IAM:     roles,
		EC2:     fakeEC2{zones: zones},
		Route53: fakeRoute53{zones: map[string]bool{"example.com": true}},
		Logger:  slog.New(slog.NewTextHandler(buf, nil)),
	}, roles
}

func TestPreflight_AccountMismatch(t *testing.T) {
	var buf bytes.Buffer
	p, _ := newPreflight("999999999999", nil, 3, &buf)

	err := p.Run(context.Background(), testEnv(), Checks{})
	assert.ErrorIs(t, err, ErrAccountMismatch)
	assert.ErrorContains(t, err, "expected 123456789012, got 999999999999")
}

func TestPreflight_DeployerRole(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   error
	}{
		{name: "present"},
		{name: "missing", err: &iamtypes.NoSuchEntityException{Message: aws.String("not found")}, is: ErrDeployerRoleMissing},
		{name: "other", err: errors.New("throttled")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p, roles := newPreflight("123456789012", tt.err, 3, &buf)

			err := p.Run(context.Background(), testEnv(), Checks{DeployerRole: true})
			assert.Equal(t, []string{"prod-deployer"}, roles.asked)
			switch {
			case tt.is != nil:
				assert.ErrorIs(t, err, tt.is)
			case tt.err != nil:
				assert.ErrorContains(t, err, "throttled")
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestPreflight_SkipsDeployerRoleUnlessRequested(t *testing.T) {
	var buf bytes.Buffer
	p, roles := newPreflight("123456789012", errors.New("unused"), 3, &buf)

	require.NoError(t, p.Run(context.Background(), testEnv(), Checks{}))
	assert.Empty(t, roles.asked)
}

func TestPreflight_NetworkWarnings(t *testing.T) {
	var buf bytes.Buffer
	p, _ := newPreflight("123456789012", nil, 2, &buf)

	require.NoError(t, p.Run(context.Background(), testEnv(), Checks{Network: true}))
	assert.Contains(t, buf.String(), "Region has fewer availability zones than configured")
	assert.Contains(t, buf.String(), "domain=prod.internal")
	assert.NotContains(t, buf.String(), "domain=example.com")
}

func TestPreflight_AddonVersions(t *testing.T) {
	var buf bytes.Buffer
	p, _ := newPreflight("123456789012", nil, 3, &buf)
	p.EKS = fakeEKS{versions: map[string][]string{
		"vpc-cni":    {"v1.19.0-eksbuild.1", "v1.18.6-eksbuild.1"},
		"kube-proxy": {"v1.31.2-eksbuild.3"},
	}}
	env := testEnv()
	env.Aws.Eks.Version = "1.31"
	env.Aws.Eks.Addons = map[string]config.AwsEksAddonConfig{
		"VpcCni":    {Name: "vpc-cni", Version: "v1.19.0-eksbuild.1"},
		"KubeProxy": {Name: "kube-proxy", Version: "v1.30.0-eksbuild.1"},
		"Broken":    {Name: "broken", Version: "v1"},
	}

	require.NoError(t, p.Run(context.Background(), env, Checks{Addons: true}))
	out := buf.String()
	assert.Contains(t, out, "Add-on version is not offered for the cluster version")
	assert.Contains(t, out, "addon=kube-proxy")
	assert.NotContains(t, out, "addon=vpc-cni")
	assert.Contains(t, out, "Failed to describe add-on versions")
}
