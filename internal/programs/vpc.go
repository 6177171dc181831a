package programs

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2transitgateway"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/logging"
	"github.com/dungeon-io/dungeon/internal/stacks"
)

// Vpc creates the environment network: a public and a private subnet per
// availability zone, NAT per zone, optional VPN routing through a transit gateway.
func Vpc(cfg *config.Config) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		vpcCfg := cfg.Environment.Aws.Vpc
		name := prefix(cfg, stacks.Vpc)
		l := logging.Logger().With("stack", ctx.Project())

		provider, err := newAwsProvider(ctx, cfg, cfg.Environment.Aws.Iam.DeployerRoleArn())
		if err != nil {
			return err
		}
		opts := []pulumi.ResourceOption{pulumi.Provider(provider)}

		azs, err := aws.GetAvailabilityZones(ctx, &aws.GetAvailabilityZonesArgs{
			State: pulumi.StringRef("available"),
		}, pulumi.Provider(provider))
		if err != nil {
			return fmt.Errorf("failed to get availability zones: %w", err)
		}
		zones := azs.Names
		if len(zones) > vpcCfg.MaxAvailabilityZones {
			zones = zones[:vpcCfg.MaxAvailabilityZones]
		}
		subnets, err := SubnetPrefixes(vpcCfg.CidrBlock, len(zones))
		if err != nil {
			return err
		}

		l.Debug("Creating vpc")
		vpc, err := ec2.NewVpc(ctx, name, &ec2.VpcArgs{
			CidrBlock:          pulumi.String(vpcCfg.CidrBlock),
			EnableDnsHostnames: pulumi.Bool(true),
			Tags:               nameTags(name, nil),
		}, opts...)
		if err != nil {
			return err
		}

		dhcp, err := ec2.NewVpcDhcpOptions(ctx, name, &ec2.VpcDhcpOptionsArgs{
			DomainName:        pulumi.String(cfg.Environment.Aws.Route53.Internal.Domain),
			DomainNameServers: pulumi.StringArray{pulumi.String("AmazonProvidedDNS")},
			Tags:              nameTags(name, nil),
		}, opts...)
		if err != nil {
			return err
		}
		if _, err := ec2.NewVpcDhcpOptionsAssociation(ctx, name, &ec2.VpcDhcpOptionsAssociationArgs{
			DhcpOptionsId: dhcp.ID(),
			VpcId:         vpc.ID(),
		}, opts...); err != nil {
			return err
		}

		l.Debug("Creating network", "zones", len(zones))
		igw, err := ec2.NewInternetGateway(ctx, name+"-igw", &ec2.InternetGatewayArgs{
			VpcId: vpc.ID().ToStringOutput(),
			Tags:  nameTags(name+"-igw", nil),
		}, opts...)
		if err != nil {
			return err
		}

		vpn := vpcCfg.VpnCidrBlock != nil && vpcCfg.TransitGatewayId != nil
		routes := func(def *ec2.RouteTableRouteArgs) ec2.RouteTableRouteArray {
			if !vpn {
				return ec2.RouteTableRouteArray{def}
			}
			return ec2.RouteTableRouteArray{
				&ec2.RouteTableRouteArgs{
					CidrBlock:        pulumi.String(*vpcCfg.VpnCidrBlock),
					TransitGatewayId: pulumi.String(*vpcCfg.TransitGatewayId),
				},
				def,
			}
		}

		var publicIDs, privateIDs pulumi.StringArray
		for i, zone := range zones {
			publicName := fmt.Sprintf("%s-public-%d", name, i+1)
			public, err := ec2.NewSubnet(ctx, publicName, &ec2.SubnetArgs{
				AvailabilityZone: pulumi.String(zone),
				CidrBlock:        pulumi.String(subnets[2*i].String()),
				VpcId:            vpc.ID(),
				Tags: nameTags(publicName, map[string]string{
					"kubernetes.io/role/alb-ingress": "",
					"kubernetes.io/role/elb":         "",
				}),
			}, opts...)
			if err != nil {
				return err
			}
			publicIDs = append(publicIDs, public.ID())

			publicTable, err := ec2.NewRouteTable(ctx, publicName, &ec2.RouteTableArgs{
				VpcId:  vpc.ID(),
				Routes: routes(&ec2.RouteTableRouteArgs{CidrBlock: pulumi.String("0.0.0.0/0"), GatewayId: igw.ID().ToStringOutput()}),
				Tags:   nameTags(publicName, nil),
			}, opts...)
			if err != nil {
				return err
			}
			if _, err := ec2.NewRouteTableAssociation(ctx, publicName, &ec2.RouteTableAssociationArgs{
				RouteTableId: publicTable.ID(),
				SubnetId:     public.ID().ToStringOutput(),
			}, opts...); err != nil {
				return err
			}

			privateName := fmt.Sprintf("%s-private-%d", name, i+1)
			private, err := ec2.NewSubnet(ctx, privateName, &ec2.SubnetArgs{
				AvailabilityZone: pulumi.String(zone),
				CidrBlock:        pulumi.String(subnets[2*i+1].String()),
				VpcId:            vpc.ID(),
				Tags: nameTags(privateName, map[string]string{
					"kubernetes.io/role/alb-ingress":  "",
					"kubernetes.io/role/internal-elb": "",
				}),
			}, opts...)
			if err != nil {
				return err
			}
			privateIDs = append(privateIDs, private.ID())

			eip, err := ec2.NewEip(ctx, privateName, &ec2.EipArgs{
				Domain: pulumi.String("vpc"),
				Tags:   nameTags(privateName, nil),
			}, opts...)
			if err != nil {
				return err
			}
			nat, err := ec2.NewNatGateway(ctx, privateName, &ec2.NatGatewayArgs{
				AllocationId: eip.ID().ToStringOutput(),
				SubnetId:     public.ID(),
				Tags:         nameTags(privateName, nil),
			}, opts...)
			if err != nil {
				return err
			}

			privateTable, err := ec2.NewRouteTable(ctx, privateName, &ec2.RouteTableArgs{
				VpcId:  vpc.ID(),
				Routes: routes(&ec2.RouteTableRouteArgs{CidrBlock: pulumi.String("0.0.0.0/0"), NatGatewayId: nat.ID().ToStringOutput()}),
				Tags:   nameTags(privateName, nil),
			}, opts...)
			if err != nil {
				return err
			}
			if _, err := ec2.NewRouteTableAssociation(ctx, privateName, &ec2.RouteTableAssociationArgs{
				RouteTableId: privateTable.ID(),
				SubnetId:     private.ID().ToStringOutput(),
			}, opts...); err != nil {
				return err
			}
		}

		if vpcCfg.TransitGatewayId != nil {
			if _, err := ec2transitgateway.NewVpcAttachment(ctx, name+"-tgw", &ec2transitgateway.VpcAttachmentArgs{
				SubnetIds:        privateIDs,
				TransitGatewayId: pulumi.String(*vpcCfg.TransitGatewayId),
				VpcId:            vpc.ID(),
				Tags:             nameTags(name+"-tgw", nil),
			}, opts...); err != nil {
				return err
			}
		}

		if vpcCfg.VpnCidrBlock != nil {
			sg, err := ec2.NewSecurityGroup(ctx, name+"-vpn", &ec2.SecurityGroupArgs{
				VpcId: vpc.ID().ToStringOutput(),
				Ingress: ec2.SecurityGroupIngressArray{&ec2.SecurityGroupIngressArgs{
					Protocol:   pulumi.String("-1"),
					FromPort:   pulumi.Int(0),
					ToPort:     pulumi.Int(0),
					CidrBlocks: pulumi.StringArray{pulumi.String(*vpcCfg.VpnCidrBlock)},
				}},
				Tags: nameTags(name+"-vpn", nil),
			}, opts...)
			if err != nil {
				return err
			}
			ctx.Export("VpnSgId", sg.ID())
		}

		ctx.Export("VpcId", vpc.ID())
		ctx.Export("AvailabilityZones", pulumi.ToStringArray(zones))
		ctx.Export("PublicSubnetIds", publicIDs)
		ctx.Export("PrivateSubnetIds", privateIDs)
		return nil
	}
}
