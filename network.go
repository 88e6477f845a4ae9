package main

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecs"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"pulumi-ecs-pipeline/internal/config"
)

// Network is the existing VPC the service runs in plus the cluster declared
// for it. Subnets and security groups are referenced by ID, never created.
type Network struct {
	vpcId          string
	serviceSubnets pulumi.StringArray
	lbSubnets      pulumi.StringArray
	serviceSg      pulumi.String
	lbSg           pulumi.String
	cluster        *ecs.Cluster
}

func NewNetwork(ctx *pulumi.Context, cfg config.Config) (*Network, error) {
	vpc, err := ec2.LookupVpc(ctx, &ec2.LookupVpcArgs{
		Id: pulumi.StringRef(cfg.Network.VpcID),
	})
	if err != nil {
		return nil, fmt.Errorf("Error looking up vpc %s: %w", cfg.Network.VpcID, err)
	}

	network := &Network{
		vpcId:          vpc.Id,
		serviceSubnets: pulumi.ToStringArray(cfg.Network.ServiceSubnetIDs),
		lbSubnets:      pulumi.ToStringArray(cfg.Network.LoadBalancerSubnetIDs),
		serviceSg:      pulumi.String(cfg.Network.ServiceSecurityGroup.ID),
		lbSg:           pulumi.String(cfg.Network.LoadBalancerSecurityGroup.ID),
	}

	network.cluster, err = ecs.NewCluster(ctx, "cluster", &ecs.ClusterArgs{
		Name: pulumi.String(cfg.Service.Cluster),
		Settings: ecs.ClusterSettingArray{
			ecs.ClusterSettingArgs{
				Name:  pulumi.String("containerInsights"),
				Value: pulumi.String("enabled"),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating cluster: %w", err)
	}

	return network, nil
}
