package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"pulumi-ecs-pipeline/internal/config"
)

// RegistryReference is what the pipeline needs to know about the image
// registry. It is captured when the registry is declared and passed by value.
type RegistryReference struct {
	Name pulumi.StringOutput
	Arn  pulumi.StringOutput
	Url  pulumi.StringOutput
}

// ServiceReference identifies the running service the Deploy stage updates.
type ServiceReference struct {
	Cluster pulumi.StringOutput
	Name    pulumi.StringOutput
	Arn     pulumi.StringOutput
}

type EcsStackArgs struct {
	config config.Config
}

type EcsStack struct {
	Registry    RegistryReference
	Service     ServiceReference
	TaskRoleArn pulumi.StringOutput
}

// NewEcsStack declares the registry, cluster, load balancer and service.
func NewEcsStack(ctx *pulumi.Context, args EcsStackArgs) (*EcsStack, error) {
	cfg := args.config

	build, err := NewEcrDockerBuild(ctx, cfg)
	if err != nil {
		return nil, err
	}

	network, err := NewNetwork(ctx, cfg)
	if err != nil {
		return nil, err
	}

	loadBalancer, err := NewLoadBalancer(ctx, cfg, LoadBalancerArgs{
		network: network,
	})
	if err != nil {
		return nil, err
	}

	service, err := NewEcsService(ctx, cfg, EcsServiceArgs{
		image:        build,
		network:      network,
		loadBalancer: loadBalancer,
	})
	if err != nil {
		return nil, err
	}

	return &EcsStack{
		Registry: RegistryReference{
			Name: build.repo.Name,
			Arn:  build.repo.Arn,
			Url:  build.repo.RepositoryUrl,
		},
		Service: ServiceReference{
			Cluster: network.cluster.Name,
			Name:    service.service.Name,
			Arn:     service.service.ID().ToStringOutput(),
		},
		TaskRoleArn: service.taskRole.Arn,
	}, nil
}
