package main

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"pulumi-ecs-pipeline/internal/config"
)

const (
	servicePort         = 80
	healthCheckPath     = "/"
	healthCheckInterval = 120
)

type LoadBalancerArgs struct {
	network *Network
}

type LoadBalancer struct {
	alb         *lb.LoadBalancer
	targetGroup *lb.TargetGroup
	listener    *lb.Listener
}

// NewLoadBalancer declares the public entry point for the service: an
// internet-facing ALB forwarding port 80 to the service's tasks by IP.
func NewLoadBalancer(ctx *pulumi.Context, cfg config.Config, args LoadBalancerArgs) (*LoadBalancer, error) {
	balancer := &LoadBalancer{}
	var err error
	balancer.alb, err = lb.NewLoadBalancer(ctx, "external", &lb.LoadBalancerArgs{
		Name:                     pulumi.String(cfg.Service.LoadBalancer),
		LoadBalancerType:         pulumi.String("application"),
		Internal:                 pulumi.Bool(false),
		IdleTimeout:              pulumi.Int(30),
		EnableHttp2:              pulumi.Bool(true),
		EnableDeletionProtection: pulumi.Bool(false),
		SecurityGroups:           pulumi.StringArray{args.network.lbSg},
		Subnets:                  args.network.lbSubnets,
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating load balancer: %w", err)
	}

	balancer.targetGroup, err = lb.NewTargetGroup(ctx, "target-group", &lb.TargetGroupArgs{
		Port:       pulumi.Int(servicePort),
		Protocol:   pulumi.String("HTTP"),
		TargetType: pulumi.String("ip"),
		VpcId:      pulumi.String(args.network.vpcId),
		HealthCheck: lb.TargetGroupHealthCheckArgs{
			Path:     pulumi.String(healthCheckPath),
			Port:     pulumi.String(fmt.Sprint(servicePort)),
			Interval: pulumi.Int(healthCheckInterval),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating target group: %w", err)
	}

	balancer.listener, err = lb.NewListener(ctx, "gateway-listener", &lb.ListenerArgs{
		LoadBalancerArn: balancer.alb.Arn,
		Port:            pulumi.Int(servicePort),
		Protocol:        pulumi.String("HTTP"),
		DefaultActions: lb.ListenerDefaultActionArray{
			lb.ListenerDefaultActionArgs{
				Type:           pulumi.String("forward"),
				TargetGroupArn: balancer.targetGroup.Arn,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating listener: %w", err)
	}

	ctx.Export("albDns", balancer.alb.DnsName)

	return balancer, nil
}
