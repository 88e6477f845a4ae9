package main

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecs"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"pulumi-ecs-pipeline/internal/config"
)

type EcsServiceArgs struct {
	image        *EcrImage
	network      *Network
	loadBalancer *LoadBalancer
}

type EcsService struct {
	service  *ecs.Service
	taskRole *iam.Role
}

func NewEcsService(ctx *pulumi.Context, cfg config.Config, args EcsServiceArgs) (*EcsService, error) {
	ecsService := &EcsService{}

	logGroup, err := cloudwatch.NewLogGroup(ctx, "log-group", &cloudwatch.LogGroupArgs{
		Name:            pulumi.Sprintf("/ecs/%s", cfg.Service.LogSuffix),
		RetentionInDays: pulumi.IntPtr(30),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating log group: %w", err)
	}

	containerDef := pulumi.JSONMarshal([]interface{}{
		map[string]interface{}{
			"name":      cfg.Service.Container,
			"image":     args.image.initial,
			"essential": true,
			"portMappings": []map[string]interface{}{
				{
					"containerPort": servicePort,
					"protocol":      "tcp",
				},
			},
			"environment": []map[string]interface{}{
				{"name": "COLOR", "value": "blue"},
			},
			"logConfiguration": map[string]interface{}{
				"logDriver": "awslogs",
				"options": map[string]interface{}{
					"awslogs-group":         logGroup.Name,
					"awslogs-region":        cfg.Region,
					"awslogs-stream-prefix": cfg.Service.LogSuffix,
				},
			},
		},
	})

	execAssumeRolePolicy, err := iam.GetPolicyDocument(ctx, &iam.GetPolicyDocumentArgs{
		Statements: []iam.GetPolicyDocumentStatement{
			{
				Actions: []string{"sts:AssumeRole"},
				Principals: []iam.GetPolicyDocumentStatementPrincipal{
					{Type: "Service", Identifiers: []string{"ecs-tasks.amazonaws.com"}},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating execAssumeRolePolicy: %w", err)
	}
	// The same role pulls images, writes logs and is assumed by the task.
	taskRole, err := iam.NewRole(ctx, "task-execution-role", &iam.RoleArgs{
		AssumeRolePolicy:  pulumi.String(execAssumeRolePolicy.Json),
		ManagedPolicyArns: pulumi.ToStringArray([]string{string(iam.ManagedPolicyAmazonECSTaskExecutionRolePolicy)}),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating execution role: %w", err)
	}
	ecsService.taskRole = taskRole

	taskdef, err := ecs.NewTaskDefinition(ctx, "taskdef", &ecs.TaskDefinitionArgs{
		ContainerDefinitions:    containerDef,
		Family:                  pulumi.String(cfg.Service.Name),
		Cpu:                     pulumi.String("256"),
		Memory:                  pulumi.String("512"),
		ExecutionRoleArn:        taskRole.Arn,
		TaskRoleArn:             taskRole.Arn,
		RequiresCompatibilities: pulumi.ToStringArray([]string{"FARGATE"}),
		NetworkMode:             pulumi.String("awsvpc"),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating taskdef: %w", err)
	}

	ecsService.service, err = ecs.NewService(ctx, "service", &ecs.ServiceArgs{
		Name:                            pulumi.String(cfg.Service.Name),
		Cluster:                         args.network.cluster.Arn,
		DesiredCount:                    pulumi.IntPtr(1),
		DeploymentMinimumHealthyPercent: pulumi.IntPtr(50),
		DeploymentMaximumPercent:        pulumi.IntPtr(200),
		DeploymentCircuitBreaker: ecs.ServiceDeploymentCircuitBreakerArgs{
			Enable:   pulumi.Bool(true),
			Rollback: pulumi.Bool(true),
		},
		LaunchType: pulumi.String("FARGATE"),
		NetworkConfiguration: ecs.ServiceNetworkConfigurationArgs{
			AssignPublicIp: pulumi.BoolPtr(false),
			SecurityGroups: pulumi.StringArray{args.network.serviceSg},
			Subnets:        args.network.serviceSubnets,
		},
		LoadBalancers: ecs.ServiceLoadBalancerArray{
			ecs.ServiceLoadBalancerArgs{
				ContainerName:  pulumi.String(cfg.Service.Container),
				ContainerPort:  pulumi.Int(servicePort),
				TargetGroupArn: args.loadBalancer.targetGroup.Arn,
			},
		},
		TaskDefinition: taskdef.Arn,
	},
		// After creation the pipeline registers new revisions; Pulumi must not
		// roll the service back to the one it declared.
		pulumi.IgnoreChanges([]string{"taskDefinition"}),
		pulumi.DependsOn([]pulumi.Resource{args.loadBalancer.listener}),
	)
	if err != nil {
		return nil, fmt.Errorf("Error creating service: %w", err)
	}

	return ecsService, nil
}
