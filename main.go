package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"pulumi-ecs-pipeline/internal/config"
	"pulumi-ecs-pipeline/internal/pipeline"
)

func main() {
	pulumi.Run(func(ctx *pulumi.Context) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		return deploy(ctx, cfg)
	})
}

func deploy(ctx *pulumi.Context, cfg config.Config) error {
	ecsStack, err := NewEcsStack(ctx, EcsStackArgs{
		config: cfg,
	})
	if err != nil {
		return err
	}

	plan, err := pipeline.Assemble(cfg)
	if err != nil {
		return err
	}

	_, err = NewPipelineStack(ctx, PipelineStackArgs{
		config:      cfg,
		plan:        plan,
		registry:    ecsStack.Registry,
		service:     ecsStack.Service,
		taskRoleArn: ecsStack.TaskRoleArn,
	})
	if err != nil {
		return err
	}

	return nil
}
