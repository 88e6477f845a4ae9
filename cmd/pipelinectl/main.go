package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"pulumi-ecs-pipeline/cmd/pipelinectl/commands"
	"pulumi-ecs-pipeline/internal/logging"
)

func main() {
	logger := logging.New()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "pipelinectl",
		Usage: "Inspect, audit and rehearse the ECS deployment pipeline",
		Description: `Operator tooling for the Source -> Build -> Deploy pipeline.

Configuration is read from the same environment variables as the Pulumi
program, so every command sees exactly the plan that will be deployed.`,
		Commands: commands.All(&logger),
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
