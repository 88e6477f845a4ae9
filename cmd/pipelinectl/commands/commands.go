package commands

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"pulumi-ecs-pipeline/internal/di"
	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
	"pulumi-ecs-pipeline/internal/runner"
)

// All returns every pipelinectl command.
func All(logger *zerolog.Logger) []*cli.Command {
	return []*cli.Command{
		PlanCommand(logger),
		AuditCommand(logger),
		BuildSpecCommand(logger),
		ImageDefsCommand(logger),
		SimulateCommand(logger),
		VerifyCommand(logger),
		ServeCommand(logger),
	}
}

func newContainer(ctx context.Context, logger *zerolog.Logger) (di.Container, error) {
	return di.New(ctx, di.WithLogger(*logger))
}

// newRunner wires the local executors: images are pushed to an in-memory
// registry and deployed to the given service.
func newRunner(plan *pipeline.Plan, roles []policy.Role, repo runner.Repository, service runner.ServiceUpdater, logger zerolog.Logger, observe func(runner.Event)) (*runner.Runner, error) {
	return runner.New(plan, roles,
		runner.WithLogger(logger),
		runner.WithExecutor(pipeline.ProviderGitHub, runner.SourceExecutor{Repository: repo}),
		runner.WithExecutor(pipeline.ProviderCodeBuild, runner.BuildExecutor{Builder: runner.ImageBuilder{Registry: &runner.MemoryRegistry{}}}),
		runner.WithExecutor(pipeline.ProviderECS, runner.DeployExecutor{Service: service}),
		runner.WithObserver(observe),
	)
}
