package runner

import (
	"context"
	"path"

	"pulumi-ecs-pipeline/internal/imagedefs"
	"pulumi-ecs-pipeline/internal/policy"
)

// ServiceUpdater rolls a running service onto new container images.
type ServiceUpdater interface {
	UpdateImages(ctx context.Context, defs imagedefs.Definitions) error
}

// DeployExecutor runs ECS deploy actions. It reads nothing from its input
// except the image definitions file the input artifact points at.
type DeployExecutor struct {
	Service ServiceUpdater
}

func (e DeployExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	artifact, fs, err := req.Input(0)
	if err != nil {
		return Result{}, err
	}
	if err := req.Guard.Require("s3:GetObject", policy.ScopeArtifactObjects); err != nil {
		return Result{}, err
	}

	file := artifact.Path
	if file == "" {
		file = imagedefs.FileName
	}
	defs, err := imagedefs.Read(fs, path.Clean(file))
	if err != nil {
		return Result{}, err
	}

	if err := req.Guard.RequireAll(policy.ScopeAny,
		"ecs:DescribeServices",
		"ecs:DescribeTaskDefinition",
		"ecs:RegisterTaskDefinition",
	); err != nil {
		return Result{}, err
	}
	if err := req.Guard.Require("iam:PassRole", policy.ScopeTaskRole); err != nil {
		return Result{}, err
	}
	if err := req.Guard.Require("ecs:UpdateService", policy.ScopeAny); err != nil {
		return Result{}, err
	}

	if err := e.Service.UpdateImages(ctx, defs); err != nil {
		return Result{}, err
	}
	for _, d := range defs {
		req.Logger.Info().Str("container", d.Name).Str("image", d.ImageURI).Msg("service updated")
	}
	return Result{}, nil
}
