package pipeline

import (
	"pulumi-ecs-pipeline/internal/config"
	"pulumi-ecs-pipeline/internal/imagedefs"
)

const (
	StageSource = "Source"
	StageBuild  = "Build"
	StageDeploy = "Deploy"

	ActionSource = "GitHub_Source"
	ActionBuild  = "CDK_Build"
	ActionDeploy = "CDK_Deploy"

	ArtifactSource = "SourceOutput"
	ArtifactBuild  = "CdkBuildOutput"
)

// Configuration keys understood by the executors and the infrastructure layer.
const (
	ConfigOwner  = "Owner"
	ConfigRepo   = "Repo"
	ConfigBranch = "Branch"
	ConfigPoll   = "PollForSourceChanges"
)

// Assemble builds the Source -> Build -> Deploy plan for the given configuration.
func Assemble(cfg config.Config) (*Plan, error) {
	sourceOutput := NewArtifact(ArtifactSource)
	buildOutput := NewArtifact(ArtifactBuild)

	return NewBuilder(cfg.Pipeline.Name).
		Stage(StageSource, Action{
			Name:     ActionSource,
			Category: CategorySource,
			Provider: ProviderGitHub,
			Role:     RolePipeline,
			Outputs:  []Artifact{sourceOutput},
			Configuration: map[string]string{
				ConfigOwner:  cfg.Pipeline.Source.Owner,
				ConfigRepo:   cfg.Pipeline.Source.Repo,
				ConfigBranch: cfg.Pipeline.Source.Branch,
				ConfigPoll:   "false",
			},
		}).
		Stage(StageBuild, Action{
			Name:     ActionBuild,
			Category: CategoryBuild,
			Provider: ProviderCodeBuild,
			Role:     RoleBuild,
			Inputs:   []Artifact{sourceOutput},
			Outputs:  []Artifact{buildOutput},
			Environment: map[string]string{
				"AWS_DEFAULT_REGION":      cfg.Region,
				"ACCOUNT_ID":              cfg.AccountID,
				"BUILD_ENV":               cfg.Pipeline.BuildEnv,
				"LARAVEL_REPOSITORY_NAME": cfg.Registry.Name,
				"CONTAINER_NAME":          cfg.Service.Container,
			},
		}).
		Stage(StageDeploy, Action{
			Name:     ActionDeploy,
			Category: CategoryDeploy,
			Provider: ProviderECS,
			Role:     RolePipeline,
			Inputs:   []Artifact{buildOutput.AtPath(imagedefs.FileName)},
		}).
		Build()
}
