package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"pulumi-ecs-pipeline/internal/awsdeploy"
	"pulumi-ecs-pipeline/internal/config"
	"pulumi-ecs-pipeline/internal/logging"
	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
)

type (
	Logger = zerolog.Logger
	Config = config.Config
)

func ProvideLogger() Logger {
	return logging.New()
}

func ProvideConfig() (Config, error) {
	return config.FromEnv()
}

func ProvidePlan(cfg Config) (*pipeline.Plan, error) {
	return pipeline.Assemble(cfg)
}

func ProvideRoles(plan *pipeline.Plan) ([]policy.Role, error) {
	return policy.Derive(plan)
}

func ProvideAuditor(ctx context.Context) (*policy.Auditor, error) {
	return policy.NewAuditor(ctx)
}

func ProvideAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
}

func ProvideECSClient(cfg aws.Config) *ecs.Client {
	return ecs.NewFromConfig(cfg)
}

func ProvideS3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

func ProvideArtifactGetter(client *s3.Client) awsdeploy.S3Getter {
	return client
}

func ProvideSSMClient(cfg aws.Config) *ssm.Client {
	return ssm.NewFromConfig(cfg)
}

func ProvideParameterGetter(client *ssm.Client) awsdeploy.SSMGetter {
	return client
}

func ProvideDeployer(client *ecs.Client, cfg Config, logger Logger) *awsdeploy.ECS {
	return awsdeploy.NewECS(client, cfg.Service.Cluster, cfg.Service.Name, logger)
}
