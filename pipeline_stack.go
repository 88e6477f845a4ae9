package main

import (
	"fmt"
	"sort"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/codebuild"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/codepipeline"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/s3"
	"github.com/pulumi/pulumi-command/sdk/go/command/local"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"pulumi-ecs-pipeline/internal/config"
	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
	"pulumi-ecs-pipeline/internal/webhook"
)

const buildProjectName = "BIRA-CDK-BUILD"

type PipelineStackArgs struct {
	config      config.Config
	plan        *pipeline.Plan
	registry    RegistryReference
	service     ServiceReference
	taskRoleArn pulumi.StringOutput
}

type PipelineStack struct {
	artifactBucket *s3.BucketV2
	imageBucket    *s3.BucketV2
	roles          *PipelineRoles
	project        *codebuild.Project
	pipeline       *codepipeline.Pipeline
	hook           *codepipeline.Webhook
}

// NewPipelineStack declares the Source -> Build -> Deploy pipeline for a plan
// and the least-privilege roles its actions run under.
func NewPipelineStack(ctx *pulumi.Context, args PipelineStackArgs) (*PipelineStack, error) {
	cfg := args.config
	stack := &PipelineStack{}

	roles, err := policy.Derive(args.plan)
	if err != nil {
		return nil, fmt.Errorf("Error deriving roles: %w", err)
	}

	stack.imageBucket, err = newBucket(ctx, "image-bucket", cfg.Pipeline.ImageBucket, false)
	if err != nil {
		return nil, err
	}
	stack.artifactBucket, err = newBucket(ctx, "artifact-bucket", cfg.Pipeline.ArtifactBucket, true)
	if err != nil {
		return nil, err
	}

	stack.roles, err = NewPipelineRoles(ctx, roles)
	if err != nil {
		return nil, err
	}

	buildLogGroup := fmt.Sprintf("arn:aws:logs:%s:%s:log-group:/aws/codebuild/%s", cfg.Region, cfg.AccountID, buildProjectName)
	policies, err := stack.roles.attachPolicies(ctx, roles, scopeArns{
		policy.ScopeArtifactBucket:  {stack.artifactBucket.Arn},
		policy.ScopeArtifactObjects: {pulumi.Sprintf("%s/*", stack.artifactBucket.Arn)},
		policy.ScopeImageBucket:     {stack.imageBucket.Arn},
		policy.ScopeImageObjects:    {pulumi.Sprintf("%s/*", stack.imageBucket.Arn)},
		policy.ScopeRegistry:        {args.registry.Arn},
		policy.ScopeBuildLogs:       {pulumi.String(buildLogGroup), pulumi.String(buildLogGroup + ":*")},
		policy.ScopeBuildProject:    {pulumi.Sprintf("arn:aws:codebuild:%s:%s:project/%s", cfg.Region, cfg.AccountID, buildProjectName)},
		policy.ScopeBuildRole:       {stack.roles.arn(pipeline.RoleBuild)},
		policy.ScopeTaskRole:        {args.taskRoleArn},
		policy.ScopeAny:             {pulumi.String("*")},
	})
	if err != nil {
		return nil, err
	}

	build, ok := findAction(args.plan, pipeline.CategoryBuild)
	if !ok {
		return nil, fmt.Errorf("Error creating build project: plan %s has no build action", args.plan.Name)
	}
	stack.project, err = codebuild.NewProject(ctx, "build-project", &codebuild.ProjectArgs{
		Name:        pulumi.String(buildProjectName),
		ServiceRole: stack.roles.arn(build.Role),
		Source: codebuild.ProjectSourceArgs{
			Type:      pulumi.String("CODEPIPELINE"),
			Buildspec: pulumi.String(cfg.Pipeline.BuildSpec),
		},
		Artifacts: codebuild.ProjectArtifactsArgs{
			Type: pulumi.String("CODEPIPELINE"),
		},
		Environment: codebuild.ProjectEnvironmentArgs{
			ComputeType:          pulumi.String("BUILD_GENERAL1_SMALL"),
			Image:                pulumi.String("aws/codebuild/standard:7.0"),
			Type:                 pulumi.String("LINUX_CONTAINER"),
			PrivilegedMode:       pulumi.Bool(true),
			EnvironmentVariables: environmentVariables(build.Environment),
		},
		LogsConfig: codebuild.ProjectLogsConfigArgs{
			CloudwatchLogs: codebuild.ProjectLogsConfigCloudwatchLogsArgs{
				GroupName: pulumi.String("/aws/codebuild/" + buildProjectName),
				Status:    pulumi.String("ENABLED"),
			},
		},
	}, pulumi.DependsOn(policies))
	if err != nil {
		return nil, fmt.Errorf("Error creating build project: %w", err)
	}

	stages, err := pipelineStages(args.plan, actionSettings{
		token:   pulumi.ToSecret(pulumi.String(cfg.Pipeline.Source.Token)).(pulumi.StringOutput),
		project: stack.project.Name,
		service: args.service,
	})
	if err != nil {
		return nil, err
	}
	stack.pipeline, err = codepipeline.NewPipeline(ctx, "pipeline", &codepipeline.PipelineArgs{
		Name:          pulumi.String(args.plan.Name),
		RoleArn:       stack.roles.arn(pipeline.RolePipeline),
		PipelineType:  pulumi.String("V2"),
		ExecutionMode: pulumi.String("QUEUED"),
		ArtifactStores: codepipeline.PipelineArtifactStoreArray{
			codepipeline.PipelineArtifactStoreArgs{
				Location: stack.artifactBucket.Bucket,
				Type:     pulumi.String("S3"),
			},
		},
		Stages: stages,
	}, pulumi.DependsOn(policies))
	if err != nil {
		return nil, fmt.Errorf("Error creating pipeline: %w", err)
	}

	if err := stack.registerWebhook(ctx, cfg, args.plan); err != nil {
		return nil, err
	}

	fingerprint, err := args.plan.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("Error fingerprinting plan: %w", err)
	}
	ctx.Export("pipelineName", stack.pipeline.Name)
	ctx.Export("webhookUrl", stack.hook.Url)
	ctx.Export("planFingerprint", pulumi.String(fingerprint))

	return stack, nil
}

// registerWebhook declares the push webhook for the source action and
// registers it with GitHub, deregistering it again on delete.
func (s *PipelineStack) registerWebhook(ctx *pulumi.Context, cfg config.Config, plan *pipeline.Plan) error {
	source, ok := findAction(plan, pipeline.CategorySource)
	if !ok {
		return fmt.Errorf("Error creating webhook: plan %s has no source action", plan.Name)
	}

	var err error
	s.hook, err = codepipeline.NewWebhook(ctx, "github-webhook", &codepipeline.WebhookArgs{
		Authentication: pulumi.String("GITHUB_HMAC"),
		AuthenticationConfiguration: codepipeline.WebhookAuthenticationConfigurationArgs{
			SecretToken: pulumi.ToSecret(pulumi.String(webhook.Secret(cfg.Pipeline.Source.Token, plan.Name))).(pulumi.StringOutput),
		},
		TargetPipeline: s.pipeline.Name,
		TargetAction:   pulumi.String(source.Name),
		Filters: codepipeline.WebhookFilterArray{
			codepipeline.WebhookFilterArgs{
				JsonPath:    pulumi.String("$.ref"),
				MatchEquals: pulumi.String("refs/heads/{Branch}"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("Error creating webhook: %w", err)
	}

	_, err = local.NewCommand(ctx, "github-webhook-registration", &local.CommandArgs{
		Create: pulumi.Sprintf("aws codepipeline register-webhook-with-third-party --webhook-name %s --region %s", s.hook.Name, cfg.Region),
		Delete: pulumi.Sprintf("aws codepipeline deregister-webhook-with-third-party --webhook-name %s --region %s", s.hook.Name, cfg.Region),
	}, pulumi.DependsOn([]pulumi.Resource{s.hook}))
	if err != nil {
		return fmt.Errorf("Error registering webhook: %w", err)
	}
	return nil
}

func newBucket(ctx *pulumi.Context, name, bucketName string, versioned bool) (*s3.BucketV2, error) {
	bucket, err := s3.NewBucketV2(ctx, name, &s3.BucketV2Args{
		Bucket: pulumi.String(bucketName),
	}, pulumi.RetainOnDelete(true))
	if err != nil {
		return nil, fmt.Errorf("Error creating bucket %s: %w", bucketName, err)
	}
	_, err = s3.NewBucketPublicAccessBlock(ctx, name+"-public-access", &s3.BucketPublicAccessBlockArgs{
		Bucket:                bucket.ID(),
		BlockPublicAcls:       pulumi.Bool(true),
		BlockPublicPolicy:     pulumi.Bool(true),
		IgnorePublicAcls:      pulumi.Bool(true),
		RestrictPublicBuckets: pulumi.Bool(true),
	}, pulumi.RetainOnDelete(true))
	if err != nil {
		return nil, fmt.Errorf("Error blocking public access to %s: %w", bucketName, err)
	}
	if versioned {
		_, err = s3.NewBucketVersioningV2(ctx, name+"-versioning", &s3.BucketVersioningV2Args{
			Bucket: bucket.ID(),
			VersioningConfiguration: s3.BucketVersioningV2VersioningConfigurationArgs{
				Status: pulumi.String("Enabled"),
			},
		}, pulumi.RetainOnDelete(true))
		if err != nil {
			return nil, fmt.Errorf("Error enabling versioning on %s: %w", bucketName, err)
		}
	}
	return bucket, nil
}

// actionSettings carries the values only known once resources exist.
type actionSettings struct {
	token   pulumi.StringOutput
	project pulumi.StringOutput
	service ServiceReference
}

// pipelineStages translates the plan into CodePipeline stages, keeping stage
// and action order.
func pipelineStages(plan *pipeline.Plan, settings actionSettings) (codepipeline.PipelineStageArray, error) {
	stages := codepipeline.PipelineStageArray{}
	for _, stage := range plan.Stages {
		actions := codepipeline.PipelineStageActionArray{}
		for _, action := range stage.Actions {
			configuration := pulumi.StringMap{}
			for k, v := range action.Configuration {
				configuration[k] = pulumi.String(v)
			}
			switch action.Provider {
			case pipeline.ProviderGitHub:
				configuration["OAuthToken"] = settings.token
			case pipeline.ProviderCodeBuild:
				configuration["ProjectName"] = settings.project
			case pipeline.ProviderECS:
				configuration["ClusterName"] = settings.service.Cluster
				configuration["ServiceName"] = settings.service.Name
				if len(action.Inputs) == 0 || action.Inputs[0].Path == "" {
					return nil, fmt.Errorf("Error creating pipeline: deploy action %s has no image definitions input", action.Name)
				}
				configuration["FileName"] = pulumi.String(action.Inputs[0].Path)
			default:
				return nil, fmt.Errorf("Error creating pipeline: unsupported provider %q", action.Provider)
			}

			actions = append(actions, codepipeline.PipelineStageActionArgs{
				Name:            pulumi.String(action.Name),
				Category:        pulumi.String(string(action.Category)),
				Owner:           pulumi.String(action.Provider.Owner()),
				Provider:        pulumi.String(string(action.Provider)),
				Version:         pulumi.String("1"),
				RunOrder:        pulumi.IntPtr(action.RunOrder),
				InputArtifacts:  artifactNames(action.Inputs),
				OutputArtifacts: artifactNames(action.Outputs),
				Configuration:   configuration,
			})
		}
		stages = append(stages, codepipeline.PipelineStageArgs{
			Name:    pulumi.String(stage.Name),
			Actions: actions,
		})
	}
	return stages, nil
}

func artifactNames(artifacts []pipeline.Artifact) pulumi.StringArray {
	names := pulumi.StringArray{}
	for _, a := range artifacts {
		names = append(names, pulumi.String(a.Name))
	}
	return names
}

func environmentVariables(env map[string]string) codebuild.ProjectEnvironmentEnvironmentVariableArray {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vars := codebuild.ProjectEnvironmentEnvironmentVariableArray{}
	for _, k := range keys {
		vars = append(vars, codebuild.ProjectEnvironmentEnvironmentVariableArgs{
			Name:  pulumi.String(k),
			Value: pulumi.String(env[k]),
			Type:  pulumi.String("PLAINTEXT"),
		})
	}
	return vars
}

func findAction(plan *pipeline.Plan, category pipeline.Category) (pipeline.Action, bool) {
	for _, action := range plan.Actions() {
		if action.Category == category {
			return action, true
		}
	}
	return pipeline.Action{}, false
}
