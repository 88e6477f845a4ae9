package main

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecr"
	"github.com/pulumi/pulumi-docker/sdk/v4/go/docker"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"pulumi-ecs-pipeline/internal/config"
)

// imageRetentionDays is how long untagged and superseded images are kept.
const imageRetentionDays = 30

type EcrImage struct {
	repo  *ecr.Repository
	image *docker.Image
	// initial is the image the task definition starts with; the pipeline
	// replaces it on the first successful run.
	initial pulumi.StringInput
}

func NewEcrDockerBuild(ctx *pulumi.Context, cfg config.Config) (*EcrImage, error) {
	ecrImage := &EcrImage{
		initial: pulumi.String(cfg.Service.Image),
	}
	repo, err := ecr.NewRepository(ctx, "registry", &ecr.RepositoryArgs{
		Name: pulumi.String(cfg.Registry.Name),
		ImageScanningConfiguration: ecr.RepositoryImageScanningConfigurationArgs{
			ScanOnPush: pulumi.Bool(true),
		},
	}, pulumi.RetainOnDelete(true))
	if err != nil {
		return nil, fmt.Errorf("Error creating repo: %w", err)
	}
	ecrImage.repo = repo

	_, err = ecr.NewLifecyclePolicy(ctx, "registry-lifecycle", &ecr.LifecyclePolicyArgs{
		Repository: repo.Name,
		Policy: pulumi.JSONMarshal(map[string]interface{}{
			"rules": []map[string]interface{}{
				{
					"rulePriority": 1,
					"description":  fmt.Sprintf("Expire images older than %d days", imageRetentionDays),
					"selection": map[string]interface{}{
						"tagStatus":   "any",
						"countType":   "sinceImagePushed",
						"countUnit":   "days",
						"countNumber": imageRetentionDays,
					},
					"action": map[string]interface{}{
						"type": "expire",
					},
				},
			},
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating lifecycle policy: %w", err)
	}

	if cfg.Service.BootstrapContext == "" {
		return ecrImage, nil
	}

	tag, err := hashBuild(cfg.Service.BootstrapContext, cfg.Service.BootstrapDockerfile)
	if err != nil {
		return nil, fmt.Errorf("Error hashing %s: %w", cfg.Service.BootstrapContext, err)
	}
	authToken := ecr.GetAuthorizationTokenOutput(ctx, ecr.GetAuthorizationTokenOutputArgs{
		RegistryId: repo.RegistryId,
	})
	ecrImage.image, err = docker.NewImage(ctx, "bootstrap-image", &docker.ImageArgs{
		Registry: docker.RegistryArgs{
			Server:   repo.RepositoryUrl,
			Username: authToken.UserName(),
			Password: pulumi.ToSecret(authToken.ApplyT(func(authToken ecr.GetAuthorizationTokenResult) (*string, error) {
				return &authToken.Password, nil
			})).(pulumi.StringPtrOutput),
		},
		Build: docker.DockerBuildArgs{
			Platform:   pulumi.String("linux/amd64"),
			Context:    pulumi.String(cfg.Service.BootstrapContext),
			Dockerfile: pulumi.String(cfg.Service.BootstrapDockerfile),
		},
		ImageName: repo.RepositoryUrl.ApplyT(func(url string) string {
			return fmt.Sprintf("%s:%s", url, tag[:12])
		}).(pulumi.StringOutput),
	})
	if err != nil {
		return nil, fmt.Errorf("Error building bootstrap image: %w", err)
	}
	ecrImage.initial = ecrImage.image.ImageName

	return ecrImage, nil
}
