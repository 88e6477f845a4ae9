// Package awsdeploy talks to the real AWS services behind the Deploy stage:
// it rolls an ECS service onto the images named in imagedefinitions.json and
// reads build artifacts back out of S3.
package awsdeploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/rs/zerolog"

	"pulumi-ecs-pipeline/internal/imagedefs"
	"pulumi-ecs-pipeline/internal/runner"
)

var ErrServiceNotFound = errors.New("ecs service not found")

// ECSAPI is the subset of the ECS client used to deploy.
type ECSAPI interface {
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	DescribeTaskDefinition(ctx context.Context, params *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

// ECS updates one service the way the CodePipeline ECS deploy action does:
// register a copy of the current task definition with new images, then point
// the service at it.
type ECS struct {
	Client  ECSAPI
	Cluster string
	Service string
	Logger  zerolog.Logger
}

func NewECS(client ECSAPI, cluster, service string, logger zerolog.Logger) *ECS {
	return &ECS{Client: client, Cluster: cluster, Service: service, Logger: logger}
}

func (e *ECS) UpdateImages(ctx context.Context, defs imagedefs.Definitions) error {
	if err := defs.Validate(); err != nil {
		return err
	}
	current, tags, err := e.currentTaskDefinition(ctx)
	if err != nil {
		return err
	}

	containers := make([]ecstypes.ContainerDefinition, len(current.ContainerDefinitions))
	copy(containers, current.ContainerDefinitions)
	for _, d := range defs {
		found := false
		for i := range containers {
			if aws.ToString(containers[i].Name) == d.Name {
				containers[i].Image = aws.String(d.ImageURI)
				found = true
			}
		}
		if !found {
			return fmt.Errorf("%w: %s in %s", runner.ErrUnknownContainer, d.Name, aws.ToString(current.TaskDefinitionArn))
		}
	}

	registered, err := e.Client.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  current.Family,
		ContainerDefinitions:    containers,
		Cpu:                     current.Cpu,
		Memory:                  current.Memory,
		NetworkMode:             current.NetworkMode,
		RequiresCompatibilities: current.RequiresCompatibilities,
		ExecutionRoleArn:        current.ExecutionRoleArn,
		TaskRoleArn:             current.TaskRoleArn,
		Volumes:                 current.Volumes,
		PlacementConstraints:    current.PlacementConstraints,
		RuntimePlatform:         current.RuntimePlatform,
		Tags:                    tags,
	})
	if err != nil {
		return fmt.Errorf("failed to register task definition %s: %w", aws.ToString(current.Family), err)
	}
	arn := aws.ToString(registered.TaskDefinition.TaskDefinitionArn)

	if _, err := e.Client.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:        aws.String(e.Cluster),
		Service:        aws.String(e.Service),
		TaskDefinition: aws.String(arn),
	}); err != nil {
		return fmt.Errorf("failed to update service %s: %w", e.Service, err)
	}

	e.Logger.Info().
		Str("cluster", e.Cluster).
		Str("service", e.Service).
		Str("taskDefinition", arn).
		Msg("service updated")
	return nil
}

// RunningImages returns the image of every container in the service's current
// task definition, keyed by container name.
func (e *ECS) RunningImages(ctx context.Context) (map[string]string, error) {
	current, _, err := e.currentTaskDefinition(ctx)
	if err != nil {
		return nil, err
	}
	images := map[string]string{}
	for _, c := range current.ContainerDefinitions {
		images[aws.ToString(c.Name)] = aws.ToString(c.Image)
	}
	return images, nil
}

func (e *ECS) currentTaskDefinition(ctx context.Context) (*ecstypes.TaskDefinition, []ecstypes.Tag, error) {
	services, err := e.Client.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(e.Cluster),
		Services: []string{e.Service},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to describe service %s: %w", e.Service, err)
	}
	if len(services.Services) == 0 {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrServiceNotFound, e.Cluster, e.Service)
	}

	arn := services.Services[0].TaskDefinition
	out, err := e.Client.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: arn,
		Include:        []ecstypes.TaskDefinitionField{ecstypes.TaskDefinitionFieldTags},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to describe task definition %s: %w", aws.ToString(arn), err)
	}
	return out.TaskDefinition, out.Tags, nil
}
