package di

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulumi-ecs-pipeline/internal/config"
	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.FromMap(map[string]string{
		"AWS_ACCOUNT_ID":           "123456789012",
		"AWS_REGION":               "ap-southeast-1",
		"ECR_REPOSITORY":           "laravel-blog",
		"VPC_ID":                   "vpc-0a1b2c3d",
		"SERVICE_SUBNET_IDS":       "subnet-a,subnet-b",
		"LB_SUBNET_IDS":            "subnet-c,subnet-b",
		"SECURITY_GROUP_NAME":      "service-sg",
		"SECURITY_GROUP_ID":        "sg-0123",
		"LB_SECURITY_GROUP_NAME":   "lb-sg",
		"LB_SECURITY_GROUP_ID":     "sg-0456",
		"ECS_CLUSTER":              "bira-cluster",
		"CONTAINER":                "web",
		"SERVICE":                  "bira-service",
		"LOAD_BALANCER":            "bira-alb",
		"SUFFIX":                   "bira",
		"ECS_BUCKET":               "bira-ecs-images",
		"PIPELINE_BUCKET":          "bira-pipeline-artifacts",
		"PIPELINE_NAME":            "bira-pipeline",
		"CODE_BUILD_SPEC_FILENAME": "buildspec.yml",
		"BUILD_ENV":                "dev",
		"GITHUB_TOKEN":             "ghp_secret",
	})
	require.NoError(t, err)
	return cfg
}

func TestNewResolvesPlanAndRoles(t *testing.T) {
	container, err := New(context.Background(), WithLogger(zerolog.Nop()), WithConfig(testConfig(t)))
	require.NoError(t, err)

	plan := MustGet[*pipeline.Plan](container)
	assert.Equal(t, "bira-pipeline", plan.Name)

	roles := MustGet[[]policy.Role](container)
	_, ok := policy.Find(roles, pipeline.RoleBuild)
	assert.True(t, ok)

	auditor := MustGet[*policy.Auditor](container)
	assert.NoError(t, auditor.Check(context.Background(), plan, roles))
}

func TestWithProviders(t *testing.T) {
	type greeting string
	container, err := New(context.Background(),
		WithLogger(zerolog.Nop()),
		WithConfig(testConfig(t)),
		WithProviders(func(cfg Config) greeting { return greeting("hello " + cfg.Service.Name) }),
	)
	require.NoError(t, err)
	assert.Equal(t, greeting("hello bira-service"), MustGet[greeting](container))
}

func TestGetReportsMissingDependency(t *testing.T) {
	type unknown struct{}
	container, err := New(context.Background(), WithLogger(zerolog.Nop()), WithConfig(testConfig(t)))
	require.NoError(t, err)

	_, err = Get[*unknown](container)
	assert.Error(t, err)
	assert.Panics(t, func() { MustGet[*unknown](container) })
}
