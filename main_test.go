package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulumi-ecs-pipeline/internal/config"
	"pulumi-ecs-pipeline/internal/imagedefs"
	"pulumi-ecs-pipeline/internal/pipeline"
)

type mocks struct {
	mu        sync.Mutex
	resources []pulumi.MockResourceArgs
}

func (m *mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.mu.Lock()
	m.resources = append(m.resources, args)
	m.mu.Unlock()

	outputs := args.Inputs.Copy()
	outputs["arn"] = resource.NewStringProperty("arn:aws:mock:" + args.TypeToken + ":" + args.Name)
	switch args.TypeToken {
	case "aws:ecr/repository:Repository":
		outputs["registryId"] = resource.NewStringProperty("123456789012")
		outputs["repositoryUrl"] = resource.NewStringProperty("123456789012.dkr.ecr.ap-southeast-1.amazonaws.com/" + args.Inputs["name"].StringValue())
	case "aws:codepipeline/webhook:Webhook":
		outputs["url"] = resource.NewStringProperty("https://webhooks.example.com/" + args.Name)
	}
	return args.Name + "_id", outputs, nil
}

func (m *mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	switch args.Token {
	case "aws:iam/getPolicyDocument:getPolicyDocument":
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"json": `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"sts:AssumeRole"}]}`,
		}), nil
	case "aws:ec2/getVpc:getVpc":
		outputs := args.Args.Copy()
		outputs["id"] = resource.NewStringProperty("vpc-0a1b2c3d")
		return outputs, nil
	case "aws:ecr/getAuthorizationToken:getAuthorizationToken":
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"id":       "123456789012",
			"userName": "AWS",
			"password": "token",
		}), nil
	}
	return args.Args, nil
}

// named returns the recorded resource of the given type and name.
func (m *mocks) named(t *testing.T, typeToken, name string) pulumi.MockResourceArgs {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resources {
		if r.TypeToken == typeToken && r.Name == name {
			return r
		}
	}
	require.Failf(t, "resource not declared", "%s %s", typeToken, name)
	return pulumi.MockResourceArgs{}
}

func (m *mocks) urns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var urns []string
	for _, r := range m.resources {
		urns = append(urns, r.TypeToken+"::"+r.Name)
	}
	sort.Strings(urns)
	return urns
}

func unwrap(v resource.PropertyValue) resource.PropertyValue {
	switch {
	case v.IsSecret():
		return unwrap(v.SecretValue().Element)
	case v.IsOutput():
		return unwrap(v.OutputValue().Element)
	}
	return v
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.FromMap(map[string]string{
		"AWS_ACCOUNT_ID":           "123456789012",
		"AWS_REGION":               "ap-southeast-1",
		"ECR_REPOSITORY":           "laravel-blog",
		"VPC_ID":                   "vpc-0a1b2c3d",
		"SERVICE_SUBNET_IDS":       "subnet-0dcb1eee39d6ff70f,subnet-00a4ff9d6c8871879",
		"LB_SUBNET_IDS":            "subnet-0d4ddf3ab0d9351bf,subnet-00a4ff9d6c8871879",
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

func runDeploy(t *testing.T, cfg config.Config) *mocks {
	t.Helper()
	m := &mocks{}
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		return deploy(ctx, cfg)
	}, pulumi.WithMocks("pulumi-ecs-pipeline", "dev", m))
	require.NoError(t, err)
	return m
}

func pipelineStagesOf(t *testing.T, m *mocks) []resource.PropertyMap {
	t.Helper()
	res := m.named(t, "aws:codepipeline/pipeline:Pipeline", "pipeline")
	var stages []resource.PropertyMap
	for _, s := range unwrap(res.Inputs["stages"]).ArrayValue() {
		stages = append(stages, unwrap(s).ObjectValue())
	}
	return stages
}

func actionsOf(stage resource.PropertyMap) []resource.PropertyMap {
	var actions []resource.PropertyMap
	for _, a := range unwrap(stage["actions"]).ArrayValue() {
		actions = append(actions, unwrap(a).ObjectValue())
	}
	return actions
}

func artifactList(v resource.PropertyValue) []string {
	var out []string
	for _, e := range unwrap(v).ArrayValue() {
		out = append(out, unwrap(e).StringValue())
	}
	return out
}

func TestPipelineStages(t *testing.T) {
	m := runDeploy(t, testConfig(t))
	stages := pipelineStagesOf(t, m)
	require.Len(t, stages, 3)

	var names []string
	for _, s := range stages {
		names = append(names, unwrap(s["name"]).StringValue())
	}
	assert.Equal(t, []string{pipeline.StageSource, pipeline.StageBuild, pipeline.StageDeploy}, names)

	source := actionsOf(stages[0])[0]
	build := actionsOf(stages[1])[0]
	deploy := actionsOf(stages[2])[0]

	assert.Equal(t, pipeline.ActionSource, unwrap(source["name"]).StringValue())
	assert.Equal(t, "ThirdParty", unwrap(source["owner"]).StringValue())
	assert.Equal(t, []string{pipeline.ArtifactSource}, artifactList(source["outputArtifacts"]))

	assert.Equal(t, []string{pipeline.ArtifactSource}, artifactList(build["inputArtifacts"]))
	assert.Equal(t, []string{pipeline.ArtifactBuild}, artifactList(build["outputArtifacts"]))
	assert.Equal(t, "BIRA-CDK-BUILD", unwrap(unwrap(build["configuration"]).ObjectValue()["ProjectName"]).StringValue())

	assert.Equal(t, []string{pipeline.ArtifactBuild}, artifactList(deploy["inputArtifacts"]))
	deployConfig := unwrap(deploy["configuration"]).ObjectValue()
	assert.Equal(t, imagedefs.FileName, unwrap(deployConfig["FileName"]).StringValue())
	assert.Equal(t, "bira-cluster", unwrap(deployConfig["ClusterName"]).StringValue())
	assert.Equal(t, "bira-service", unwrap(deployConfig["ServiceName"]).StringValue())
}

func TestSourceTokenIsSecret(t *testing.T) {
	m := runDeploy(t, testConfig(t))
	source := actionsOf(pipelineStagesOf(t, m)[0])[0]
	token := unwrap(source["configuration"]).ObjectValue()["OAuthToken"]

	assert.True(t, token.ContainsSecrets())
	assert.Equal(t, "ghp_secret", unwrap(token).StringValue())
}

func TestPipelineRunsQueued(t *testing.T) {
	m := runDeploy(t, testConfig(t))
	res := m.named(t, "aws:codepipeline/pipeline:Pipeline", "pipeline")

	assert.Equal(t, "QUEUED", unwrap(res.Inputs["executionMode"]).StringValue())
	assert.Equal(t, "V2", unwrap(res.Inputs["pipelineType"]).StringValue())
	assert.Equal(t, "bira-pipeline", unwrap(res.Inputs["name"]).StringValue())
}

func TestRolePolicies(t *testing.T) {
	m := runDeploy(t, testConfig(t))

	pipelinePolicy := unwrap(m.named(t, "aws:iam/rolePolicy:RolePolicy", "CodePipelineServiceRole-policy").Inputs["policy"]).StringValue()
	buildPolicy := unwrap(m.named(t, "aws:iam/rolePolicy:RolePolicy", "CodeBuildServiceRole-policy").Inputs["policy"]).StringValue()

	assert.Contains(t, pipelinePolicy, "ecs:UpdateService")
	assert.Contains(t, pipelinePolicy, "codebuild:StartBuild")
	assert.Contains(t, pipelinePolicy, "iam:PassRole")
	assert.NotContains(t, buildPolicy, "ecs:UpdateService")
	assert.Contains(t, buildPolicy, "ecr:PutImage")
	assert.NotContains(t, pipelinePolicy, "ecr:PutImage")
}

func TestBuildProjectEnvironment(t *testing.T) {
	m := runDeploy(t, testConfig(t))
	project := m.named(t, "aws:codebuild/project:Project", "build-project")

	env := unwrap(project.Inputs["environment"]).ObjectValue()
	assert.True(t, unwrap(env["privilegedMode"]).BoolValue())

	var names []string
	for _, v := range unwrap(env["environmentVariables"]).ArrayValue() {
		names = append(names, unwrap(unwrap(v).ObjectValue()["name"]).StringValue())
	}
	assert.Equal(t, []string{"ACCOUNT_ID", "AWS_DEFAULT_REGION", "BUILD_ENV", "CONTAINER_NAME", "LARAVEL_REPOSITORY_NAME"}, names)

	source := unwrap(project.Inputs["source"]).ObjectValue()
	assert.Equal(t, "buildspec.yml", unwrap(source["buildspec"]).StringValue())
}

func TestDeployIsDeterministic(t *testing.T) {
	cfg := testConfig(t)
	first := runDeploy(t, cfg)
	second := runDeploy(t, cfg)

	assert.Equal(t, first.urns(), second.urns())
	assert.Equal(t, pipelineStagesOf(t, first), pipelineStagesOf(t, second))
}

func TestBootstrapImage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM nginx\n"), 0o644))
	tag, err := hashBuild(dir, filepath.Join(dir, "Dockerfile"))
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Service.BootstrapContext = dir
	cfg.Service.BootstrapDockerfile = filepath.Join(dir, "Dockerfile")
	m := runDeploy(t, cfg)

	m.named(t, "docker:index/image:Image", "bootstrap-image")
	taskdef := m.named(t, "aws:ecs/taskDefinition:TaskDefinition", "taskdef")
	defs := unwrap(taskdef.Inputs["containerDefinitions"]).StringValue()
	assert.Contains(t, defs, "laravel-blog:"+tag[:12])
}

// The sample app builds from the repository root with its Dockerfile under
// app/, so every file it copies must exist relative to the root.
func TestAppDockerfileBuildsFromRoot(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("app", "Dockerfile"))
	require.NoError(t, err)

	copied := 0
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "COPY" || strings.HasPrefix(fields[1], "--from") {
			continue
		}
		for _, src := range fields[1 : len(fields)-1] {
			if strings.Contains(src, "*") {
				continue
			}
			_, err := os.Stat(src)
			assert.NoError(t, err, "COPY %s", src)
			copied++
		}
	}
	assert.Positive(t, copied)

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "Dockerfile"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module pulumi-ecs-pipeline\n"), 0o644))

	cfg := testConfig(t)
	cfg.Service.BootstrapContext = root
	cfg.Service.BootstrapDockerfile = filepath.Join(root, "app", "Dockerfile")
	m := runDeploy(t, cfg)

	build := unwrap(m.named(t, "docker:index/image:Image", "bootstrap-image").Inputs["build"]).ObjectValue()
	assert.Equal(t, root, unwrap(build["context"]).StringValue())
	assert.Equal(t, filepath.Join(root, "app", "Dockerfile"), unwrap(build["dockerfile"]).StringValue())
}

func TestWithoutBootstrapImage(t *testing.T) {
	m := runDeploy(t, testConfig(t))

	for _, urn := range m.urns() {
		assert.NotContains(t, urn, "docker:index/image:Image")
	}
	taskdef := m.named(t, "aws:ecs/taskDefinition:TaskDefinition", "taskdef")
	assert.Contains(t, unwrap(taskdef.Inputs["containerDefinitions"]).StringValue(), config.DefaultContainerImage)
}
