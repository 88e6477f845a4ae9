package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulumi-ecs-pipeline/internal/config"
	"pulumi-ecs-pipeline/internal/pipeline"
)

func testPlan(t *testing.T) *pipeline.Plan {
	t.Helper()
	cfg := config.Config{
		AccountID: "123456789012",
		Region:    "ap-southeast-1",
		Registry:  config.Registry{Name: "laravel-blog"},
		Service:   config.Service{Container: "web"},
		Pipeline: config.Pipeline{
			Name:     "bira-pipeline",
			BuildEnv: "dev",
			Source:   config.Source{Owner: "SPHTech", Repo: "laravel-blog", Branch: "dev"},
		},
	}
	plan, err := pipeline.Assemble(cfg)
	require.NoError(t, err)
	return plan
}

func TestDeriveRoles(t *testing.T) {
	roles, err := Derive(testPlan(t))
	require.NoError(t, err)
	require.Len(t, roles, 2)

	build, ok := Find(roles, pipeline.RoleBuild)
	require.True(t, ok)
	assert.Equal(t, "codebuild.amazonaws.com", build.Principal)
	assert.True(t, build.Allows("ecr:PutImage", ScopeRegistry))
	assert.True(t, build.Allows("s3:PutObject", ScopeArtifactObjects))
	assert.True(t, build.Allows("s3:PutObject", ScopeImageObjects))
	assert.True(t, build.Allows("logs:PutLogEvents", ScopeBuildLogs))
	assert.True(t, build.Allows("ec2:CreateNetworkInterface", ScopeAny))
	assert.False(t, build.Allows("ecs:UpdateService", ScopeAny))
	assert.False(t, build.Allows("ecr:PutImage", ScopeAny))
	assert.False(t, build.Allows("iam:PassRole", ScopeTaskRole))

	pipe, ok := Find(roles, pipeline.RolePipeline)
	require.True(t, ok)
	assert.Equal(t, "codepipeline.amazonaws.com", pipe.Principal)
	assert.True(t, pipe.Allows("ecs:UpdateService", ScopeAny))
	assert.True(t, pipe.Allows("ecs:RegisterTaskDefinition", ScopeAny))
	assert.True(t, pipe.Allows("codebuild:StartBuild", ScopeBuildProject))
	assert.True(t, pipe.Allows("iam:PassRole", ScopeBuildRole))
	assert.True(t, pipe.Allows("iam:PassRole", ScopeTaskRole))
	assert.True(t, pipe.Allows("s3:GetBucketVersioning", ScopeArtifactBucket))
	assert.False(t, pipe.Allows("ecr:PutImage", ScopeRegistry))
	assert.False(t, pipe.Allows("s3:PutObject", ScopeImageObjects))
	assert.False(t, pipe.Allows("iam:PassRole", ScopeAny))
}

func TestDeriveIsDeterministic(t *testing.T) {
	plan := testPlan(t)
	first, err := Derive(plan)
	require.NoError(t, err)
	second, err := Derive(plan)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for _, role := range first {
		for _, s := range role.Statements {
			assert.IsIncreasing(t, s.Actions, "role %s statement %s", role.Name, s.Sid)
			assert.Len(t, s.Resources, 1)
		}
	}
}

func TestDeriveUnknownProvider(t *testing.T) {
	out := pipeline.NewArtifact("Out")
	plan, err := pipeline.NewBuilder("p").
		Stage("Source", pipeline.Action{Name: "s3", Category: pipeline.CategorySource, Provider: "S3", Role: pipeline.RolePipeline, Outputs: []pipeline.Artifact{out}}).
		Stage("Deploy", pipeline.Action{Name: "d", Category: pipeline.CategoryDeploy, Provider: pipeline.ProviderECS, Role: pipeline.RolePipeline, Inputs: []pipeline.Artifact{out}}).
		Build()
	require.NoError(t, err)

	_, err = Derive(plan)
	assert.ErrorContains(t, err, `provider "S3"`)
}

func TestSid(t *testing.T) {
	assert.Equal(t, "ArtifactObjects", sid(ScopeArtifactObjects))
	assert.Equal(t, "Registry", sid(ScopeRegistry))
	assert.Equal(t, "AnyResource", sid(ScopeAny))
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	plan := testPlan(t)

	auditor, err := NewAuditor(ctx)
	require.NoError(t, err)

	derived, err := Derive(plan)
	require.NoError(t, err)

	t.Run("derived roles pass", func(t *testing.T) {
		result, err := auditor.Audit(ctx, plan, derived)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Empty(t, result.Violations)
		assert.NoError(t, auditor.Check(ctx, plan, derived))
	})

	t.Run("widened role fails", func(t *testing.T) {
		widened := cloneRoles(derived)
		for i := range widened {
			if widened[i].Name == pipeline.RoleBuild {
				widened[i].Statements = append(widened[i].Statements, Statement{
					Sid:       "Deploy",
					Actions:   []string{"ecs:UpdateService"},
					Resources: []Scope{ScopeAny},
				})
			}
		}

		result, err := auditor.Audit(ctx, plan, widened)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, []string{"role build is granted ecs:UpdateService on * beyond what its actions require"}, result.Violations)

		err = auditor.Check(ctx, plan, widened)
		assert.ErrorIs(t, err, ErrPolicyViolation)
	})

	t.Run("wildcard resource instead of scoped one fails", func(t *testing.T) {
		widened := cloneRoles(derived)
		for i := range widened {
			for j := range widened[i].Statements {
				if widened[i].Statements[j].Sid == "Registry" {
					widened[i].Statements[j].Resources = []Scope{ScopeAny}
				}
			}
		}

		result, err := auditor.Audit(ctx, plan, widened)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Contains(t, result.Violations, "role build is granted ecr:PutImage on * beyond what its actions require")
		assert.Contains(t, result.Violations, "role build lacks ecr:PutImage on registry required by its actions")
	})

	t.Run("missing role fails", func(t *testing.T) {
		pipe, ok := Find(derived, pipeline.RolePipeline)
		require.True(t, ok)

		result, err := auditor.Audit(ctx, plan, []Role{pipe})
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Contains(t, result.Violations, "role build lacks ecr:GetAuthorizationToken on * required by its actions")
	})
}

func cloneRoles(roles []Role) []Role {
	out := make([]Role, len(roles))
	for i, r := range roles {
		out[i] = r
		out[i].Statements = make([]Statement, len(r.Statements))
		for j, s := range r.Statements {
			out[i].Statements[j] = Statement{
				Sid:       s.Sid,
				Actions:   append([]string(nil), s.Actions...),
				Resources: append([]Scope(nil), s.Resources...),
			}
		}
	}
	return out
}
