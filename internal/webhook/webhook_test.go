package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulumi-ecs-pipeline/internal/config"
	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
	"pulumi-ecs-pipeline/internal/runner"
)

type fakePusher struct {
	mu     sync.Mutex
	branch string
	pushed []runner.PushEvent
}

func (f *fakePusher) Accepts(event runner.PushEvent) bool {
	return event.Branch() == f.branch
}

func (f *fakePusher) HandlePush(_ context.Context, event runner.PushEvent) (*runner.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, event)
	return &runner.Execution{ID: "exec", Status: runner.StatusSucceeded}, nil
}

const pushPayload = `{
  "ref": "refs/heads/%s",
  "after": "4f2c9a17b3e5d8c0",
  "repository": {"name": "laravel-blog", "owner": {"name": "SPHTech", "login": "SPHTech"}}
}`

func delivery(t *testing.T, secret, kind, body string) *http.Request {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", kind)
	req.Header.Set("X-GitHub-Delivery", "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestHandler(t *testing.T) {
	secret := Secret("ghp_secret", "bira-pipeline")

	tests := []struct {
		name   string
		secret string
		kind   string
		branch string
		status int
		pushed int
	}{
		{name: "push on the pipeline branch", secret: secret, kind: "push", branch: "dev", status: http.StatusAccepted, pushed: 1},
		{name: "push on another branch", secret: secret, kind: "push", branch: "main", status: http.StatusNoContent},
		{name: "bad signature", secret: "not-the-secret", kind: "push", branch: "dev", status: http.StatusUnauthorized},
		{name: "ping", secret: secret, kind: "ping", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pusher := &fakePusher{branch: "dev"}
			h := NewHandler(secret, pusher, zerolog.Nop())

			body := `{"zen": "Keep it logically awesome."}`
			if tt.kind == "push" {
				body = strings.Replace(pushPayload, "%s", tt.branch, 1)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, delivery(t, tt.secret, tt.kind, body))
			h.Wait()

			assert.Equal(t, tt.status, rec.Code)
			require.Len(t, pusher.pushed, tt.pushed)
			if tt.pushed > 0 {
				assert.Equal(t, runner.PushEvent{
					Owner:  "SPHTech",
					Repo:   "laravel-blog",
					Ref:    "refs/heads/dev",
					Commit: "4f2c9a17b3e5d8c0",
				}, pusher.pushed[0])
			}
		})
	}
}

func TestSecretIsStable(t *testing.T) {
	assert.Equal(t, Secret("ghp_secret", "bira-pipeline"), Secret("ghp_secret", "bira-pipeline"))
	assert.NotEqual(t, Secret("ghp_secret", "bira-pipeline"), Secret("ghp_secret", "other-pipeline"))
	assert.NotEqual(t, Secret("ghp_", "secretbira-pipeline"), Secret("ghp_secret", "bira-pipeline"))
}

func TestPushDeploysThroughRunner(t *testing.T) {
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
	plan, err := pipeline.Assemble(cfg)
	require.NoError(t, err)
	roles, err := policy.Derive(plan)
	require.NoError(t, err)

	repo := runner.NewMemoryRepository()
	repo.Commit("SPHTech", "laravel-blog", "dev", "4f2c9a17b3e5d8c0", map[string]string{"Dockerfile": "FROM php:7.3-apache-stretch\n"})
	service := runner.NewMemoryService(map[string]string{"web": cfg.Service.Image})
	r, err := runner.New(plan, roles,
		runner.WithExecutor(pipeline.ProviderGitHub, runner.SourceExecutor{Repository: repo}),
		runner.WithExecutor(pipeline.ProviderCodeBuild, runner.BuildExecutor{Builder: runner.ImageBuilder{Registry: &runner.MemoryRegistry{}}}),
		runner.WithExecutor(pipeline.ProviderECS, runner.DeployExecutor{Service: service}),
	)
	require.NoError(t, err)

	secret := Secret(cfg.Pipeline.Source.Token, plan.Name)
	h := NewHandler(secret, r, zerolog.Nop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, delivery(t, secret, "push", strings.Replace(pushPayload, "%s", "dev", 1)))
	h.Wait()

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "123456789012.dkr.ecr.ap-southeast-1.amazonaws.com/laravel-blog:4f2c9a1", service.Image("web"))
	require.Len(t, r.Executions(), 1)
	assert.Equal(t, runner.StatusSucceeded, r.Executions()[0].Status)
}
