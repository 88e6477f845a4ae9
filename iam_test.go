package main

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
)

func buildRole() policy.Role {
	return policy.Role{
		Name:      pipeline.RoleBuild,
		Principal: "codebuild.amazonaws.com",
		Statements: []policy.Statement{
			{Sid: "AnyResource", Actions: []string{"ecr:GetAuthorizationToken"}, Resources: []policy.Scope{policy.ScopeAny}},
			{Sid: "Registry", Actions: []string{"ecr:PutImage"}, Resources: []policy.Scope{policy.ScopeRegistry}},
		},
	}
}

func TestPolicyDocument(t *testing.T) {
	tests := []struct {
		name    string
		arns    scopeArns
		wantErr string
	}{
		{
			name: "every scope resolved",
			arns: scopeArns{
				policy.ScopeAny:      {pulumi.String("*")},
				policy.ScopeRegistry: {pulumi.String("arn:aws:ecr:ap-southeast-1:123456789012:repository/laravel-blog")},
			},
		},
		{
			name:    "unresolved scope",
			arns:    scopeArns{policy.ScopeAny: {pulumi.String("*")}},
			wantErr: `scope "registry" has no ARN`,
		},
		{
			name: "scope widened to every resource",
			arns: scopeArns{
				policy.ScopeAny:      {pulumi.String("*")},
				policy.ScopeRegistry: {pulumi.String("*")},
			},
			wantErr: `scope "registry" resolves to every resource`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := policyDocument(buildRole(), tt.arns)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			statements := doc["Statement"].([]interface{})
			require.Len(t, statements, 2)
			assert.Equal(t, []interface{}{tt.arns[policy.ScopeRegistry][0]}, statements[1].(map[string]interface{})["Resource"])
		})
	}
}
