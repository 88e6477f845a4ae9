package main

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
)

// roleNames are the IAM role names for each pipeline role.
var roleNames = map[pipeline.RoleName]string{
	pipeline.RoleBuild:    "CodeBuildServiceRole",
	pipeline.RolePipeline: "CodePipelineServiceRole",
}

// scopeArns resolves each symbolic scope to the ARNs it covers.
type scopeArns map[policy.Scope][]pulumi.StringInput

type PipelineRoles struct {
	roles map[pipeline.RoleName]*iam.Role
}

func (p *PipelineRoles) arn(name pipeline.RoleName) pulumi.StringOutput {
	return p.roles[name].Arn
}

// NewPipelineRoles declares one IAM role per derived role. Role policies are
// attached separately by attachPolicies once every scope can be resolved,
// since the pipeline role's scopes include the build role itself.
func NewPipelineRoles(ctx *pulumi.Context, roles []policy.Role) (*PipelineRoles, error) {
	out := &PipelineRoles{roles: map[pipeline.RoleName]*iam.Role{}}
	for _, role := range roles {
		name, ok := roleNames[role.Name]
		if !ok {
			return nil, fmt.Errorf("Error creating role: no IAM name for role %q", role.Name)
		}
		assumeRolePolicy, err := iam.GetPolicyDocument(ctx, &iam.GetPolicyDocumentArgs{
			Statements: []iam.GetPolicyDocumentStatement{
				{
					Actions: []string{"sts:AssumeRole"},
					Principals: []iam.GetPolicyDocumentStatementPrincipal{
						{Type: "Service", Identifiers: []string{role.Principal}},
					},
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("Error creating AssumeRolePolicy for %s: %w", name, err)
		}
		out.roles[role.Name], err = iam.NewRole(ctx, name, &iam.RoleArgs{
			Name:             pulumi.String(name),
			AssumeRolePolicy: pulumi.String(assumeRolePolicy.Json),
		})
		if err != nil {
			return nil, fmt.Errorf("Error creating role %s: %w", name, err)
		}
	}
	return out, nil
}

// attachPolicies attaches one inline policy per role with every scope
// resolved to concrete ARNs.
func (p *PipelineRoles) attachPolicies(ctx *pulumi.Context, roles []policy.Role, arns scopeArns) ([]pulumi.Resource, error) {
	var attached []pulumi.Resource
	for _, role := range roles {
		doc, err := policyDocument(role, arns)
		if err != nil {
			return nil, err
		}
		name := roleNames[role.Name]
		rp, err := iam.NewRolePolicy(ctx, name+"-policy", &iam.RolePolicyArgs{
			Role:   p.roles[role.Name].ID(),
			Policy: pulumi.JSONMarshal(doc),
		})
		if err != nil {
			return nil, fmt.Errorf("Error creating policy for %s: %w", name, err)
		}
		attached = append(attached, rp)
	}
	return attached, nil
}

func policyDocument(role policy.Role, arns scopeArns) (map[string]interface{}, error) {
	statements := []interface{}{}
	for _, s := range role.Statements {
		var resources []interface{}
		for _, scope := range s.Resources {
			resolved, ok := arns[scope]
			if !ok {
				return nil, fmt.Errorf("Error creating policy for %s: scope %q has no ARN", role.Name, scope)
			}
			for _, arn := range resolved {
				if arn == pulumi.String("*") && scope != policy.ScopeAny {
					return nil, fmt.Errorf("Error creating policy for %s: scope %q resolves to every resource", role.Name, scope)
				}
				resources = append(resources, arn)
			}
		}
		statements = append(statements, map[string]interface{}{
			"Sid":      s.Sid,
			"Effect":   "Allow",
			"Action":   s.Actions,
			"Resource": resources,
		})
	}
	return map[string]interface{}{
		"Version":   "2012-10-17",
		"Statement": statements,
	}, nil
}
