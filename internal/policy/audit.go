package policy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"pulumi-ecs-pipeline/internal/pipeline"
)

//go:embed audit.rego
var auditModule string

// ErrPolicyViolation is returned by Check when a role is over- or under-scoped.
var ErrPolicyViolation = errors.New("least-privilege policy violation")

type AuditResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

// Auditor compares role grants with the grants a plan requires.
type Auditor struct {
	violations rego.PreparedEvalQuery
}

func NewAuditor(ctx context.Context) (*Auditor, error) {
	query, err := rego.New(
		rego.Query("data.pipeline.iam.violations"),
		rego.Module("audit.rego", auditModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare audit query: %w", err)
	}
	return &Auditor{violations: query}, nil
}

// Audit reports every granted operation no action needs and every needed
// operation that is not granted.
func (a *Auditor) Audit(ctx context.Context, plan *pipeline.Plan, roles []Role) (*AuditResult, error) {
	required, err := Derive(plan)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"granted":  statementsByRole(roles),
		"required": statementsByRole(required),
	}

	results, err := a.violations.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate audit policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &AuditResult{
			Allowed:    false,
			Violations: []string{"audit policy returned no results"},
		}, nil
	}

	var violations []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				violations = append(violations, s)
			}
		}
	case map[string]any:
		for s := range v {
			violations = append(violations, s)
		}
	}
	sort.Strings(violations)

	return &AuditResult{
		Allowed:    len(violations) == 0,
		Violations: violations,
	}, nil
}

// Check runs Audit and turns violations into an error.
func (a *Auditor) Check(ctx context.Context, plan *pipeline.Plan, roles []Role) error {
	result, err := a.Audit(ctx, plan, roles)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", ErrPolicyViolation, strings.Join(result.Violations, "; "))
	}
	return nil
}

func statementsByRole(roles []Role) map[string]any {
	out := map[string]any{}
	for _, role := range roles {
		statements := []any{}
		for _, s := range role.Statements {
			actions := make([]any, 0, len(s.Actions))
			for _, op := range s.Actions {
				actions = append(actions, op)
			}
			resources := make([]any, 0, len(s.Resources))
			for _, scope := range s.Resources {
				resources = append(resources, string(scope))
			}
			statements = append(statements, map[string]any{
				"actions":   actions,
				"resources": resources,
			})
		}
		out[string(role.Name)] = statements
	}
	return out
}
