// Package engine decides, with OPA Rego, which gated actions an operator role may request.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	gatedomain "kallied-admin/backend/internal/gate/domain"
	"kallied-admin/backend/internal/policy/domain"
	"kallied-admin/backend/internal/policy/repository"
)

const decisionQuery = "allow = data.kallied.gate.allow; deny = data.kallied.gate.deny"

// Built-in gate policy. ADMIN may request every kind, MANAGER the edit and status kinds.
// Custom modules in the same package add base_allow grants or deny reasons.
const defaultRegoPolicy = `package kallied.gate

default allow = false

allow if {
	base_allow
	count(deny) == 0
}

base_allow if input.role == "ADMIN"

base_allow if {
	input.role == "MANAGER"
	input.kind in {"edit-user", "disable-user", "enable-user"}
}

deny contains "role is required" if input.role == ""
`

// ErrInvalidPolicy is wrapped by Validate failures.
var ErrInvalidPolicy = errors.New("invalid policy")

// Input is the document the policy sees.
type Input struct {
	Role     string `json:"role"`
	Kind     string `json:"kind"`
	TargetID string `json:"target_id,omitempty"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allow bool     `json:"allow"`
	Deny  []string `json:"deny,omitempty"`
}

// OPAEvaluator evaluates the gate policy plus enabled custom policies.
type OPAEvaluator struct {
	policyRepo repository.Repository
	logger     *zap.Logger

	mu       sync.Mutex
	key      string
	prepared *rego.PreparedEvalQuery
}

// NewOPAEvaluator returns an evaluator. policyRepo may be nil, in which case only the built-in
// policy applies.
func NewOPAEvaluator(policyRepo repository.Repository, logger *zap.Logger) *OPAEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OPAEvaluator{policyRepo: policyRepo, logger: logger}
}

// HealthCheck verifies that the in-process engine can compile and evaluate the built-in policy.
// Does not call the policy repo or database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	pq, err := prepare(ctx, nil)
	if err != nil {
		return err
	}
	d, err := eval(ctx, pq, Input{Role: "ADMIN", Kind: string(gatedomain.ActionDisableUser)})
	if err != nil {
		return err
	}
	if !d.Allow {
		return errors.New("default policy denied ADMIN")
	}
	return nil
}

// AllowAction reports whether role may request kind. Errors mean no decision could be made and
// callers must treat them as a denial.
func (e *OPAEvaluator) AllowAction(ctx context.Context, role string, kind gatedomain.ActionKind) (bool, error) {
	d, err := e.Evaluate(ctx, Input{Role: role, Kind: string(kind)})
	if err != nil {
		return false, err
	}
	return d.Allow, nil
}

// Evaluate runs the policy for in.
func (e *OPAEvaluator) Evaluate(ctx context.Context, in Input) (Decision, error) {
	pq, err := e.preparedFor(ctx)
	if err != nil {
		return Decision{}, err
	}
	return eval(ctx, pq, in)
}

// Validate compiles rules together with the built-in policy.
func (e *OPAEvaluator) Validate(ctx context.Context, rules string) error {
	mod, err := ast.ParseModule("custom.rego", rules)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if mod == nil || mod.Package.Path.String() != "data."+domain.Package {
		return fmt.Errorf("%w: module must declare package %s", ErrInvalidPolicy, domain.Package)
	}
	if _, err := prepare(ctx, []string{rules}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return nil
}

// preparedFor returns the compiled query for the currently enabled policies, recompiling only when
// they change. A repo failure falls back to the built-in policy.
func (e *OPAEvaluator) preparedFor(ctx context.Context) (*rego.PreparedEvalQuery, error) {
	var custom []string
	if e.policyRepo != nil {
		enabled, err := e.policyRepo.ListEnabled(ctx)
		if err != nil {
			e.logger.Warn("policy: failed to load policies, using built-in policy", zap.Error(err))
		}
		for _, p := range enabled {
			if p.Enabled && p.Rules != "" {
				custom = append(custom, p.Rules)
			}
		}
	}
	key := fingerprint(custom)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepared != nil && e.key == key {
		return e.prepared, nil
	}
	pq, err := prepare(ctx, custom)
	if err != nil {
		return nil, err
	}
	e.key, e.prepared = key, pq
	return pq, nil
}

func prepare(ctx context.Context, custom []string) (*rego.PreparedEvalQuery, error) {
	modules := map[string]string{"policy_0.rego": defaultRegoPolicy}
	for i, rules := range custom {
		modules[fmt.Sprintf("policy_%d.rego", i+1)] = rules
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	pq, err := rego.New(rego.Query(decisionQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy query: %w", err)
	}
	return &pq, nil
}

func eval(ctx context.Context, pq *rego.PreparedEvalQuery, in Input) (Decision, error) {
	rs, err := pq.Eval(ctx, rego.EvalInput(map[string]any{
		"role":      in.Role,
		"kind":      in.Kind,
		"target_id": in.TargetID,
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 {
		return Decision{}, errors.New("policy query returned no result")
	}
	var d Decision
	d.Allow, _ = rs[0].Bindings["allow"].(bool)
	if reasons, ok := rs[0].Bindings["deny"].([]any); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				d.Deny = append(d.Deny, s)
			}
		}
	}
	return d, nil
}

func fingerprint(custom []string) string {
	h := sha256.New()
	for _, c := range custom {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
