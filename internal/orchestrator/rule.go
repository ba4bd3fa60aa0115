package orchestrator

import (
	"fmt"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultMitigationRule forwards a mitigation request for critical scores or
// records flagged for immediate response.
const DefaultMitigationRule = "score >= 80 || immediate"

// Rule is a compiled boolean expression over a high-risk detection.
//
// Available variables: score (float), immediate (bool), entity_id (string),
// entity_type (string).
type Rule struct {
	source  string
	program *vm.Program
}

func ruleEnv(hr models.HighRiskDetected) map[string]any {
	return map[string]any{
		"score":       hr.Score,
		"immediate":   hr.Immediate,
		"entity_id":   hr.EntityID,
		"entity_type": string(hr.EntityType),
	}
}

// CompileRule compiles src. An empty src compiles DefaultMitigationRule.
func CompileRule(src string) (*Rule, error) {
	if src == "" {
		src = DefaultMitigationRule
	}
	program, err := expr.Compile(src, expr.Env(ruleEnv(models.HighRiskDetected{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile mitigation rule %q: %w", src, err)
	}
	return &Rule{source: src, program: program}, nil
}

// Match evaluates the rule against a detection.
func (r *Rule) Match(hr models.HighRiskDetected) (bool, error) {
	out, err := expr.Run(r.program, ruleEnv(hr))
	if err != nil {
		return false, fmt.Errorf("evaluate mitigation rule: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (r *Rule) String() string { return r.source }
