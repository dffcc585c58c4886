package builtin

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/Knetic/govaluate"
	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/plugin"
)

// Rule blocks a payment when Expression evaluates to true. Expressions see amount, currency,
// channel, order_id, and every scalar in params.extra.
type Rule struct {
	Name       string
	Expression string
}

type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// Guard rejects risky payments with RISK_CONTROL before anything reaches the backend.
type Guard struct {
	rules []compiledRule
}

func NewGuard(rules []Rule) (*Guard, error) {
	g := &Guard{}
	for _, r := range rules {
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, domainErrors.Wrap(domainErrors.KindInvalidConfig, fmt.Sprintf("invalid guard rule %q", r.Name), err)
		}
		g.rules = append(g.rules, compiledRule{name: r.Name, expr: expr})
	}
	return g, nil
}

// RulesFromMap orders config-provided rules by name.
func RulesFromMap(m map[string]string) []Rule {
	out := make([]Rule, 0, len(m))
	for _, name := range slices.Sorted(maps.Keys(m)) {
		out = append(out, Rule{Name: name, Expression: m[name]})
	}
	return out
}

func (p *Guard) Name() string { return "risk-guard" }

func (p *Guard) OnBeforePay(_ context.Context, st *plugin.State) error {
	params := map[string]any{}
	for k, v := range st.Params.Extra {
		switch v.(type) {
		case string, bool, float64, float32, int, int32, int64:
			params[k] = v
		}
	}
	params["amount"] = float64(st.Params.Amount)
	params["currency"] = st.Params.Currency
	params["channel"] = string(st.Channel)
	params["order_id"] = st.Params.OrderID

	for _, r := range p.rules {
		out, err := r.expr.Evaluate(params)
		if err != nil {
			return fmt.Errorf("evaluate rule %s: %w", r.name, err)
		}
		blocked, ok := out.(bool)
		if !ok {
			return fmt.Errorf("rule %s returned %T, want bool", r.name, out)
		}
		if blocked {
			return domainErrors.New(domainErrors.KindRiskControl, "payment blocked by rule "+r.name).WithChannel(string(st.Channel))
		}
	}
	return nil
}
