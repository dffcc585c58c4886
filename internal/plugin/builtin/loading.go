package builtin

import (
	"context"

	"github.com/cassiomorais/cashier/internal/plugin"
)

// Indicator is a UI busy indicator.
type Indicator interface {
	Show()
	Hide()
}

// Loading shows the indicator for the whole execution; onCompleted hides it whatever the outcome.
type Loading struct {
	indicator Indicator
}

func NewLoading(indicator Indicator) *Loading {
	return &Loading{indicator: indicator}
}

func (p *Loading) Name() string { return "global-loading" }

func (p *Loading) OnBeforePay(context.Context, *plugin.State) error {
	p.indicator.Show()
	return nil
}

func (p *Loading) OnCompleted(context.Context, *plugin.State) error {
	p.indicator.Hide()
	return nil
}
