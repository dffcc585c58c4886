// Package builtin holds the plugins shipped with the cashier.
package builtin

import (
	"context"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/eventbus"
	"github.com/cassiomorais/cashier/internal/plugin"
)

const EventBridgeName = "sys-event-bridge"

// EventBridge republishes pipeline stages on the event bus. It sits in the post group, so a
// pre or default plugin that aborts a gating hook stops the stage before it is announced.
type EventBridge struct {
	bus *eventbus.Bus
}

func NewEventBridge(bus *eventbus.Bus) *EventBridge {
	return &EventBridge{bus: bus}
}

func (p *EventBridge) Name() string            { return EventBridgeName }
func (p *EventBridge) Enforce() plugin.Enforce { return plugin.EnforcePost }

func (p *EventBridge) OnBeforePay(_ context.Context, st *plugin.State) error {
	eventbus.Emit(p.bus, eventbus.BeforePay, st.Params)
	return nil
}

func (p *EventBridge) OnBeforeInvoke(_ context.Context, st *plugin.State) error {
	eventbus.Emit(p.bus, eventbus.PayStart, eventbus.PayStartEvent{Channel: st.Channel})
	return nil
}

func (p *EventBridge) OnStateChange(_ context.Context, _ *plugin.State, result payment.PayResult) error {
	eventbus.Emit(p.bus, eventbus.StatusChange, eventbus.StatusChangeEvent{Status: result.Status, Result: result})
	return nil
}

func (p *EventBridge) OnSuccess(_ context.Context, _ *plugin.State, result payment.PayResult) error {
	eventbus.Emit(p.bus, eventbus.Success, result)
	return nil
}

func (p *EventBridge) OnFail(_ context.Context, _ *plugin.State, result payment.PayResult, _ error) error {
	if result.Status == payment.StatusCancel {
		eventbus.Emit(p.bus, eventbus.Cancel, result)
		return nil
	}
	eventbus.Emit(p.bus, eventbus.Fail, result)
	return nil
}
