package plugin

import (
	"context"

	"github.com/cassiomorais/cashier/internal/domain/payment"
)

// Funcs builds a plugin from plain functions. Nil fields are no-ops.
type Funcs struct {
	PluginName   string
	Placement    Enforce
	BeforePay    func(ctx context.Context, st *State) error
	BeforeSign   func(ctx context.Context, st *State) error
	AfterSign    func(ctx context.Context, st *State) error
	BeforeInvoke func(ctx context.Context, st *State) error
	StateChange  func(ctx context.Context, st *State, result payment.PayResult) error
	Success      func(ctx context.Context, st *State, result payment.PayResult) error
	Fail         func(ctx context.Context, st *State, result payment.PayResult, cause error) error
	Completed    func(ctx context.Context, st *State) error
}

func (f *Funcs) Name() string     { return f.PluginName }
func (f *Funcs) Enforce() Enforce { return f.Placement }

func (f *Funcs) OnBeforePay(ctx context.Context, st *State) error {
	if f.BeforePay == nil {
		return nil
	}
	return f.BeforePay(ctx, st)
}

func (f *Funcs) OnBeforeSign(ctx context.Context, st *State) error {
	if f.BeforeSign == nil {
		return nil
	}
	return f.BeforeSign(ctx, st)
}

func (f *Funcs) OnAfterSign(ctx context.Context, st *State) error {
	if f.AfterSign == nil {
		return nil
	}
	return f.AfterSign(ctx, st)
}

func (f *Funcs) OnBeforeInvoke(ctx context.Context, st *State) error {
	if f.BeforeInvoke == nil {
		return nil
	}
	return f.BeforeInvoke(ctx, st)
}

func (f *Funcs) OnStateChange(ctx context.Context, st *State, result payment.PayResult) error {
	if f.StateChange == nil {
		return nil
	}
	return f.StateChange(ctx, st, result)
}

func (f *Funcs) OnSuccess(ctx context.Context, st *State, result payment.PayResult) error {
	if f.Success == nil {
		return nil
	}
	return f.Success(ctx, st, result)
}

func (f *Funcs) OnFail(ctx context.Context, st *State, result payment.PayResult, cause error) error {
	if f.Fail == nil {
		return nil
	}
	return f.Fail(ctx, st, result, cause)
}

func (f *Funcs) OnCompleted(ctx context.Context, st *State) error {
	if f.Completed == nil {
		return nil
	}
	return f.Completed(ctx, st)
}
