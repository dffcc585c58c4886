// Package plugin runs cross-cutting hooks at the fixed lifecycle stages of a payment.
package plugin

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/google/uuid"
)

// Enforce places a plugin in the pre, default or post group. Groups run in that order.
type Enforce string

const (
	EnforceNone Enforce = ""
	EnforcePre  Enforce = "pre"
	EnforcePost Enforce = "post"
)

// Plugin is identified by a name unique within a driver. It opts into hooks by
// implementing any of the hook interfaces below.
type Plugin interface {
	Name() string
}

// Enforcer is implemented by plugins that must run in a specific group.
type Enforcer interface {
	Enforce() Enforce
}

type BeforePayHook interface {
	OnBeforePay(ctx context.Context, st *State) error
}

type BeforeSignHook interface {
	OnBeforeSign(ctx context.Context, st *State) error
}

type AfterSignHook interface {
	OnAfterSign(ctx context.Context, st *State) error
}

type BeforeInvokeHook interface {
	OnBeforeInvoke(ctx context.Context, st *State) error
}

// StateChangeHook observes non-terminal results, from execution and from every poll tick.
type StateChangeHook interface {
	OnStateChange(ctx context.Context, st *State, result payment.PayResult) error
}

type SuccessHook interface {
	OnSuccess(ctx context.Context, st *State, result payment.PayResult) error
}

// FailHook receives the fail- or cancel-shaped result and the error that caused it, if any.
type FailHook interface {
	OnFail(ctx context.Context, st *State, result payment.PayResult, cause error) error
}

type CompletedHook interface {
	OnCompleted(ctx context.Context, st *State) error
}

// Hook identifies a lifecycle stage.
type Hook int

const (
	HookBeforePay Hook = iota
	HookBeforeSign
	HookAfterSign
	HookBeforeInvoke
	HookStateChange
	HookSuccess
	HookFail
	HookCompleted
)

// Hooks lists every stage in execution order.
var Hooks = []Hook{
	HookBeforePay,
	HookBeforeSign,
	HookAfterSign,
	HookBeforeInvoke,
	HookStateChange,
	HookSuccess,
	HookFail,
	HookCompleted,
}

var hookNames = [...]string{
	"onBeforePay",
	"onBeforeSign",
	"onAfterSign",
	"onBeforeInvoke",
	"onStateChange",
	"onSuccess",
	"onFail",
	"onCompleted",
}

func (h Hook) String() string {
	if h < 0 || int(h) >= len(hookNames) {
		return "unknown"
	}
	return hookNames[h]
}

// Gating reports whether the hook runs before the strategy and may stop the pipeline.
func (h Hook) Gating() bool {
	return h <= HookBeforeInvoke
}

// Event carries the arguments of settlement hooks.
type Event struct {
	Result payment.PayResult
	Cause  error
}

// State is the per-execution context shared by plugins. It is owned by one execution
// or one polling session at a time.
type State struct {
	ID            uuid.UUID
	Channel       payment.Channel
	Params        payment.PayParams
	Values        map[string]any
	CurrentStatus payment.Status
	Result        *payment.PayResult
	Err           error
	StartedAt     time.Time

	mu          sync.Mutex
	aborted     bool
	abortReason string
	ctx         context.Context
}

func NewState(channel payment.Channel, params payment.PayParams) *State {
	return &State{
		ID:            uuid.New(),
		Channel:       channel,
		Params:        params.Clone(),
		Values:        make(map[string]any),
		CurrentStatus: payment.StatusPending,
		StartedAt:     time.Now(),
	}
}

// Resume starts a new state that inherits the values of a previous snapshot.
func Resume(channel payment.Channel, orderID string, values map[string]any) *State {
	st := NewState(channel, payment.PayParams{OrderID: orderID})
	maps.Copy(st.Values, values)
	return st
}

// Abort asks the driver to stop the pipeline with PLUGIN_INTERRUPT.
func (s *State) Abort(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.abortReason = reason
}

func (s *State) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *State) AbortReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortReason
}

// WithContext hands a derived context, such as one carrying a span, to the strategy call
// and the hooks that follow it.
func (s *State) WithContext(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
}

// Context returns the context set with WithContext, or parent when none was set.
func (s *State) Context(parent context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return parent
	}
	return s.ctx
}

// Snapshot copies the values bag.
func (s *State) Snapshot() map[string]any {
	return maps.Clone(s.Values)
}

// SetResult records the latest observed result.
func (s *State) SetResult(r payment.PayResult) {
	s.Result = &r
	s.CurrentStatus = r.Status
}
