// Package cashier is the payment orchestrator: it owns the strategies, plugins, event bus,
// backend client and invoker factory, and runs the execution pipeline.
package cashier

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/eventbus"
	"github.com/cassiomorais/cashier/internal/invoker"
	"github.com/cassiomorais/cashier/internal/plugin"
	"github.com/cassiomorais/cashier/internal/plugin/builtin"
	"github.com/cassiomorais/cashier/internal/polling"
	"github.com/cassiomorais/cashier/internal/strategy"
	"github.com/cassiomorais/cashier/internal/transport"
	"github.com/rs/zerolog"
)

type (
	Diagnostic      = plugin.Diagnostic
	DiagnosticsFunc = plugin.DiagnosticsFunc
)

// gating hooks run before the strategy, in this order
var gating = []plugin.Hook{
	plugin.HookBeforePay,
	plugin.HookBeforeSign,
	plugin.HookAfterSign,
	plugin.HookBeforeInvoke,
}

type Context struct {
	driver      *plugin.Driver
	bus         *eventbus.Bus
	http        transport.Client
	invokers    *invoker.Factory
	env         invoker.Environment
	invokerType invoker.Type
	logger      zerolog.Logger
	report      DiagnosticsFunc
	pollingOpts []polling.Option
	polling     *polling.Manager

	mu         sync.RWMutex
	strategies map[payment.Channel]strategy.Strategy
	lastState  map[string]any
}

var _ strategy.Host = (*Context)(nil)

type Option func(*Context)

// WithHTTP sets the merchant backend client shared by all strategies.
func WithHTTP(c transport.Client) Option {
	return func(x *Context) { x.http = c }
}

// WithInvokers replaces the invoker factory. WithEnvironment is ignored when it is set.
func WithInvokers(f *invoker.Factory) Option {
	return func(x *Context) { x.invokers = f }
}

// WithEnvironment supplies the host capabilities the default invoker factory probes.
func WithEnvironment(env invoker.Environment) Option {
	return func(x *Context) { x.env = env }
}

// WithInvokerType forces an invoker instead of auto-detecting one.
func WithInvokerType(t invoker.Type) Option {
	return func(x *Context) { x.invokerType = t }
}

func WithLogger(l zerolog.Logger) Option {
	return func(x *Context) { x.logger = l }
}

// WithDiagnostics receives settlement hook failures from executions and polling sessions.
func WithDiagnostics(fn DiagnosticsFunc) Option {
	return func(x *Context) { x.report = fn }
}

func WithPollingOptions(opts ...polling.Option) Option {
	return func(x *Context) { x.pollingOpts = append(x.pollingOpts, opts...) }
}

func New(opts ...Option) *Context {
	x := &Context{
		logger:     zerolog.Nop(),
		strategies: make(map[payment.Channel]strategy.Strategy),
	}
	for _, o := range opts {
		o(x)
	}
	if x.invokers == nil {
		x.invokers = invoker.NewFactory(x.env, invoker.WithLogger(x.logger))
	}
	x.bus = eventbus.New(x.logger)
	x.driver = plugin.NewDriver(x.logger)
	// cannot fail on an empty driver
	_ = x.driver.Use(builtin.NewEventBridge(x.bus))

	pollingOpts := append([]polling.Option{
		polling.WithLogger(x.logger),
		polling.WithDiagnostics(x.diagnose),
	}, x.pollingOpts...)
	x.polling = polling.NewManager(x.driver, pollingOpts...)
	return x
}

// Register stores s under its channel and binds it to this context. A second strategy
// for the same channel replaces the first.
func (x *Context) Register(s strategy.Strategy) {
	channel := s.Channel()

	x.mu.Lock()
	if _, exists := x.strategies[channel]; exists {
		x.logger.Warn().Str("channel", string(channel)).Msg("Strategy overwritten")
	}
	x.strategies[channel] = s
	x.mu.Unlock()

	s.Bind(x)
}

// Use installs a plugin. Pre-enforced plugins run before all others.
func (x *Context) Use(p plugin.Plugin) error {
	return x.driver.Use(p)
}

func (x *Context) Strategy(channel payment.Channel) (strategy.Strategy, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s, ok := x.strategies[channel]
	return s, ok
}

// Channels lists registered channels in name order.
func (x *Context) Channels() []payment.Channel {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Sorted(maps.Keys(x.strategies))
}

func (x *Context) lookup(channel payment.Channel) (strategy.Strategy, error) {
	s, ok := x.Strategy(channel)
	if !ok {
		return nil, domainErrors.Wrap(domainErrors.KindInvalidConfig,
			fmt.Sprintf("strategy %q not registered", channel),
			domainErrors.ErrChannelNotRegistered).WithChannel(string(channel))
	}
	return s, nil
}

// Execute runs one payment through the pipeline.
//
// A strategy failure is returned as a fail-shaped result with a nil error. An unregistered
// channel returns INVALID_CONFIG with no result. A plugin that aborts or fails before the
// strategy runs returns both the settled result and the error; Pay is never called then.
// onCompleted runs exactly once whenever a state was created.
func (x *Context) Execute(ctx context.Context, channel payment.Channel, params payment.PayParams) (payment.PayResult, error) {
	s, err := x.lookup(channel)
	if err != nil {
		return payment.PayResult{}, err
	}

	st := plugin.NewState(channel, params)
	log := x.logger.With().Str("execution_id", st.ID.String()).Str("channel", string(channel)).Logger()
	defer func() {
		x.driver.Settle(ctx, plugin.HookCompleted, st, plugin.Event{}, x.diagnose)
		x.saveState(st)
	}()

	for _, hook := range gating {
		if err := x.driver.Implant(ctx, hook, st, plugin.Event{}); err != nil {
			res := payment.FromError(err)
			st.SetResult(res)
			st.Err = err
			if domainErrors.IsSilent(err) {
				log.Info().Err(err).Str("hook", hook.String()).Msg("Execution interrupted by plugin")
			} else {
				log.Error().Err(err).Str("hook", hook.String()).Msg("Execution aborted by plugin")
			}
			x.driver.Settle(ctx, plugin.HookFail, st, plugin.Event{Result: res, Cause: err}, x.diagnose)
			return res, err
		}
	}

	ctx = st.Context(ctx)
	res := x.pay(ctx, s, st, log)
	st.SetResult(res)
	x.driver.Settle(ctx, plugin.HookStateChange, st, plugin.Event{Result: res}, x.diagnose)

	switch res.Status {
	case payment.StatusSuccess:
		x.driver.Settle(ctx, plugin.HookSuccess, st, plugin.Event{Result: res}, x.diagnose)
	case payment.StatusFail, payment.StatusCancel:
		x.driver.Settle(ctx, plugin.HookFail, st, plugin.Event{Result: res}, x.diagnose)
	}

	log.Debug().Str("status", string(res.Status)).Msg("Execution finished")
	return res, nil
}

// pay runs the strategy, turning a panic into an INVOKE_FAILED result.
func (x *Context) pay(ctx context.Context, s strategy.Strategy, st *plugin.State, log zerolog.Logger) (res payment.PayResult) {
	defer func() {
		if rec := recover(); rec != nil {
			err := domainErrors.Wrap(domainErrors.KindInvokeFailed, "strategy panicked", fmt.Errorf("panic: %v", rec)).
				WithChannel(string(s.Channel()))
			log.Error().Err(err).Msg("Strategy panicked")
			res = payment.FromError(err)
		}
	}()
	return s.Pay(ctx, st.Params, x.http, x.invokerType)
}

// StartPolling stops any active session and polls the channel's strategy for orderID.
// The session inherits the values left by the last execution.
func (x *Context) StartPolling(ctx context.Context, channel payment.Channel, orderID string) (*polling.Session, error) {
	s, err := x.lookup(channel)
	if err != nil {
		return nil, err
	}
	return x.polling.Start(ctx, channel, s, orderID, x.LastState())
}

// StopPolling is safe to call at any time, any number of times.
func (x *Context) StopPolling() {
	x.polling.Stop()
}

func (x *Context) PollingPhase() polling.Phase {
	return x.polling.Phase()
}

// LastState is a copy of the values bag left by the most recent execution.
func (x *Context) LastState() map[string]any {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return maps.Clone(x.lastState)
}

func (x *Context) saveState(st *plugin.State) {
	snap := st.Snapshot()
	x.mu.Lock()
	x.lastState = snap
	x.mu.Unlock()
}

func (x *Context) diagnose(d Diagnostic) {
	if x.report != nil {
		x.report(d)
	}
}

func (x *Context) Bus() *eventbus.Bus         { return x.bus }
func (x *Context) HTTP() transport.Client     { return x.http }
func (x *Context) Invokers() *invoker.Factory { return x.invokers }
func (x *Context) Logger() zerolog.Logger     { return x.logger }
func (x *Context) Plugins() []plugin.Plugin   { return x.driver.Plugins() }
func (x *Context) InvokerType() invoker.Type  { return x.invokerType }

// Close stops polling and drops every event subscription.
func (x *Context) Close() {
	x.polling.Stop()
	x.bus.Clear()
}
