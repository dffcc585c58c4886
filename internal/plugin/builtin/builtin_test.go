package builtin

import (
	"context"
	"errors"
	"testing"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/eventbus"
	"github.com/cassiomorais/cashier/internal/infrastructure/observability"
	"github.com/cassiomorais/cashier/internal/plugin"
	"github.com/cassiomorais/cashier/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newState() *plugin.State {
	return plugin.NewState(payment.ChannelWechat, testutil.NewTestParams(100))
}

func TestEventBridge_EmitsPerStage(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	var got []string
	eventbus.On(bus, eventbus.BeforePay, func(payment.PayParams) { got = append(got, "beforePay") })
	eventbus.On(bus, eventbus.PayStart, func(e eventbus.PayStartEvent) { got = append(got, "payStart:"+string(e.Channel)) })
	eventbus.On(bus, eventbus.StatusChange, func(e eventbus.StatusChangeEvent) { got = append(got, "status:"+string(e.Status)) })
	eventbus.On(bus, eventbus.Success, func(payment.PayResult) { got = append(got, "success") })
	eventbus.On(bus, eventbus.Fail, func(payment.PayResult) { got = append(got, "fail") })
	eventbus.On(bus, eventbus.Cancel, func(payment.PayResult) { got = append(got, "cancel") })

	p := NewEventBridge(bus)
	st := newState()
	ctx := context.Background()

	require.NoError(t, p.OnBeforePay(ctx, st))
	require.NoError(t, p.OnBeforeInvoke(ctx, st))
	require.NoError(t, p.OnStateChange(ctx, st, payment.Pending("", nil, nil)))
	require.NoError(t, p.OnSuccess(ctx, st, payment.Success("T1", nil)))
	require.NoError(t, p.OnFail(ctx, st, payment.Fail("no", nil), nil))
	require.NoError(t, p.OnFail(ctx, st, payment.Cancel("user", nil), nil))

	assert.Equal(t, []string{"beforePay", "payStart:wechat", "status:pending", "success", "fail", "cancel"}, got)
	assert.Equal(t, plugin.EnforcePost, p.Enforce())
}

func TestAuth_InjectsToken(t *testing.T) {
	p := NewAuth(func(context.Context) (string, bool, error) { return "tok", true, nil })
	st := newState()
	st.Params.Extra = map[string]any{"openid": "o1"}
	original := st.Params.Extra

	require.NoError(t, p.OnBeforePay(context.Background(), st))
	assert.Equal(t, "tok", st.Params.Extra["token"])
	assert.Equal(t, "o1", st.Params.Extra["openid"])
	assert.NotContains(t, original, "token")
	assert.False(t, st.Aborted())
	assert.Equal(t, plugin.EnforcePre, p.Enforce())
}

func TestAuth_AbortsWhenLoggedOut(t *testing.T) {
	redirected := false
	p := NewAuth(
		func(context.Context) (string, bool, error) { return "", false, nil },
		WithUnauthorized(func(context.Context, *plugin.State) { redirected = true }),
	)
	st := newState()

	require.NoError(t, p.OnBeforePay(context.Background(), st))
	assert.True(t, redirected)
	assert.True(t, st.Aborted())
	assert.Equal(t, "user not logged in", st.AbortReason())
}

func TestAuth_TokenSourceError(t *testing.T) {
	boom := errors.New("session store down")
	p := NewAuth(func(context.Context) (string, bool, error) { return "", false, boom })
	assert.ErrorIs(t, p.OnBeforePay(context.Background(), newState()), boom)
}

type indicator struct{ shows, hides int }

func (i *indicator) Show() { i.shows++ }
func (i *indicator) Hide() { i.hides++ }

func TestLoading(t *testing.T) {
	ind := &indicator{}
	p := NewLoading(ind)
	st := newState()

	require.NoError(t, p.OnBeforePay(context.Background(), st))
	require.NoError(t, p.OnCompleted(context.Background(), st))
	assert.Equal(t, 1, ind.shows)
	assert.Equal(t, 1, ind.hides)
}

func TestLogger_RecordsStartTime(t *testing.T) {
	p := NewLogger(zerolog.Nop())
	st := newState()

	require.NoError(t, p.OnBeforePay(context.Background(), st))
	assert.Contains(t, st.Values, "logger.startTime")
	assert.NoError(t, p.OnSuccess(context.Background(), st, payment.Success("T1", nil)))
	assert.NoError(t, p.OnFail(context.Background(), st, payment.Cancel("user", nil), nil))
}

func TestMetrics_CountsExecution(t *testing.T) {
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	p := NewMetrics(m)
	st := newState()
	ctx := context.Background()

	require.NoError(t, p.OnBeforePay(ctx, st))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ActiveExecutions))

	require.NoError(t, p.OnStateChange(ctx, st, payment.Pending("", nil, nil)))
	require.NoError(t, p.OnSuccess(ctx, st, payment.Success("T1", nil)))
	require.NoError(t, p.OnCompleted(ctx, st))

	assert.Equal(t, 0.0, promtest.ToFloat64(m.ActiveExecutions))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.StatusChanges.WithLabelValues("wechat", "pending")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ExecutionsTotal.WithLabelValues("wechat", "success")))
	assert.Equal(t, 1, promtest.CollectAndCount(m.ExecutionDuration))
}

func TestMetrics_CompletedWithoutStartIsIgnored(t *testing.T) {
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	p := NewMetrics(m)
	st := newState()

	require.NoError(t, p.OnCompleted(context.Background(), st))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.ActiveExecutions))
	assert.Equal(t, 0, promtest.CollectAndCount(m.ExecutionDuration))
}

func TestTracing_SpanPerExecution(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	p := NewTracing(tp)
	st := newState()
	ctx := context.Background()

	require.NoError(t, p.OnBeforePay(ctx, st))
	require.NoError(t, p.OnBeforeInvoke(ctx, st))
	require.NoError(t, p.OnStateChange(ctx, st, payment.Pending("", nil, nil)))
	require.NoError(t, p.OnSuccess(ctx, st, payment.Success("T1", nil)))
	require.Empty(t, sr.Ended())
	require.NoError(t, p.OnCompleted(ctx, st))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "cashier.execute", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Len(t, spans[0].Events(), 2)
	assert.NotContains(t, st.Values, "tracing.span")
}

func TestTracing_HandsSpanContextToStrategy(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	p := NewTracing(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	st := newState()
	ctx := context.Background()
	require.Equal(t, ctx, st.Context(ctx))

	require.NoError(t, p.OnBeforePay(ctx, st))
	inner := trace.SpanFromContext(st.Context(ctx)).SpanContext()
	require.NoError(t, p.OnCompleted(ctx, st))

	require.Len(t, sr.Ended(), 1)
	assert.True(t, inner.IsValid())
	assert.Equal(t, sr.Ended()[0].SpanContext().SpanID(), inner.SpanID())
}

func TestTracing_FailureRecordsError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	p := NewTracing(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	st := newState()
	ctx := context.Background()

	require.NoError(t, p.OnBeforePay(ctx, st))
	require.NoError(t, p.OnFail(ctx, st, payment.Fail("declined", nil), errors.New("declined")))
	require.NoError(t, p.OnCompleted(ctx, st))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "declined", spans[0].Status().Description)
}

func TestTracing_CancelIsNotAnError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	p := NewTracing(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	st := newState()
	ctx := context.Background()

	require.NoError(t, p.OnBeforePay(ctx, st))
	require.NoError(t, p.OnFail(ctx, st, payment.Cancel("user", nil), nil))
	require.NoError(t, p.OnCompleted(ctx, st))

	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, codes.Unset, sr.Ended()[0].Status().Code)
}

func TestGuard_BlocksMatchingRule(t *testing.T) {
	g, err := NewGuard([]Rule{
		{Name: "max-amount", Expression: "amount > 100000"},
		{Name: "blocked-region", Expression: "region == 'XX'"},
	})
	require.NoError(t, err)

	st := newState()
	st.Params.Extra = map[string]any{"region": "CN"}
	assert.NoError(t, g.OnBeforePay(context.Background(), st))

	st.Params.Amount = 200000
	err = g.OnBeforePay(context.Background(), st)
	assert.True(t, domainErrors.IsKind(err, domainErrors.KindRiskControl))
	assert.Contains(t, err.Error(), "max-amount")
}

func TestGuard_InvalidExpression(t *testing.T) {
	_, err := NewGuard([]Rule{{Name: "bad", Expression: "amount >"}})
	assert.True(t, domainErrors.IsKind(err, domainErrors.KindInvalidConfig))
}

func TestGuard_NonBoolResult(t *testing.T) {
	g, err := NewGuard([]Rule{{Name: "sum", Expression: "amount + 1"}})
	require.NoError(t, err)

	err = g.OnBeforePay(context.Background(), newState())
	require.Error(t, err)
	assert.Equal(t, domainErrors.KindUnknown, domainErrors.KindOf(err))
}

func TestRulesFromMap_SortedByName(t *testing.T) {
	rules := RulesFromMap(map[string]string{"b": "false", "a": "true"})
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].Name)
	assert.Equal(t, "b", rules[1].Name)
}

type recordingPublisher struct {
	stream string
	values []map[string]any
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, stream string, values map[string]any) error {
	r.stream = stream
	r.values = append(r.values, values)
	return r.err
}

func TestStreamPublisher_PublishesTerminalResults(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewStreamPublisher(pub, "cashier:results")
	st := newState()

	require.NoError(t, p.OnSuccess(context.Background(), st, payment.Success("T1", nil)))
	require.NoError(t, p.OnFail(context.Background(), st, payment.Fail("declined", nil), nil))

	assert.Equal(t, "cashier:results", pub.stream)
	require.Len(t, pub.values, 2)
	assert.Equal(t, "success", pub.values[0]["status"])
	assert.Equal(t, "T1", pub.values[0]["transaction_id"])
	assert.Equal(t, st.Params.OrderID, pub.values[1]["order_id"])
	assert.Equal(t, "declined", pub.values[1]["message"])
}

func TestStreamPublisher_PropagatesError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	p := NewStreamPublisher(pub, "s")
	assert.Error(t, p.OnSuccess(context.Background(), newState(), payment.Success("T1", nil)))
}
