package builtin

import (
	"context"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/plugin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const spanKey = "tracing.span"

// Tracing opens one span per execution and closes it in onCompleted. The span context is
// handed to the strategy call, so backend requests become its children.
type Tracing struct {
	tracer trace.Tracer
}

// NewTracing uses the global provider when tp is nil.
func NewTracing(tp trace.TracerProvider) *Tracing {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{tracer: tp.Tracer("github.com/cassiomorais/cashier")}
}

func (p *Tracing) Name() string { return "tracing" }

func (p *Tracing) OnBeforePay(ctx context.Context, st *plugin.State) error {
	ctx, span := p.tracer.Start(ctx, "cashier.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cashier.execution_id", st.ID.String()),
			attribute.String("cashier.channel", string(st.Channel)),
			attribute.String("cashier.order_id", st.Params.OrderID),
			attribute.Int64("cashier.amount", st.Params.Amount),
		),
	)
	st.Values[spanKey] = span
	st.WithContext(ctx)
	return nil
}

func span(st *plugin.State) (trace.Span, bool) {
	s, ok := st.Values[spanKey].(trace.Span)
	return s, ok
}

func (p *Tracing) OnBeforeInvoke(_ context.Context, st *plugin.State) error {
	if s, ok := span(st); ok {
		s.AddEvent("invoke")
	}
	return nil
}

func (p *Tracing) OnStateChange(_ context.Context, st *plugin.State, result payment.PayResult) error {
	if s, ok := span(st); ok {
		s.AddEvent("status_change", trace.WithAttributes(attribute.String("cashier.status", string(result.Status))))
	}
	return nil
}

func (p *Tracing) OnSuccess(_ context.Context, st *plugin.State, result payment.PayResult) error {
	if s, ok := span(st); ok {
		s.SetAttributes(
			attribute.String("cashier.status", string(result.Status)),
			attribute.String("cashier.transaction_id", result.TransactionID),
		)
		s.SetStatus(codes.Ok, "")
	}
	return nil
}

func (p *Tracing) OnFail(_ context.Context, st *plugin.State, result payment.PayResult, cause error) error {
	s, ok := span(st)
	if !ok {
		return nil
	}
	s.SetAttributes(attribute.String("cashier.status", string(result.Status)))
	if result.Status == payment.StatusCancel {
		return nil
	}
	if cause != nil {
		s.RecordError(cause)
	}
	s.SetStatus(codes.Error, result.Message)
	return nil
}

func (p *Tracing) OnCompleted(_ context.Context, st *plugin.State) error {
	if s, ok := span(st); ok {
		delete(st.Values, spanKey)
		s.End()
	}
	return nil
}
