package builtin

import (
	"context"
	"time"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/infrastructure/observability"
	"github.com/cassiomorais/cashier/internal/plugin"
)

const metricsStartKey = "metrics.startTime"

// Metrics records execution counts, latency and in-flight executions.
type Metrics struct {
	m *observability.Metrics
}

func NewMetrics(m *observability.Metrics) *Metrics {
	return &Metrics{m: m}
}

func (p *Metrics) Name() string { return "metrics" }

func (p *Metrics) OnBeforePay(_ context.Context, st *plugin.State) error {
	st.Values[metricsStartKey] = time.Now()
	p.m.ActiveExecutions.Inc()
	return nil
}

func (p *Metrics) OnStateChange(_ context.Context, st *plugin.State, result payment.PayResult) error {
	p.m.StatusChanges.WithLabelValues(string(st.Channel), string(result.Status)).Inc()
	return nil
}

func (p *Metrics) OnSuccess(_ context.Context, st *plugin.State, result payment.PayResult) error {
	p.m.ExecutionsTotal.WithLabelValues(string(st.Channel), string(result.Status)).Inc()
	return nil
}

func (p *Metrics) OnFail(_ context.Context, st *plugin.State, result payment.PayResult, _ error) error {
	p.m.ExecutionsTotal.WithLabelValues(string(st.Channel), string(result.Status)).Inc()
	return nil
}

func (p *Metrics) OnCompleted(_ context.Context, st *plugin.State) error {
	start, ok := st.Values[metricsStartKey].(time.Time)
	if !ok {
		return nil
	}
	// polling sessions inherit the bag; only the execution that started the clock stops it
	delete(st.Values, metricsStartKey)
	p.m.ActiveExecutions.Dec()
	p.m.ExecutionDuration.WithLabelValues(string(st.Channel)).Observe(time.Since(start).Seconds())
	return nil
}
