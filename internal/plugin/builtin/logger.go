package builtin

import (
	"context"
	"time"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/plugin"
	"github.com/rs/zerolog"
)

const startTimeKey = "logger.startTime"

// Logger times each execution and logs its outcome.
type Logger struct {
	logger zerolog.Logger
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (p *Logger) Name() string { return "logger" }

func (p *Logger) OnBeforePay(_ context.Context, st *plugin.State) error {
	st.Values[startTimeKey] = time.Now()
	p.logger.Info().
		Str("execution_id", st.ID.String()).
		Str("channel", string(st.Channel)).
		Str("order_id", st.Params.OrderID).
		Int64("amount", st.Params.Amount).
		Msg("Payment started")
	return nil
}

func (p *Logger) OnStateChange(_ context.Context, st *plugin.State, result payment.PayResult) error {
	p.logger.Debug().
		Str("execution_id", st.ID.String()).
		Str("status", string(result.Status)).
		Str("message", result.Message).
		Msg("Payment status changed")
	return nil
}

func (p *Logger) OnSuccess(_ context.Context, st *plugin.State, result payment.PayResult) error {
	p.logger.Info().
		Str("execution_id", st.ID.String()).
		Str("channel", string(st.Channel)).
		Str("transaction_id", result.TransactionID).
		Dur("duration", elapsed(st)).
		Msg("Payment succeeded")
	return nil
}

func (p *Logger) OnFail(_ context.Context, st *plugin.State, result payment.PayResult, cause error) error {
	ev := p.logger.Warn()
	if result.Status == payment.StatusCancel {
		ev = p.logger.Info()
	}
	ev.Err(cause).
		Str("execution_id", st.ID.String()).
		Str("channel", string(st.Channel)).
		Str("status", string(result.Status)).
		Str("message", result.Message).
		Dur("duration", elapsed(st)).
		Msg("Payment did not succeed")
	return nil
}

// elapsed is zero for polling sessions that never ran onBeforePay.
func elapsed(st *plugin.State) time.Duration {
	start, ok := st.Values[startTimeKey].(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start)
}
