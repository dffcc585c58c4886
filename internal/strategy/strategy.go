// Package strategy composes an adapter, the invoker factory and the merchant backend into
// the pay and status-query operations of one channel.
package strategy

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/invoker"
	"github.com/cassiomorais/cashier/internal/transport"
	"github.com/cassiomorais/cashier/pkg/poller"
	"github.com/rs/zerolog"
)

// Host is the orchestrator a strategy is registered with.
type Host interface {
	HTTP() transport.Client
	Invokers() *invoker.Factory
	Logger() zerolog.Logger
}

type Strategy interface {
	// Channel is the registration key.
	Channel() payment.Channel
	// Bind injects the orchestrator; called on registration.
	Bind(host Host)
	// Pay never returns an error: every fault becomes a fail-shaped result.
	Pay(ctx context.Context, params payment.PayParams, http transport.Client, invokerType invoker.Type) payment.PayResult
	// GetStatus is an idempotent order query used by polling.
	GetStatus(ctx context.Context, orderID string) (payment.PayResult, error)
}

const DefaultWaitTimeout = 2 * time.Minute

// PayAndWait pays and, when the outcome is not yet known, polls GetStatus with exponential
// backoff until a terminal status or the timeout.
func PayAndWait(ctx context.Context, s Strategy, params payment.PayParams, http transport.Client, invokerType invoker.Type, opts ...poller.Option) payment.PayResult {
	res := s.Pay(ctx, params, http, invokerType)
	if res.Status != payment.StatusPending && res.Status != payment.StatusProcessing {
		return res
	}

	p := poller.New[payment.PayResult](append([]poller.Option{
		poller.WithStrategy(poller.Exponential),
		poller.WithTimeout(DefaultWaitTimeout),
	}, opts...)...)

	final, err := p.Start(ctx,
		func(ctx context.Context) (payment.PayResult, error) { return s.GetStatus(ctx, params.OrderID) },
		func(r payment.PayResult) bool { return r.Status.IsTerminal() },
	)
	if err != nil {
		kind := domainErrors.KindUnknown
		if errors.Is(err, poller.ErrTimeout) {
			kind = domainErrors.KindTimeout
		}
		return payment.FromError(domainErrors.Wrap(kind, "payment outcome unknown", err).WithChannel(string(s.Channel())))
	}
	return final
}
