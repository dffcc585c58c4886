package builtin

import (
	"context"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/plugin"
)

// Publisher appends a record to a named stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, values map[string]any) error
}

// StreamPublisher forwards terminal results so other services can reconcile them.
type StreamPublisher struct {
	pub    Publisher
	stream string
}

func NewStreamPublisher(pub Publisher, stream string) *StreamPublisher {
	return &StreamPublisher{pub: pub, stream: stream}
}

func (p *StreamPublisher) Name() string { return "result-stream" }

func (p *StreamPublisher) OnSuccess(ctx context.Context, st *plugin.State, result payment.PayResult) error {
	return p.publish(ctx, st, result)
}

func (p *StreamPublisher) OnFail(ctx context.Context, st *plugin.State, result payment.PayResult, _ error) error {
	return p.publish(ctx, st, result)
}

func (p *StreamPublisher) publish(ctx context.Context, st *plugin.State, result payment.PayResult) error {
	return p.pub.Publish(ctx, p.stream, map[string]any{
		"execution_id":   st.ID.String(),
		"channel":        string(st.Channel),
		"order_id":       st.Params.OrderID,
		"status":         string(result.Status),
		"transaction_id": result.TransactionID,
		"message":        result.Message,
	})
}
