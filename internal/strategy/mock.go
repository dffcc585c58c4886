package strategy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/invoker"
	"github.com/cassiomorais/cashier/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scenario selects the outcome the mock strategy simulates.
type Scenario string

const (
	ScenarioSuccess Scenario = "success"
	ScenarioFail    Scenario = "fail"
	ScenarioCancel  Scenario = "cancel"
	ScenarioPending Scenario = "pending"
	ScenarioTimeout Scenario = "timeout"
)

// MockStrategy simulates a channel without a backend.
type MockStrategy struct {
	scenario      Scenario
	latency       time.Duration
	pendingPolls  int
	transactionID string

	payCalls    atomic.Int64
	statusCalls atomic.Int64

	mu     sync.Mutex
	polls  map[string]int
	logger zerolog.Logger
}

var _ Strategy = (*MockStrategy)(nil)

type MockOption func(*MockStrategy)

func WithScenario(s Scenario) MockOption {
	return func(m *MockStrategy) { m.scenario = s }
}

func WithLatency(d time.Duration) MockOption {
	return func(m *MockStrategy) { m.latency = d }
}

// WithPendingPolls sets how many status queries answer pending before the scenario outcome.
func WithPendingPolls(n int) MockOption {
	return func(m *MockStrategy) { m.pendingPolls = n }
}

func WithTransactionID(id string) MockOption {
	return func(m *MockStrategy) { m.transactionID = id }
}

func NewMock(opts ...MockOption) *MockStrategy {
	m := &MockStrategy{
		scenario: ScenarioSuccess,
		latency:  100 * time.Millisecond,
		polls:    make(map[string]int),
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MockStrategy) Channel() payment.Channel { return payment.ChannelMock }

func (m *MockStrategy) Bind(host Host) {
	if host != nil {
		m.logger = host.Logger().With().Str("channel", string(payment.ChannelMock)).Logger()
	}
}

func (m *MockStrategy) PayCalls() int64    { return m.payCalls.Load() }
func (m *MockStrategy) StatusCalls() int64 { return m.statusCalls.Load() }

func (m *MockStrategy) Pay(ctx context.Context, params payment.PayParams, _ transport.Client, invokerType invoker.Type) payment.PayResult {
	m.payCalls.Add(1)
	m.logger.Info().
		Str("scenario", string(m.scenario)).
		Str("invoker", string(invokerType)).
		Str("order_id", params.OrderID).
		Msg("Simulating payment")

	if err := params.Validate(); err != nil {
		return payment.FromError(err)
	}
	if err := m.sleep(ctx); err != nil {
		return payment.FromError(err)
	}

	switch m.scenario {
	case ScenarioSuccess:
		return payment.Success(m.txID(), payment.Raw{"mockData": "ok"})
	case ScenarioFail:
		return payment.Fail("simulated failure: insufficient balance", payment.Raw{"code": string(domainErrors.KindInsufficientFund)})
	case ScenarioCancel:
		return payment.Cancel("payment cancelled by user", payment.Raw{"code": string(domainErrors.KindUserCancel)})
	case ScenarioPending:
		return payment.Pending("waiting for scan", &payment.Action{
			Type:  payment.ActionQRCode,
			Value: "mock://pay/" + params.OrderID,
		}, nil)
	case ScenarioTimeout:
		return payment.FromError(domainErrors.New(domainErrors.KindTimeout, "simulated gateway timeout").WithChannel(string(payment.ChannelMock)))
	default:
		return payment.Fail(fmt.Sprintf("unknown mock scenario %q", m.scenario), nil)
	}
}

func (m *MockStrategy) GetStatus(ctx context.Context, orderID string) (payment.PayResult, error) {
	m.statusCalls.Add(1)
	if err := m.sleep(ctx); err != nil {
		return payment.PayResult{}, err
	}

	m.mu.Lock()
	m.polls[orderID]++
	n := m.polls[orderID]
	m.mu.Unlock()

	switch m.scenario {
	case ScenarioFail:
		return payment.Fail("order not paid", payment.Raw{"orderId": orderID}), nil
	case ScenarioCancel:
		return payment.Cancel("order revoked", payment.Raw{"orderId": orderID}), nil
	case ScenarioTimeout:
		return payment.PayResult{}, domainErrors.New(domainErrors.KindTimeout, "simulated query timeout")
	}

	if n <= m.pendingPolls {
		return payment.Pending("user is paying", nil, payment.Raw{"orderId": orderID, "polls": n}), nil
	}
	return payment.Success("MOCK_TRX_"+orderID, payment.Raw{"status": "paid"}), nil
}

func (m *MockStrategy) txID() string {
	if m.transactionID != "" {
		return m.transactionID
	}
	return "MOCK_" + uuid.NewString()[:8]
}

func (m *MockStrategy) sleep(ctx context.Context) error {
	if m.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(m.latency):
		return nil
	case <-ctx.Done():
		return domainErrors.Wrap(domainErrors.KindTimeout, "mock call interrupted", ctx.Err())
	}
}
