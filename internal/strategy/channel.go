package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cassiomorais/cashier/internal/adapter"
	"github.com/cassiomorais/cashier/internal/adapter/alipay"
	"github.com/cassiomorais/cashier/internal/adapter/stripe"
	"github.com/cassiomorais/cashier/internal/adapter/wechat"
	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/invoker"
	"github.com/cassiomorais/cashier/internal/transport"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

const DefaultQueryPath = "/payment/query"

// BreakerConfig tunes the circuit breaker guarding backend calls.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  10,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  10,
	}
}

// ChannelStrategy is the backend-signed flow shared by real channels:
// validate, transform, sign through the backend, invoke, normalize.
type ChannelStrategy struct {
	channel   payment.Channel
	adapter   adapter.Adapter
	signPath  string
	queryPath string

	breakerCfg BreakerConfig
	observer   func(name string, from, to gobreaker.State)
	breaker    *gobreaker.CircuitBreaker[json.RawMessage]
	group      singleflight.Group

	mu        sync.RWMutex
	host      Host
	logger    zerolog.Logger
	hasLogger bool
}

var _ Strategy = (*ChannelStrategy)(nil)

type Option func(*ChannelStrategy)

func WithSignPath(path string) Option {
	return func(s *ChannelStrategy) { s.signPath = path }
}

func WithQueryPath(path string) Option {
	return func(s *ChannelStrategy) { s.queryPath = path }
}

func WithBreaker(cfg BreakerConfig) Option {
	return func(s *ChannelStrategy) { s.breakerCfg = cfg }
}

// WithBreakerObserver receives circuit state transitions, e.g. for metrics.
func WithBreakerObserver(fn func(name string, from, to gobreaker.State)) Option {
	return func(s *ChannelStrategy) { s.observer = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *ChannelStrategy) {
		s.logger = l
		s.hasLogger = true
	}
}

// NewChannel builds a strategy for any adapter. Sign requests go to /payment/{channel} by default.
func NewChannel(channel payment.Channel, a adapter.Adapter, opts ...Option) *ChannelStrategy {
	s := &ChannelStrategy{
		channel:    channel,
		adapter:    a,
		signPath:   "/payment/" + string(channel),
		queryPath:  DefaultQueryPath,
		breakerCfg: DefaultBreakerConfig(),
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}

	cfg := s.breakerCfg
	s.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        string(channel),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio
		},
		// only transport-level faults count against the backend
		IsSuccessful: func(err error) bool {
			return err == nil || domainErrors.KindOf(err).Category() != domainErrors.CategoryRetryable
		},
		OnStateChange: s.observer,
	})
	return s
}

func NewWechat(cfg wechat.Config, opts ...Option) *ChannelStrategy {
	return NewChannel(payment.ChannelWechat, wechat.New(cfg), opts...)
}

func NewAlipay(cfg alipay.Config, opts ...Option) *ChannelStrategy {
	return NewChannel(payment.ChannelAlipay, alipay.New(cfg), opts...)
}

func NewStripe(cfg stripe.Config, opts ...Option) *ChannelStrategy {
	return NewChannel(payment.ChannelStripe, stripe.New(cfg), opts...)
}

func (s *ChannelStrategy) Channel() payment.Channel { return s.channel }

func (s *ChannelStrategy) Bind(host Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host = host
	if !s.hasLogger && host != nil {
		s.logger = host.Logger().With().Str("channel", string(s.channel)).Logger()
	}
}

func (s *ChannelStrategy) bound() (Host, zerolog.Logger) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host, s.logger
}

// Pay never panics: a panic in an adapter, invoker or host becomes an INVOKE_FAILED result.
func (s *ChannelStrategy) Pay(ctx context.Context, params payment.PayParams, http transport.Client, invokerType invoker.Type) (res payment.PayResult) {
	host, logger := s.bound()
	defer func() {
		if rec := recover(); rec != nil {
			err := panicError(domainErrors.KindInvokeFailed, "payment flow panicked", rec)
			logger.Error().Err(err).Str("order_id", params.OrderID).Msg("Payment panicked")
			res = payment.FromError(s.tag(err))
		}
	}()

	res, err := s.pay(ctx, host, params, http, invokerType)
	if err != nil {
		logger.Warn().Err(err).Str("order_id", params.OrderID).Msg("Payment failed")
		return payment.FromError(s.tag(err))
	}
	logger.Debug().Str("order_id", params.OrderID).Str("status", string(res.Status)).Msg("Payment normalized")
	return res
}

func (s *ChannelStrategy) pay(ctx context.Context, host Host, params payment.PayParams, http transport.Client, invokerType invoker.Type) (payment.PayResult, error) {
	if err := s.adapter.Validate(params); err != nil {
		return payment.PayResult{}, err
	}
	body, err := s.adapter.Transform(params)
	if err != nil {
		return payment.PayResult{}, err
	}
	if http == nil {
		return payment.PayResult{}, domainErrors.New(domainErrors.KindInvalidConfig, "no http client configured")
	}
	if host == nil || host.Invokers() == nil {
		return payment.PayResult{}, domainErrors.Wrap(domainErrors.KindInvalidConfig, "strategy is not registered", domainErrors.ErrNoHostBound)
	}

	signed, err := s.call(func() (json.RawMessage, error) {
		return http.Post(ctx, s.signPath, body)
	})
	if err != nil {
		return payment.PayResult{}, err
	}

	inv, _ := host.Invokers().Create(s.channel, invokerType)
	raw, err := inv.Invoke(ctx, signed)
	if err != nil {
		return payment.PayResult{}, err
	}
	return s.adapter.Normalize(raw), nil
}

// GetStatus collapses concurrent queries for the same order into one backend call.
func (s *ChannelStrategy) GetStatus(ctx context.Context, orderID string) (payment.PayResult, error) {
	host, _ := s.bound()
	if host == nil || host.HTTP() == nil {
		return payment.PayResult{}, domainErrors.Wrap(domainErrors.KindInvalidConfig, "strategy is not registered", domainErrors.ErrNoHostBound)
	}
	http := host.HTTP()

	v, err, _ := s.group.Do(orderID, func() (out any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				out, err = nil, panicError(domainErrors.KindUnknown, "status query panicked", rec)
			}
		}()
		query := url.Values{"channel": {string(s.channel)}, "orderId": {orderID}}
		raw, err := s.call(func() (json.RawMessage, error) {
			return http.Get(ctx, s.queryPath, query)
		})
		if err != nil {
			return nil, err
		}
		var resp payment.Raw
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, domainErrors.Wrap(domainErrors.KindGatewayError, "malformed status response", err)
		}
		return s.adapter.Normalize(resp), nil
	})
	if err != nil {
		return payment.PayResult{}, s.tag(err)
	}
	return v.(payment.PayResult), nil
}

func (s *ChannelStrategy) call(fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	out, err := s.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domainErrors.Wrap(domainErrors.KindGatewayError, "backend circuit open", err)
	}
	return out, err
}

func panicError(kind domainErrors.Kind, msg string, rec any) error {
	return domainErrors.Wrap(kind, msg, fmt.Errorf("panic: %v", rec))
}

func (s *ChannelStrategy) tag(err error) error {
	var pe *domainErrors.PayError
	if errors.As(err, &pe) {
		if pe.Channel == "" {
			return pe.WithChannel(string(s.channel))
		}
		return pe
	}
	return domainErrors.Wrap(domainErrors.KindUnknown, "payment failed", err).WithChannel(string(s.channel))
}
