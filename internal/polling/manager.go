// Package polling binds a strategy's status query to a poller and settles the outcome
// through the plugin driver.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/plugin"
	"github.com/cassiomorais/cashier/pkg/poller"
	"github.com/rs/zerolog"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePolling Phase = "polling"
	PhaseSuccess Phase = "success"
	PhaseFail    Phase = "fail"
)

// Session outcomes reported to the observer.
const (
	OutcomeSuccess = "success"
	OutcomeFail    = "fail"
	OutcomeCancel  = "cancel"
	OutcomeTimeout = "timeout"
	OutcomeStopped = "stopped"
)

// ErrLocked is returned by Locker implementations when the order is held elsewhere.
var ErrLocked = domainErrors.ErrPollingLocked

const unlockTimeout = 5 * time.Second

// StatusSource answers order-status queries for one channel.
type StatusSource interface {
	GetStatus(ctx context.Context, orderID string) (payment.PayResult, error)
}

// Unlock releases a lock taken by Locker.Lock.
type Unlock func(ctx context.Context) error

// Locker keeps a single poller per order across processes. Lock returns ErrLocked when
// someone else holds the key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

type Manager struct {
	driver   *plugin.Driver
	logger   zerolog.Logger
	pollOpts []poller.Option
	locker   Locker
	report   plugin.DiagnosticsFunc
	observe  func(channel payment.Channel, outcome string)

	mu     sync.Mutex
	phase  Phase
	active *Session
}

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPollerOptions configures every poller the manager creates.
func WithPollerOptions(opts ...poller.Option) Option {
	return func(m *Manager) { m.pollOpts = append(m.pollOpts, opts...) }
}

func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithDiagnostics(fn plugin.DiagnosticsFunc) Option {
	return func(m *Manager) { m.report = fn }
}

// WithObserver is called once per session with its outcome.
func WithObserver(fn func(channel payment.Channel, outcome string)) Option {
	return func(m *Manager) { m.observe = fn }
}

func NewManager(driver *plugin.Driver, opts ...Option) *Manager {
	m := &Manager{
		driver: driver,
		logger: zerolog.Nop(),
		phase:  PhaseIdle,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Session is one polling run for one order.
type Session struct {
	Channel payment.Channel
	OrderID string

	state  *plugin.State
	poller *poller.Poller[payment.PayResult]
	done   chan struct{}

	unlock     Unlock
	unlockOnce sync.Once

	result payment.PayResult
	err    error
}

// Done is closed when the session ends for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends. A stopped session returns poller.ErrStopped; a
// timed-out one returns its fail result with a TIMEOUT error.
func (s *Session) Wait(ctx context.Context) (payment.PayResult, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return payment.PayResult{}, ctx.Err()
	}
}

func (s *Session) State() *plugin.State { return s.state }

func (s *Session) stopped() bool { return s.poller.Stopped() }

// release frees the session's order lock once. Concurrent callers wait for the first to finish.
func (s *Session) release(ctx context.Context, logger zerolog.Logger) {
	if s.unlock == nil {
		return
	}
	s.unlockOnce.Do(func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if err := s.unlock(uctx); err != nil {
			logger.Warn().Err(err).Str("order_id", s.OrderID).Msg("Failed to release polling lock")
		}
	})
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Start stops any active session and begins polling src for orderID. The new session
// inherits values, normally the snapshot of the execution that produced the pending result.
// Cancelling ctx ends the session like Stop.
func (m *Manager) Start(ctx context.Context, channel payment.Channel, src StatusSource, orderID string, values map[string]any) (*Session, error) {
	if src == nil {
		return nil, domainErrors.New(domainErrors.KindInvalidConfig, "no status source").WithChannel(string(channel))
	}
	if orderID == "" {
		return nil, domainErrors.New(domainErrors.KindParamInvalid, "order id is required").WithChannel(string(channel))
	}
	// the replaced session's lock must be free before the same order is locked again
	if prev := m.stop(); prev != nil {
		prev.release(ctx, m.logger)
	}

	var unlock Unlock
	if m.locker != nil {
		u, err := m.locker.Lock(ctx, string(channel)+":"+orderID)
		if err != nil {
			return nil, fmt.Errorf("lock %s order %s: %w", channel, orderID, err)
		}
		unlock = u
	}

	opts := append([]poller.Option{poller.WithLogger(m.logger)}, m.pollOpts...)
	sess := &Session{
		Channel: channel,
		OrderID: orderID,
		state:   plugin.Resume(channel, orderID, values),
		poller:  poller.New[payment.PayResult](opts...),
		done:    make(chan struct{}),
		unlock:  unlock,
	}

	m.mu.Lock()
	// a concurrent Start may have slipped in after our Stop
	if m.active != nil {
		m.active.poller.Stop()
	}
	m.active = sess
	m.phase = PhasePolling
	m.mu.Unlock()

	m.logger.Info().Str("channel", string(channel)).Str("order_id", orderID).Msg("Polling started")
	go m.run(ctx, sess, src)
	return sess, nil
}

// Stop discards the active session without settling it and releases its order lock.
// It is safe to call at any time.
func (m *Manager) Stop() {
	if prev := m.stop(); prev != nil {
		prev.release(context.Background(), m.logger)
	}
}

func (m *Manager) stop() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active
	if prev != nil {
		prev.poller.Stop()
		m.active = nil
	}
	m.phase = PhaseIdle
	return prev
}

func (m *Manager) run(ctx context.Context, sess *Session, src StatusSource) {
	defer close(sess.done)
	defer sess.release(ctx, m.logger)

	st := sess.state
	task := func(tctx context.Context) (payment.PayResult, error) {
		res, err := src.GetStatus(tctx, sess.OrderID)
		if err != nil {
			return res, err
		}
		if sess.stopped() {
			return res, nil
		}
		st.SetResult(res)
		m.driver.Settle(ctx, plugin.HookStateChange, st, plugin.Event{Result: res}, m.report)
		return res, nil
	}

	res, err := sess.poller.Start(ctx, task, func(r payment.PayResult) bool { return r.Status.IsTerminal() })

	var cause error
	switch {
	case err == nil:
	case errors.Is(err, poller.ErrTimeout):
		cause = domainErrors.Wrap(domainErrors.KindTimeout, "polling timed out", err).WithChannel(string(sess.Channel))
		res = payment.FromError(cause)
	default:
		// stopped or parent context cancelled: nothing to settle
		sess.err = err
		if !errors.Is(err, poller.ErrStopped) {
			m.clear(sess, PhaseIdle)
		}
		m.logger.Info().Err(err).Str("order_id", sess.OrderID).Msg("Polling stopped")
		m.record(sess.Channel, OutcomeStopped)
		return
	}

	sess.result, sess.err = res, cause
	st.SetResult(res)
	st.Err = cause

	outcome := string(res.Status)
	phase := PhaseFail
	if res.Status == payment.StatusSuccess {
		phase = PhaseSuccess
		m.driver.Settle(ctx, plugin.HookSuccess, st, plugin.Event{Result: res}, m.report)
	} else {
		if cause != nil {
			outcome = OutcomeTimeout
		}
		m.driver.Settle(ctx, plugin.HookFail, st, plugin.Event{Result: res, Cause: cause}, m.report)
	}
	m.driver.Settle(ctx, plugin.HookCompleted, st, plugin.Event{}, m.report)

	m.clear(sess, phase)
	m.record(sess.Channel, outcome)
	m.logger.Info().
		Str("channel", string(sess.Channel)).
		Str("order_id", sess.OrderID).
		Str("status", string(res.Status)).
		Int("attempts", sess.poller.Attempts()).
		Msg("Polling finished")
}

// clear moves the manager to phase if sess is still the active session.
func (m *Manager) clear(sess *Session, phase Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != sess {
		return
	}
	m.active = nil
	m.phase = phase
}

func (m *Manager) record(channel payment.Channel, outcome string) {
	if m.observe != nil {
		m.observe(channel, outcome)
	}
}
