// Package eventbus is a typed, synchronous publish/subscribe bus for payment lifecycle events.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/rs/zerolog"
)

// Topic binds an event name to its payload type.
type Topic[T any] struct {
	name string
}

func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

func (t Topic[T]) Name() string { return t.name }

type PayStartEvent struct {
	Channel payment.Channel `json:"channel"`
}

type StatusChangeEvent struct {
	Status payment.Status    `json:"status"`
	Result payment.PayResult `json:"result"`
}

var (
	BeforePay    = NewTopic[payment.PayParams]("beforePay")
	PayStart     = NewTopic[PayStartEvent]("payStart")
	StatusChange = NewTopic[StatusChangeEvent]("statusChange")
	Success      = NewTopic[payment.PayResult]("success")
	Fail         = NewTopic[payment.PayResult]("fail")
	Cancel       = NewTopic[payment.PayResult]("cancel")
)

// Subscription identifies one registered handler; pass it to Off to unsubscribe.
type Subscription struct {
	topic string
	id    uint64
}

type handler struct {
	id   uint64
	once bool
	fn   func(any)
}

type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]handler
	logger   zerolog.Logger
}

func New(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]handler),
		logger:   logger,
	}
}

// On subscribes fn to every emission of t.
func On[T any](b *Bus, t Topic[T], fn func(T)) Subscription {
	return b.subscribe(t.name, false, wrap(fn))
}

// Once subscribes fn to the next emission of t only.
func Once[T any](b *Bus, t Topic[T], fn func(T)) Subscription {
	return b.subscribe(t.name, true, wrap(fn))
}

// Emit calls every subscriber of t synchronously, in subscription order.
// A panicking subscriber is logged and does not stop the others.
func Emit[T any](b *Bus, t Topic[T], payload T) {
	b.emit(t.name, payload)
}

func wrap[T any](fn func(T)) func(any) {
	return func(v any) { fn(v.(T)) }
}

func (b *Bus) subscribe(topic string, once bool, fn func(any)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], handler{id: b.nextID, once: once, fn: fn})
	return Subscription{topic: topic, id: b.nextID}
}

// Off removes a subscription. It reports whether the subscription was still active.
func (b *Bus) Off(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := b.handlers[sub.topic]
	for i, h := range hs {
		if h.id == sub.id {
			b.handlers[sub.topic] = append(hs[:i:i], hs[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]handler)
}

// ListenerCount returns the number of handlers subscribed to topic.
func (b *Bus) ListenerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic])
}

func (b *Bus) emit(topic string, payload any) {
	b.mu.Lock()
	hs := b.handlers[topic]
	snapshot := make([]handler, len(hs))
	copy(snapshot, hs)
	// once handlers are removed before delivery so a concurrent emit cannot fire them twice
	kept := hs[:0:0]
	for _, h := range hs {
		if !h.once {
			kept = append(kept, h)
		}
	}
	if len(kept) != len(hs) {
		b.handlers[topic] = kept
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		b.deliver(topic, h, payload)
	}
}

func (b *Bus) deliver(topic string, h handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", topic).
				Str("panic", fmt.Sprint(r)).
				Msg("Event subscriber panicked")
		}
	}()
	h.fn(payload)
}
