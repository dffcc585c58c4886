package invoker

import (
	"slices"
	"sync"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/rs/zerolog"
)

// Matcher probes whether the current environment supports an invoker.
type Matcher func() bool

// Constructor builds an invoker bound to one channel.
type Constructor func(channel payment.Channel) Invoker

type Registration struct {
	Type     Type
	Matcher  Matcher
	New      Constructor
	Priority int
}

// Factory selects an invoker for a channel, either by explicit type or by probing the environment
// in priority order. Registrations take effect on the next Create.
type Factory struct {
	mu       sync.RWMutex
	registry []Registration
	web      map[payment.Channel]WebHandler
	env      Environment
	probes   map[Type]Matcher
	logger   zerolog.Logger
}

type Option func(*Factory)

func WithLogger(l zerolog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithProbe replaces the capability probe of a built-in invoker type.
func WithProbe(t Type, m Matcher) Option {
	return func(f *Factory) { f.probes[t] = m }
}

func NewFactory(env Environment, opts ...Option) *Factory {
	f := &Factory{
		web:    make(map[payment.Channel]WebHandler),
		env:    env,
		logger: zerolog.Nop(),
		probes: map[Type]Matcher{
			TypeUniApp:     func() bool { return env.UniApp != nil },
			TypeAlipayMini: func() bool { return env.AlipayMini != nil },
			TypeWechatMini: func() bool { return env.WechatMini != nil },
			TypeBridge:     func() bool { return env.Bridge != nil },
		},
	}
	for _, o := range opts {
		o(f)
	}

	f.Register(Registration{Type: TypeUniApp, Matcher: f.probes[TypeUniApp], Priority: 100,
		New: func(ch payment.Channel) Invoker { return &uniAppInvoker{host: env.UniApp, channel: ch} }})
	f.Register(Registration{Type: TypeAlipayMini, Matcher: f.probes[TypeAlipayMini], Priority: 50,
		New: func(payment.Channel) Invoker { return &alipayMiniInvoker{host: env.AlipayMini} }})
	f.Register(Registration{Type: TypeWechatMini, Matcher: f.probes[TypeWechatMini], Priority: 50,
		New: func(payment.Channel) Invoker { return &wechatMiniInvoker{host: env.WechatMini} }})
	f.Register(Registration{Type: TypeBridge, Matcher: f.probes[TypeBridge], Priority: 30,
		New: func(payment.Channel) Invoker { return &bridgeInvoker{host: env.Bridge} }})
	f.Register(Registration{Type: TypeWeb, Matcher: func() bool { return true }, Priority: 0,
		New: f.newWeb})

	f.RegisterWebHandler(payment.ChannelWechat, WechatWebHandler{})
	f.RegisterWebHandler(payment.ChannelAlipay, AlipayWebHandler{})
	f.RegisterWebHandler(payment.ChannelStripe, StripeWebHandler{})
	return f
}

// Register adds or replaces an invoker type. Higher priority is probed first; ties keep registration order.
func (f *Factory) Register(reg Registration) {
	if reg.Type == "" || reg.New == nil {
		f.logger.Warn().Str("type", string(reg.Type)).Msg("Ignoring incomplete invoker registration")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.registry = slices.DeleteFunc(f.registry, func(r Registration) bool { return r.Type == reg.Type })
	f.registry = append(f.registry, reg)
	slices.SortStableFunc(f.registry, func(a, b Registration) int { return b.Priority - a.Priority })
}

// RegisterWebHandler installs the browser flow for a channel.
func (f *Factory) RegisterWebHandler(channel payment.Channel, h WebHandler) {
	f.mu.Lock()
	f.web[channel] = h
	f.mu.Unlock()
}

func (f *Factory) webHandler(channel payment.Channel) (WebHandler, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.web[channel]
	return h, ok
}

// Types lists registered invoker types in probe order.
func (f *Factory) Types() []Type {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Type, len(f.registry))
	for i, r := range f.registry {
		out[i] = r.Type
	}
	return out
}

// Create returns an invoker for channel. A known override always wins; otherwise the first
// matching probe is used, and the web invoker is the fallback.
func (f *Factory) Create(channel payment.Channel, override Type) (Invoker, Type) {
	f.mu.RLock()
	registry := slices.Clone(f.registry)
	f.mu.RUnlock()

	if override != "" {
		for _, r := range registry {
			if r.Type == override {
				return r.New(channel), r.Type
			}
		}
		f.logger.Warn().Str("type", string(override)).Msg("Invoker type not registered, falling back to auto-detect")
	}

	for _, r := range registry {
		if f.matches(r) {
			f.logger.Debug().Str("type", string(r.Type)).Str("channel", string(channel)).Msg("Invoker selected")
			return r.New(channel), r.Type
		}
	}
	return f.newWeb(channel), TypeWeb
}

func (f *Factory) matches(r Registration) (ok bool) {
	if r.Matcher == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			f.logger.Warn().Interface("panic", rec).Str("type", string(r.Type)).Msg("Invoker probe panicked")
			ok = false
		}
	}()
	return r.Matcher()
}

func (f *Factory) newWeb(channel payment.Channel) Invoker {
	return &webInvoker{channel: channel, browser: f.env.Browser, handlers: f}
}
