package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cassiomorais/cashier/internal/adapter/alipay"
	"github.com/cassiomorais/cashier/internal/adapter/stripe"
	"github.com/cassiomorais/cashier/internal/adapter/wechat"
	"github.com/cassiomorais/cashier/internal/cashier"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/infrastructure/config"
	"github.com/cassiomorais/cashier/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/cashier/internal/infrastructure/redis"
	"github.com/cassiomorais/cashier/internal/invoker"
	"github.com/cassiomorais/cashier/internal/plugin"
	"github.com/cassiomorais/cashier/internal/plugin/builtin"
	"github.com/cassiomorais/cashier/internal/polling"
	"github.com/cassiomorais/cashier/internal/strategy"
	"github.com/cassiomorais/cashier/internal/transport"
	"github.com/cassiomorais/cashier/pkg/poller"
	"github.com/cassiomorais/cashier/pkg/retry"
	"github.com/cassiomorais/cashier/pkg/saga"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const metricsNamespace = "cashier"

// streamMaxLen caps the result stream; reconcilers are expected to keep up.
const streamMaxLen = 100_000

type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Redis    *redis.Client
	Cashier  *cashier.Context

	tracer    *sdktrace.TracerProvider
	lifecycle *saga.Saga
}

type options struct {
	env       invoker.Environment
	logOutput io.Writer
	plugins   []plugin.Plugin
	strategy  []strategy.Strategy
}

type Option func(*options)

// WithEnvironment supplies the host capabilities invokers are detected from.
func WithEnvironment(env invoker.Environment) Option {
	return func(o *options) { o.env = env }
}

func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithPlugins installs extra plugins after the built-in ones.
func WithPlugins(p ...plugin.Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, p...) }
}

// WithStrategies registers extra strategies, replacing built-ins on the same channel.
func WithStrategies(s ...strategy.Strategy) Option {
	return func(o *options) { o.strategy = append(o.strategy, s...) }
}

// New wires a cashier from cfg: backend client, channel strategies, observability
// plugins and, when enabled, the Redis polling lock and result stream.
func New(ctx context.Context, cfg *config.Config, serviceName string, opts ...Option) (*App, error) {
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, o.logOutput)
	logger = logger.With().Str("service", serviceName).Logger()
	logger.Info().Msg("Starting")

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Registry:  prometheus.NewRegistry(),
		lifecycle: saga.New("bootstrap", logger),
	}
	app.Metrics = observability.NewMetrics(metricsNamespace, app.Registry)

	var pollingOpts []polling.Option
	var publisher builtin.Publisher

	if cfg.Observability.EnableTracing {
		app.lifecycle.Add("tracing", func(context.Context) error {
			tp, err := observability.InitTracer(serviceName, o.logOutput)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
				return nil
			}
			app.tracer = tp
			logger.Info().Msg("Tracing enabled")
			return nil
		}, func(ctx context.Context) error {
			if app.tracer == nil {
				return nil
			}
			return observability.Shutdown(ctx, app.tracer)
		})
	}

	if cfg.Redis.Enabled {
		app.lifecycle.Add("redis", func(ctx context.Context) error {
			client, err := infraRedis.NewClient(ctx, &cfg.Redis)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			app.Redis = client
			pollingOpts = append(pollingOpts, polling.WithLocker(infraRedis.NewPollLocker(client, cfg.Redis.LockTTL, observability.Component(logger, "redis"))))
			publisher = infraRedis.NewStreamProducer(client, streamMaxLen)
			logger.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Connected to Redis")
			return nil
		}, func(context.Context) error {
			return app.Redis.Close()
		})
	}

	app.lifecycle.Add("cashier", func(context.Context) error {
		app.Cashier = newCashier(cfg, app, o, pollingOpts)
		return nil
	}, func(context.Context) error {
		app.Cashier.Close()
		return nil
	})

	app.lifecycle.Add("plugins", func(context.Context) error {
		plugins, err := builtinPlugins(cfg, app, publisher)
		if err != nil {
			return err
		}
		for _, p := range append(plugins, o.plugins...) {
			if err := app.Cashier.Use(p); err != nil {
				return fmt.Errorf("install plugin %s: %w", p.Name(), err)
			}
		}
		return nil
	}, nil)

	if err := app.lifecycle.Run(ctx); err != nil {
		return nil, err
	}

	logger.Info().
		Interface("channels", app.Cashier.Channels()).
		Int("plugins", len(app.Cashier.Plugins())).
		Msg("Cashier ready")
	return app, nil
}

func newCashier(cfg *config.Config, app *App, o options, pollingOpts []polling.Option) *cashier.Context {
	transportOpts := []transport.Option{
		transport.WithTimeout(cfg.Gateway.Timeout),
		transport.WithRetry(retry.Config{
			MaxAttempts:  max(cfg.Gateway.RetryAttempts, 1),
			InitialDelay: cfg.Gateway.RetryDelay,
			MaxDelay:     10 * cfg.Gateway.RetryDelay,
		}),
		transport.WithLogger(observability.Component(app.Logger, "transport")),
	}
	if cfg.Gateway.AuthToken != "" {
		transportOpts = append(transportOpts, transport.WithHeader("Authorization", "Bearer "+cfg.Gateway.AuthToken))
	}
	backend := transport.NewHTTPClient(cfg.Gateway.BaseURL, transportOpts...)

	pollingOpts = append(pollingOpts,
		polling.WithPollerOptions(
			poller.WithInterval(cfg.Polling.Interval),
			poller.WithTimeout(cfg.Polling.Timeout),
			poller.WithStrategy(poller.Strategy(cfg.Polling.Strategy)),
		),
		polling.WithObserver(func(channel payment.Channel, outcome string) {
			app.Metrics.PollingSessions.WithLabelValues(string(channel), outcome).Inc()
		}),
	)

	logger := observability.Component(app.Logger, "cashier")
	c := cashier.New(
		cashier.WithHTTP(backend),
		cashier.WithEnvironment(o.env),
		cashier.WithInvokerType(invoker.Type(cfg.Invoker.Type)),
		cashier.WithLogger(logger),
		cashier.WithDiagnostics(func(d cashier.Diagnostic) {
			app.Metrics.PluginFailures.WithLabelValues(d.Hook.String(), string(d.Kind())).Inc()
		}),
		cashier.WithPollingOptions(pollingOpts...),
	)

	for _, s := range channelStrategies(cfg, app.Metrics, logger) {
		c.Register(s)
	}
	for _, s := range o.strategy {
		c.Register(s)
	}
	return c
}

func channelStrategies(cfg *config.Config, m *observability.Metrics, logger zerolog.Logger) []strategy.Strategy {
	breaker := strategy.BreakerConfig{
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     cfg.Breaker.Interval,
		Timeout:      cfg.Breaker.Timeout,
		FailureRatio: cfg.Breaker.FailureRatio,
		MinRequests:  cfg.Breaker.MinRequests,
	}
	common := []strategy.Option{
		strategy.WithBreaker(breaker),
		strategy.WithBreakerObserver(m.ObserveBreaker),
		strategy.WithLogger(logger),
	}

	ch := cfg.Channels
	return []strategy.Strategy{
		strategy.NewWechat(wechat.Config{
			AppID:     ch.Wechat.AppID,
			MchID:     ch.Wechat.MchID,
			NotifyURL: ch.Wechat.NotifyURL,
			TradeType: wechat.TradeType(strings.ToUpper(ch.Wechat.TradeType)),
		}, common...),
		strategy.NewAlipay(alipay.Config{
			AppID:       ch.Alipay.AppID,
			ProductCode: ch.Alipay.ProductCode,
			ReturnURL:   ch.Alipay.ReturnURL,
		}, common...),
		strategy.NewStripe(stripe.Config{
			PublishableKey: ch.Stripe.PublishableKey,
			Currency:       ch.Stripe.Currency,
		}, common...),
		strategy.NewMock(),
	}
}

func builtinPlugins(cfg *config.Config, app *App, publisher builtin.Publisher) ([]plugin.Plugin, error) {
	plugins := []plugin.Plugin{
		builtin.NewLogger(observability.Component(app.Logger, "plugin")),
		builtin.NewMetrics(app.Metrics),
	}
	if app.tracer != nil {
		plugins = append(plugins, builtin.NewTracing(app.tracer))
	}
	if len(cfg.Guard.Rules) > 0 {
		guard, err := builtin.NewGuard(builtin.RulesFromMap(cfg.Guard.Rules))
		if err != nil {
			return nil, fmt.Errorf("guard rules: %w", err)
		}
		plugins = append(plugins, guard)
	}
	if publisher != nil {
		plugins = append(plugins, builtin.NewStreamPublisher(publisher, cfg.Redis.Stream))
	}
	return plugins, nil
}

// Close stops polling and releases tracing and Redis resources, newest first.
func (a *App) Close(ctx context.Context) {
	if err := a.lifecycle.Rollback(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
}
