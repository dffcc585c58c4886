package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Polling       PollingConfig       `mapstructure:"polling"`
	Invoker       InvokerConfig       `mapstructure:"invoker"`
	Channels      ChannelsConfig      `mapstructure:"channels"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Guard         GuardConfig         `mapstructure:"guard"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	MockGateway   MockGatewayConfig   `mapstructure:"mock_gateway"`
}

// GatewayConfig points at the merchant backend that signs orders and answers status queries.
type GatewayConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	// AuthToken is sent as a bearer token on every backend request when set.
	AuthToken     string        `mapstructure:"auth_token"`
}

type PollingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Strategy string        `mapstructure:"strategy"`
}

type InvokerConfig struct {
	// Type forces an invoker; empty means auto-detect.
	Type string `mapstructure:"type"`
}

type ChannelsConfig struct {
	Wechat WechatConfig `mapstructure:"wechat"`
	Alipay AlipayConfig `mapstructure:"alipay"`
	Stripe StripeConfig `mapstructure:"stripe"`
}

type WechatConfig struct {
	AppID     string `mapstructure:"app_id"`
	MchID     string `mapstructure:"mch_id"`
	NotifyURL string `mapstructure:"notify_url"`
	TradeType string `mapstructure:"trade_type"`
}

type AlipayConfig struct {
	AppID       string `mapstructure:"app_id"`
	ProductCode string `mapstructure:"product_code"`
	ReturnURL   string `mapstructure:"return_url"`
}

type StripeConfig struct {
	PublishableKey string `mapstructure:"publishable_key"`
	Currency       string `mapstructure:"currency"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

// GuardConfig maps rule names to expressions that block a payment when true.
type GuardConfig struct {
	Rules map[string]string `mapstructure:"rules"`
}

type RedisConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	Stream            string        `mapstructure:"stream"`
}

type ObservabilityConfig struct {
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
	EnableTracing bool   `mapstructure:"enable_tracing"`
	ServiceName   string `mapstructure:"service_name"`
}

type MockGatewayConfig struct {
	Port         int    `mapstructure:"port"`
	PendingPolls int    `mapstructure:"pending_polls"`
	RateLimit    int    `mapstructure:"rate_limit"`
	AuthSecret   string `mapstructure:"auth_secret"`
}

// Load reads defaults, then config.yaml if present, then CASHIER_* environment variables,
// then any flags that were set. Flag names use the dotted key, e.g. --gateway.base_url.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CASHIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/cashier")
	if path := os.Getenv("CASHIER_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

var (
	pollingStrategies = []string{"fixed", "exponential"}
	invokerTypes      = []string{"", "uniapp", "alipay-mini", "wechat-mini", "bridge", "web"}
	wechatTradeTypes  = []string{"", "JSAPI", "NATIVE", "MWEB", "APP"}
	logLevels         = []string{"trace", "debug", "info", "warn", "error", "disabled"}
)

func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Gateway.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url must be an absolute URL, got %q", c.Gateway.BaseURL))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout must be positive"))
	}
	if c.Polling.Interval <= 0 {
		errs = append(errs, fmt.Errorf("polling.interval must be positive"))
	}
	if c.Polling.Timeout < c.Polling.Interval {
		errs = append(errs, fmt.Errorf("polling.timeout must not be shorter than polling.interval"))
	}
	if !slices.Contains(pollingStrategies, c.Polling.Strategy) {
		errs = append(errs, fmt.Errorf("polling.strategy must be one of %v, got %q", pollingStrategies, c.Polling.Strategy))
	}
	if !slices.Contains(invokerTypes, c.Invoker.Type) {
		errs = append(errs, fmt.Errorf("invoker.type %q is not a known invoker", c.Invoker.Type))
	}
	if !slices.Contains(wechatTradeTypes, strings.ToUpper(c.Channels.Wechat.TradeType)) {
		errs = append(errs, fmt.Errorf("channels.wechat.trade_type %q is not supported", c.Channels.Wechat.TradeType))
	}
	if c.Channels.Stripe.Currency != "" && len(c.Channels.Stripe.Currency) != 3 {
		errs = append(errs, fmt.Errorf("channels.stripe.currency must be an ISO 4217 code"))
	}
	if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
		errs = append(errs, fmt.Errorf("breaker.failure_ratio must be in (0, 1]"))
	}
	if c.Breaker.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("breaker.timeout must be positive"))
	}
	if c.Redis.Enabled {
		if c.Redis.Port <= 0 {
			errs = append(errs, fmt.Errorf("redis.port must be positive"))
		}
		if c.Redis.LockTTL <= 0 {
			errs = append(errs, fmt.Errorf("redis.lock_ttl must be positive"))
		}
		if c.Redis.Stream == "" {
			errs = append(errs, fmt.Errorf("redis.stream is required"))
		}
	}
	if !slices.Contains(logLevels, strings.ToLower(c.Observability.LogLevel)) {
		errs = append(errs, fmt.Errorf("observability.log_level %q is not a level", c.Observability.LogLevel))
	}
	if c.MockGateway.Port <= 0 || c.MockGateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("mock_gateway.port must be between 1 and 65535, got %d", c.MockGateway.Port))
	}
	if c.MockGateway.PendingPolls < 0 {
		errs = append(errs, fmt.Errorf("mock_gateway.pending_polls must not be negative"))
	}
	if c.MockGateway.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("mock_gateway.rate_limit must not be negative"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Gateway defaults
	v.SetDefault("gateway.base_url", "http://localhost:8090")
	v.SetDefault("gateway.timeout", "15s")
	v.SetDefault("gateway.retry_attempts", 3)
	v.SetDefault("gateway.retry_delay", "200ms")
	v.SetDefault("gateway.auth_token", "")

	// Polling defaults
	v.SetDefault("polling.interval", "3s")
	v.SetDefault("polling.timeout", "5m")
	v.SetDefault("polling.strategy", "fixed")

	v.SetDefault("invoker.type", "")

	// Channel defaults
	v.SetDefault("channels.wechat.trade_type", "NATIVE")
	v.SetDefault("channels.alipay.product_code", "QUICK_WAP_WAY")
	v.SetDefault("channels.stripe.currency", "usd")

	// Breaker defaults
	v.SetDefault("breaker.max_requests", 10)
	v.SetDefault("breaker.interval", "60s")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.failure_ratio", 0.6)
	v.SetDefault("breaker.min_requests", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")
	v.SetDefault("redis.lock_ttl", "5m")
	v.SetDefault("redis.stream", "cashier:results")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.metrics_addr", ":9090")
	v.SetDefault("observability.enable_tracing", false)
	v.SetDefault("observability.service_name", "cashier")

	// Mock gateway defaults
	v.SetDefault("mock_gateway.port", 8090)
	v.SetDefault("mock_gateway.pending_polls", 2)
	v.SetDefault("mock_gateway.rate_limit", 600)
	v.SetDefault("mock_gateway.auth_secret", "")
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
