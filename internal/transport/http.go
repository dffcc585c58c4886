package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/pkg/retry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

// envelope is the merchant backend's response wrapper.
type envelope struct {
	Code    *json.Number    `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
	headers http.Header
	retry   retry.Config
	logger  zerolog.Logger
}

var _ Client = (*HTTPClient)(nil)

type Option func(*HTTPClient)

func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.client = c }
}

func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) { h.client.Timeout = d }
}

func WithHeader(key, value string) Option {
	return func(h *HTTPClient) { h.headers.Set(key, value) }
}

// WithRetry configures retries for GET requests. POSTs are never retried.
func WithRetry(cfg retry.Config) Option {
	return func(h *HTTPClient) { h.retry = cfg }
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *HTTPClient) { h.logger = l }
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		headers: http.Header{},
		retry:   retry.DefaultConfig(),
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *HTTPClient) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	cfg := h.retry
	cfg.Retryable = func(err error) bool {
		return domainErrors.KindOf(err).Category() == domainErrors.CategoryRetryable
	}
	cfg.OnRetry = func(n uint, err error) {
		h.logger.Warn().Err(err).Uint("attempt", n+1).Str("path", path).Msg("Retrying backend GET")
	}
	return retry.DoWithResult(ctx, cfg, func() (json.RawMessage, error) {
		return h.do(ctx, http.MethodGet, path, query, nil)
	})
}

func (h *HTTPClient) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return h.do(ctx, http.MethodPost, path, nil, body)
}

func (h *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	target := h.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, domainErrors.Wrap(domainErrors.KindParamInvalid, "request body is not serializable", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.KindInvalidConfig, "invalid backend url", err)
	}
	for k, vs := range h.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.KindNetworkError, "failed to read response", err)
	}

	h.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Backend request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, payload)
	}
	return unwrap(payload)
}

// unwrap strips the {code, message, data} envelope when present.
func unwrap(payload []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, domainErrors.Wrap(domainErrors.KindGatewayError, "malformed response", err)
	}
	_, hasCode := probe["code"]
	_, hasData := probe["data"]
	if !hasCode || (!hasData && len(probe) > 2) {
		return trimmed, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var env envelope
	if err := dec.Decode(&env); err != nil || env.Code == nil {
		return trimmed, nil
	}
	if code := env.Code.String(); code != "0" && code != "200" {
		msg := env.Message
		if msg == "" {
			msg = "backend rejected request"
		}
		return nil, domainErrors.Wrap(domainErrors.KindProviderInternal, msg, fmt.Errorf("backend code %s", code))
	}
	return env.Data, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domainErrors.Wrap(domainErrors.KindTimeout, "backend request timed out", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domainErrors.Wrap(domainErrors.KindTimeout, "backend request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return domainErrors.Wrap(domainErrors.KindUnknown, "backend request cancelled", err)
	}
	return domainErrors.Wrap(domainErrors.KindNetworkError, "backend unreachable", err)
}

func classifyStatus(status int, payload []byte) error {
	cause := fmt.Errorf("http status %d: %s", status, snippet(payload))
	switch {
	case status >= 500:
		return domainErrors.Wrap(domainErrors.KindGatewayError, "backend unavailable", cause)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domainErrors.Wrap(domainErrors.KindParamInvalid, "backend rejected parameters", cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domainErrors.Wrap(domainErrors.KindSignatureFailed, "backend refused credentials", cause)
	case status == http.StatusRequestTimeout:
		return domainErrors.Wrap(domainErrors.KindTimeout, "backend timed out", cause)
	default:
		return domainErrors.Wrap(domainErrors.KindUnknown, "unexpected backend status", cause)
	}
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max]
	}
	return s
}
