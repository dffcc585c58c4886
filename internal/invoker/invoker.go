// Package invoker triggers the provider payment UI in whatever host environment the engine runs in.
// Invokers hand back the provider's raw response; adapters interpret it.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
)

// Type names an execution environment.
type Type string

const (
	TypeUniApp     Type = "uniapp"
	TypeAlipayMini Type = "alipay-mini"
	TypeWechatMini Type = "wechat-mini"
	TypeBridge     Type = "bridge"
	TypeWeb        Type = "web"
)

// Invoker performs the side-effecting call for one channel in one environment.
type Invoker interface {
	Invoke(ctx context.Context, payload json.RawMessage) (payment.Raw, error)
}

// Func adapts a function to Invoker.
type Func func(ctx context.Context, payload json.RawMessage) (payment.Raw, error)

func (f Func) Invoke(ctx context.Context, payload json.RawMessage) (payment.Raw, error) {
	return f(ctx, payload)
}

// UniAppHost is the cross-platform requestPayment API.
type UniAppHost interface {
	RequestPayment(ctx context.Context, provider string, orderInfo payment.Raw) (payment.Raw, error)
}

// WechatMiniHost is the mini-program requestPayment API.
type WechatMiniHost interface {
	RequestPayment(ctx context.Context, params payment.Raw) (payment.Raw, error)
}

// AlipayMiniHost is the mini-program tradePay API.
type AlipayMiniHost interface {
	TradePay(ctx context.Context, tradeNO string) (payment.Raw, error)
}

// BridgeHost is a native shell reachable from an embedded web view.
type BridgeHost interface {
	Call(ctx context.Context, method string, data json.RawMessage) (payment.Raw, error)
}

// Browser is the plain web environment.
type Browser interface {
	UserAgent() string
	Navigate(ctx context.Context, url string) error
	SubmitForm(ctx context.Context, form Form) error
	LoadScript(ctx context.Context, src string) error
	InvokeJSAPI(ctx context.Context, api string, args payment.Raw) (payment.Raw, error)
}

// Environment holds the hosts available to this process. Nil hosts are absent.
type Environment struct {
	UniApp     UniAppHost
	WechatMini WechatMiniHost
	AlipayMini AlipayMiniHost
	Bridge     BridgeHost
	Browser    Browser
}

// CallbackError is returned by hosts whose provider answered through its failure callback.
type CallbackError struct {
	Raw payment.Raw
}

func (e *CallbackError) Error() string {
	if msg := callbackMessage(e.Raw); msg != "" {
		return msg
	}
	return "provider failure callback"
}

var cancelPhrases = []string{"cancel", "取消"}

// IsCancelMessage reports whether a provider message signals that the user dismissed the payment UI.
func IsCancelMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range cancelPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func callbackMessage(raw payment.Raw) string {
	for _, k := range []string{"errMsg", "err_msg", "errorMessage", "memo", "message"} {
		if s := raw.String(k); s != "" {
			return s
		}
	}
	return ""
}

// settle converts a host failure into either a cancel-shaped response or a categorized error.
func settle(source Type, err error) (payment.Raw, error) {
	var cbErr *CallbackError
	if errors.As(err, &cbErr) {
		msg := callbackMessage(cbErr.Raw)
		if IsCancelMessage(msg) {
			return payment.CancelRaw("payment cancelled by user", cbErr.Raw), nil
		}
		if msg == "" {
			msg = string(source) + " payment failed"
		}
		return nil, domainErrors.Wrap(domainErrors.KindProviderInternal, msg, err)
	}
	if domainErrors.KindOf(err) != domainErrors.KindUnknown {
		return nil, err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, domainErrors.Wrap(domainErrors.KindInvokeFailed, fmt.Sprintf("%s invoke interrupted", source), err)
	}
	if IsCancelMessage(err.Error()) {
		return payment.CancelRaw("payment cancelled by user", nil), nil
	}
	return nil, domainErrors.Wrap(domainErrors.KindInvokeFailed, fmt.Sprintf("%s invoke failed", source), err)
}

func decodeObject(payload json.RawMessage) (payment.Raw, error) {
	var raw payment.Raw
	if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
		return nil, domainErrors.Wrap(domainErrors.KindInvokeFailed, "payload is not an object", fmt.Errorf("%w: %v", domainErrors.ErrUnsupportedPayload, err))
	}
	return raw, nil
}

// decodeString returns the payload as a string when the backend answered with a bare JSON string.
func decodeString(payload json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return "", false
	}
	return s, true
}

func unavailable(t Type) error {
	return domainErrors.Wrap(domainErrors.KindNotSupported, string(t)+" host is not available", domainErrors.ErrEnvironmentUnavailable)
}
