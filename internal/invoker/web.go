package invoker

import (
	"context"
	"encoding/json"
	"strings"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
)

// WebHandler runs one channel's payment flow in a browser.
type WebHandler interface {
	Handle(ctx context.Context, browser Browser, payload json.RawMessage) (payment.Raw, error)
}

type webInvoker struct {
	channel  payment.Channel
	browser  Browser
	handlers *Factory
}

func (i *webInvoker) Invoke(ctx context.Context, payload json.RawMessage) (payment.Raw, error) {
	if i.browser == nil {
		return nil, unavailable(TypeWeb)
	}
	h, ok := i.handlers.webHandler(i.channel)
	if !ok {
		return nil, domainErrors.New(domainErrors.KindNotSupported, "no web handler for channel "+string(i.channel))
	}
	res, err := h.Handle(ctx, i.browser, payload)
	if err != nil {
		return settle(TypeWeb, err)
	}
	return res, nil
}

const (
	wechatJSSDK = "https://res.wx.qq.com/open/js/jweixin-1.6.0.js"
	alipayJSSDK = "https://gw.alipayobjects.com/as/g/h5-lib/alipayjsapi/3.1.1/alipayjsapi.min.js"
	stripeJS    = "https://js.stripe.com/v3/"
)

func userAgentContains(b Browser, marker string) bool {
	return strings.Contains(strings.ToLower(b.UserAgent()), marker)
}

func redirect(ctx context.Context, b Browser, url string) (payment.Raw, error) {
	if err := b.Navigate(ctx, url); err != nil {
		return nil, err
	}
	return payment.ActionRaw(payment.ActionURLJump, url), nil
}

func unsupported(msg string) error {
	return domainErrors.Wrap(domainErrors.KindInvokeFailed, msg, domainErrors.ErrUnsupportedPayload)
}

// WechatWebHandler uses the in-app JSAPI bridge inside the wechat browser and
// redirects or shows a QR code everywhere else.
type WechatWebHandler struct{}

func (WechatWebHandler) Handle(ctx context.Context, b Browser, payload json.RawMessage) (payment.Raw, error) {
	data, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}

	if !userAgentContains(b, "micromessenger") {
		if u := data.String("mweb_url"); u != "" {
			return redirect(ctx, b, u)
		}
		if c := data.String("code_url"); c != "" {
			return payment.ActionRaw(payment.ActionQRCode, c), nil
		}
		if u := data.String("url"); u != "" {
			return redirect(ctx, b, u)
		}
		return nil, unsupported("invalid wechat payload for web environment")
	}

	if data.String("paySign") == "" {
		return nil, unsupported("wechat browser payment requires a signed JSAPI payload")
	}
	if err := b.LoadScript(ctx, wechatJSSDK); err != nil {
		return nil, domainErrors.Wrap(domainErrors.KindInvokeFailed, "failed to load wechat sdk", err)
	}
	return b.InvokeJSAPI(ctx, "getBrandWCPayRequest", data)
}

// AlipayWebHandler covers tradePay inside the alipay client, page forms, redirects and QR codes.
type AlipayWebHandler struct{}

func (AlipayWebHandler) Handle(ctx context.Context, b Browser, payload json.RawMessage) (payment.Raw, error) {
	if s, ok := decodeString(payload); ok {
		if strings.Contains(s, "<form") {
			return submitForm(ctx, b, s)
		}
		return nil, unsupported("unsupported alipay payload")
	}

	data, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}

	tradeNO := data.String("tradeNO")
	if tradeNO == "" {
		tradeNO = data.String("trade_no")
	}
	if userAgentContains(b, "alipayclient") && tradeNO != "" {
		if err := b.LoadScript(ctx, alipayJSSDK); err != nil {
			return nil, domainErrors.Wrap(domainErrors.KindInvokeFailed, "failed to load alipay sdk", err)
		}
		res, err := b.InvokeJSAPI(ctx, "tradePay", payment.Raw{"tradeNO": tradeNO})
		if err != nil {
			return nil, err
		}
		out := res.Clone()
		if out == nil {
			out = payment.Raw{}
		}
		if out.String("tradeNo") == "" {
			out["tradeNo"] = tradeNO
		}
		return out, nil
	}

	if f := data.String("form"); strings.Contains(f, "<form") {
		return submitForm(ctx, b, f)
	}
	if u := data.String("url"); u != "" {
		return redirect(ctx, b, u)
	}
	for _, k := range []string{"qrCodeUrl", "qr_code"} {
		if c := data.String(k); c != "" {
			return payment.ActionRaw(payment.ActionQRCode, c), nil
		}
	}
	return nil, unsupported("unsupported alipay payload")
}

// StripeWebHandler confirms a PaymentIntent with Stripe.js.
type StripeWebHandler struct{}

func (StripeWebHandler) Handle(ctx context.Context, b Browser, payload json.RawMessage) (payment.Raw, error) {
	data, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}
	if data.String("client_secret") == "" {
		return nil, unsupported("stripe payload lacks a client secret")
	}
	if err := b.LoadScript(ctx, stripeJS); err != nil {
		return nil, domainErrors.Wrap(domainErrors.KindInvokeFailed, "failed to load stripe.js", err)
	}
	return b.InvokeJSAPI(ctx, "confirmCardPayment", data)
}
