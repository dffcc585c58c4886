package invoker_test

import (
	"context"
	"errors"
	"testing"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/invoker"
	"github.com/cassiomorais/cashier/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uaDesktop = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)"
	uaWechat  = "Mozilla/5.0 (iPhone) MicroMessenger/8.0.40"
	uaAlipay  = "Mozilla/5.0 (iPhone) AlipayClient/10.5.0"
)

func web(b *testutil.MockBrowser, ch payment.Channel) invoker.Invoker {
	inv, _ := invoker.NewFactory(invoker.Environment{Browser: b}).Create(ch, invoker.TypeWeb)
	return inv
}

func TestWechatWeb_OutsideWechat(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		action   payment.ActionType
		value    string
		navigate bool
	}{
		{"mweb redirect", map[string]any{"mweb_url": "https://wx.tenpay.com/x"}, payment.ActionURLJump, "https://wx.tenpay.com/x", true},
		{"native qrcode", map[string]any{"code_url": "weixin://wxpay/bizpayurl?pr=1"}, payment.ActionQRCode, "weixin://wxpay/bizpayurl?pr=1", false},
		{"plain url", map[string]any{"url": "https://pay.example.com"}, payment.ActionURLJump, "https://pay.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewMockBrowser(uaDesktop)
			raw, err := web(b, payment.ChannelWechat).Invoke(context.Background(), testutil.MustJSON(tt.payload))

			require.NoError(t, err)
			action, ok := raw.ActionOf()
			require.True(t, ok)
			assert.Equal(t, tt.action, action.Type)
			assert.Equal(t, tt.value, action.Value)
			if tt.navigate {
				assert.Equal(t, []string{tt.value}, b.Navigated)
			} else {
				assert.Empty(t, b.Navigated)
			}
		})
	}
}

func TestWechatWeb_InsideWechatUsesJSAPI(t *testing.T) {
	b := testutil.NewMockBrowser(uaWechat)
	b.InvokeJSAPIFunc = func(_ context.Context, api string, args payment.Raw) (payment.Raw, error) {
		assert.Equal(t, "prepay_id=wx123", args.String("package"))
		return payment.Raw{"err_msg": "get_brand_wcpay_request:ok"}, nil
	}

	raw, err := web(b, payment.ChannelWechat).Invoke(context.Background(), jsapiPayload)

	require.NoError(t, err)
	assert.Equal(t, "get_brand_wcpay_request:ok", raw.String("err_msg"))
	assert.Equal(t, []string{"getBrandWCPayRequest"}, b.JSAPICalls)
	assert.Len(t, b.Scripts, 1)
}

func TestWechatWeb_ScriptLoadFailure(t *testing.T) {
	b := testutil.NewMockBrowser(uaWechat)
	b.LoadScriptFunc = func(context.Context, string) error { return errors.New("blocked") }

	_, err := web(b, payment.ChannelWechat).Invoke(context.Background(), jsapiPayload)

	assert.True(t, domainErrors.IsKind(err, domainErrors.KindInvokeFailed))
	assert.Empty(t, b.JSAPICalls)
}

func TestWechatWeb_UnsupportedPayload(t *testing.T) {
	_, err := web(testutil.NewMockBrowser(uaDesktop), payment.ChannelWechat).
		Invoke(context.Background(), testutil.MustJSON(map[string]any{"foo": "bar"}))

	assert.ErrorIs(t, err, domainErrors.ErrUnsupportedPayload)
}

func TestAlipayWeb_SubmitsForm(t *testing.T) {
	b := testutil.NewMockBrowser(uaDesktop)
	html := `<form name="punchout_form" method="post" action="https://openapi.alipay.com/gateway.do?charset=utf-8">` +
		`<input type="hidden" name="biz_content" value="{&#34;out_trade_no&#34;:&#34;O1&#34;}">` +
		`<input type="submit" value="Pay"></form>`

	raw, err := web(b, payment.ChannelAlipay).Invoke(context.Background(), testutil.MustJSON(html))

	require.NoError(t, err)
	require.Len(t, b.Submitted, 1)
	form := b.Submitted[0]
	assert.Equal(t, "POST", form.Method)
	assert.Equal(t, "https://openapi.alipay.com/gateway.do?charset=utf-8", form.Action)
	assert.Equal(t, `{"out_trade_no":"O1"}`, form.Fields["biz_content"])

	action, ok := raw.ActionOf()
	require.True(t, ok)
	assert.Equal(t, payment.ActionURLJump, action.Type)
}

func TestAlipayWeb_Shapes(t *testing.T) {
	b := testutil.NewMockBrowser(uaDesktop)
	inv := web(b, payment.ChannelAlipay)

	raw, err := inv.Invoke(context.Background(), testutil.MustJSON(map[string]any{"qr_code": "https://qr.alipay.com/x"}))
	require.NoError(t, err)
	action, _ := raw.ActionOf()
	assert.Equal(t, payment.ActionQRCode, action.Type)

	raw, err = inv.Invoke(context.Background(), testutil.MustJSON(map[string]any{"url": "https://openapi.alipay.com/pay"}))
	require.NoError(t, err)
	action, _ = raw.ActionOf()
	assert.Equal(t, payment.ActionURLJump, action.Type)
	assert.Equal(t, []string{"https://openapi.alipay.com/pay"}, b.Navigated)

	_, err = inv.Invoke(context.Background(), testutil.MustJSON("not a form"))
	assert.ErrorIs(t, err, domainErrors.ErrUnsupportedPayload)
}

func TestAlipayWeb_InsideAlipayUsesTradePay(t *testing.T) {
	b := testutil.NewMockBrowser(uaAlipay)
	b.InvokeJSAPIFunc = func(_ context.Context, api string, args payment.Raw) (payment.Raw, error) {
		assert.Equal(t, "tradePay", api)
		assert.Equal(t, "T9", args.String("tradeNO"))
		return payment.Raw{"resultCode": "6001"}, nil
	}

	raw, err := web(b, payment.ChannelAlipay).Invoke(context.Background(), testutil.MustJSON(map[string]any{"tradeNO": "T9"}))

	require.NoError(t, err)
	assert.Equal(t, "6001", raw.String("resultCode"))
	assert.Equal(t, "T9", raw.String("tradeNo"))
}

func TestStripeWeb_ConfirmsIntent(t *testing.T) {
	b := testutil.NewMockBrowser(uaDesktop)
	b.InvokeJSAPIFunc = func(_ context.Context, api string, args payment.Raw) (payment.Raw, error) {
		assert.Equal(t, "confirmCardPayment", api)
		return payment.Raw{"paymentIntent": map[string]any{"id": "pi_1", "status": "succeeded"}}, nil
	}

	raw, err := web(b, payment.ChannelStripe).Invoke(context.Background(), testutil.MustJSON(map[string]any{"client_secret": "cs"}))

	require.NoError(t, err)
	assert.Contains(t, raw, "paymentIntent")
	assert.Equal(t, []string{"https://js.stripe.com/v3/"}, b.Scripts)
}

func TestStripeWeb_CancelMessageResolves(t *testing.T) {
	b := testutil.NewMockBrowser(uaDesktop)
	b.InvokeJSAPIFunc = func(context.Context, string, payment.Raw) (payment.Raw, error) {
		return nil, errors.New("authentication modal cancelled")
	}

	raw, err := web(b, payment.ChannelStripe).Invoke(context.Background(), testutil.MustJSON(map[string]any{"client_secret": "cs"}))

	require.NoError(t, err)
	assert.True(t, raw.IsCancel())
}

func TestWeb_CustomHandler(t *testing.T) {
	b := testutil.NewMockBrowser(uaDesktop)
	f := invoker.NewFactory(invoker.Environment{Browser: b})

	inv, _ := f.Create(payment.ChannelMock, "")
	_, err := inv.Invoke(context.Background(), testutil.MustJSON(map[string]any{}))
	assert.True(t, domainErrors.IsKind(err, domainErrors.KindNotSupported))

	f.RegisterWebHandler(payment.ChannelMock, invoker.WechatWebHandler{})
	_, err = inv.Invoke(context.Background(), testutil.MustJSON(map[string]any{"code_url": "weixin://x"}))
	assert.NoError(t, err)
}

func TestParseForm(t *testing.T) {
	form, err := invoker.ParseForm(`<div><form action="/pay"><input name="a" value="1"><textarea name="b">two</textarea><input value="anon"></form></div>`)

	require.NoError(t, err)
	assert.Equal(t, "/pay", form.Action)
	assert.Equal(t, "GET", form.Method)
	assert.Equal(t, map[string]string{"a": "1", "b": "two"}, form.Fields)

	_, err = invoker.ParseForm(`<p>no form</p>`)
	assert.ErrorIs(t, err, domainErrors.ErrUnsupportedPayload)
}

func TestFormInvoker(t *testing.T) {
	b := testutil.NewMockBrowser(uaDesktop)
	raw, err := invoker.FormInvoker{Browser: b}.Invoke(context.Background(), testutil.MustJSON(`<form action="https://pay" method="post"></form>`))

	require.NoError(t, err)
	require.Len(t, b.Submitted, 1)
	action, ok := raw.ActionOf()
	require.True(t, ok)
	assert.Equal(t, "https://pay", action.Value)

	_, err = invoker.FormInvoker{}.Invoke(context.Background(), nil)
	assert.True(t, domainErrors.IsKind(err, domainErrors.KindNotSupported))
}
