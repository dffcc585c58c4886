package strategy

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/cassiomorais/cashier/internal/adapter/wechat"
	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/invoker"
	"github.com/cassiomorais/cashier/internal/testutil"
	"github.com/cassiomorais/cashier/internal/transport"
	"github.com/go-pay/gopay"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	http     transport.Client
	invokers *invoker.Factory
}

func (h *fakeHost) HTTP() transport.Client      { return h.http }
func (h *fakeHost) Invokers() *invoker.Factory { return h.invokers }
func (h *fakeHost) Logger() zerolog.Logger     { return zerolog.Nop() }

func newHost(tr *testutil.MockTransport, env invoker.Environment) *fakeHost {
	return &fakeHost{http: tr, invokers: invoker.NewFactory(env)}
}

func params() payment.PayParams {
	return payment.PayParams{OrderID: "O1", Amount: 100, Currency: "CNY"}
}

func TestChannelStrategy_PayNativeQRCode(t *testing.T) {
	tr := testutil.NewMockTransport()
	tr.PostFunc = func(_ context.Context, path string, body any) (json.RawMessage, error) {
		assert.Equal(t, "/payment/wechat", path)
		bm, ok := body.(gopay.BodyMap)
		require.True(t, ok)
		assert.Equal(t, "NATIVE", bm["trade_type"])
		return testutil.MustJSON(map[string]any{"code_url": "weixin://wxpay/bizpayurl?pr=abc"}), nil
	}
	s := NewWechat(wechat.Config{AppID: "wx1", MchID: "m1"})
	host := newHost(tr, invoker.Environment{Browser: testutil.NewMockBrowser("Mozilla/5.0")})
	s.Bind(host)

	res := s.Pay(context.Background(), params(), tr, "")

	assert.Equal(t, payment.StatusPending, res.Status)
	require.NotNil(t, res.Action)
	assert.Equal(t, payment.ActionQRCode, res.Action.Type)
	assert.Equal(t, "weixin://wxpay/bizpayurl?pr=abc", res.Action.Value)
}

func TestChannelStrategy_ValidationFailsBeforeNetwork(t *testing.T) {
	tr := testutil.NewMockTransport()
	s := NewWechat(wechat.Config{})
	s.Bind(newHost(tr, invoker.Environment{}))

	p := params()
	p.Amount = 0
	res := s.Pay(context.Background(), p, tr, "")

	assert.Equal(t, payment.StatusFail, res.Status)
	assert.Equal(t, 0, tr.CallCount("POST"))
}

func TestChannelStrategy_BackendErrorBecomesFail(t *testing.T) {
	tr := testutil.NewMockTransport()
	tr.PostFunc = func(context.Context, string, any) (json.RawMessage, error) {
		return nil, domainErrors.New(domainErrors.KindProviderInternal, "order already paid")
	}
	s := NewWechat(wechat.Config{})
	s.Bind(newHost(tr, invoker.Environment{}))

	res := s.Pay(context.Background(), params(), tr, "")

	assert.Equal(t, payment.StatusFail, res.Status)
	assert.Contains(t, res.Message, "order already paid")
	assert.Contains(t, res.Message, "[wechat]")
}

func TestChannelStrategy_Unbound(t *testing.T) {
	tr := testutil.NewMockTransport()
	s := NewWechat(wechat.Config{})

	res := s.Pay(context.Background(), params(), tr, "")
	assert.Equal(t, payment.StatusFail, res.Status)
	assert.Equal(t, map[string]any{"code": "INVALID_CONFIG"}, res.Raw)

	_, err := s.GetStatus(context.Background(), "O1")
	assert.ErrorIs(t, err, domainErrors.ErrNoHostBound)
}

func TestChannelStrategy_InvokerCancel(t *testing.T) {
	tr := testutil.NewMockTransport()
	tr.PostFunc = func(context.Context, string, any) (json.RawMessage, error) {
		return testutil.MustJSON(map[string]any{"package": "prepay_id=1", "paySign": "sig"}), nil
	}
	mini := &testutil.MockWechatMini{RequestPaymentFunc: func(context.Context, payment.Raw) (payment.Raw, error) {
		return nil, &invoker.CallbackError{Raw: payment.Raw{"errMsg": "requestPayment:fail cancel"}}
	}}
	s := NewWechat(wechat.Config{})
	s.Bind(newHost(tr, invoker.Environment{WechatMini: mini}))

	p := params()
	p.Extra = map[string]any{"trade_type": "JSAPI", "openid": "o1"}
	res := s.Pay(context.Background(), p, tr, "")

	assert.Equal(t, payment.StatusCancel, res.Status)
}

func TestChannelStrategy_PanickingHostBecomesFail(t *testing.T) {
	tr := testutil.NewMockTransport()
	tr.PostFunc = func(context.Context, string, any) (json.RawMessage, error) {
		return testutil.MustJSON(map[string]any{"package": "prepay_id=1", "paySign": "sig"}), nil
	}
	mini := &testutil.MockWechatMini{RequestPaymentFunc: func(context.Context, payment.Raw) (payment.Raw, error) {
		var m map[string]any
		m["boom"] = 1
		return nil, nil
	}}
	s := NewWechat(wechat.Config{})
	s.Bind(newHost(tr, invoker.Environment{WechatMini: mini}))

	p := params()
	p.Extra = map[string]any{"trade_type": "JSAPI", "openid": "o1"}

	var res payment.PayResult
	require.NotPanics(t, func() { res = s.Pay(context.Background(), p, tr, "") })
	assert.Equal(t, payment.StatusFail, res.Status)
	assert.Equal(t, map[string]any{"code": "INVOKE_FAILED"}, res.Raw)
	assert.Contains(t, res.Message, "nil map")
}

func TestChannelStrategy_PanickingStatusQueryReturnsError(t *testing.T) {
	tr := testutil.NewMockTransport()
	panicking := true
	tr.GetFunc = func(context.Context, string, url.Values) (json.RawMessage, error) {
		if panicking {
			panic("decoder exploded")
		}
		return testutil.MustJSON(map[string]any{"trade_state": "NOTPAY"}), nil
	}
	s := NewWechat(wechat.Config{})
	s.Bind(newHost(tr, invoker.Environment{}))

	var err error
	require.NotPanics(t, func() { _, err = s.GetStatus(context.Background(), "O1") })
	assert.True(t, domainErrors.IsKind(err, domainErrors.KindUnknown))
	assert.Contains(t, err.Error(), "decoder exploded")

	panicking = false
	res, err := s.GetStatus(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, res.Status)
}

func TestChannelStrategy_GetStatus(t *testing.T) {
	tr := testutil.NewMockTransport()
	tr.GetFunc = func(_ context.Context, path string, q url.Values) (json.RawMessage, error) {
		assert.Equal(t, DefaultQueryPath, path)
		assert.Equal(t, "wechat", q.Get("channel"))
		assert.Equal(t, "O1", q.Get("orderId"))
		return testutil.MustJSON(map[string]any{"trade_state": "SUCCESS", "transaction_id": "4200"}), nil
	}
	s := NewWechat(wechat.Config{})
	s.Bind(newHost(tr, invoker.Environment{}))

	res, err := s.GetStatus(context.Background(), "O1")

	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, res.Status)
	assert.Equal(t, "4200", res.TransactionID)
}

func TestChannelStrategy_BreakerOpens(t *testing.T) {
	tr := testutil.NewMockTransport()
	tr.GetFunc = func(context.Context, string, url.Values) (json.RawMessage, error) {
		return nil, domainErrors.New(domainErrors.KindNetworkError, "connection refused")
	}
	s := NewWechat(wechat.Config{}, WithBreaker(BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}))
	s.Bind(newHost(tr, invoker.Environment{}))

	for range 2 {
		_, err := s.GetStatus(context.Background(), "O1")
		assert.True(t, domainErrors.IsKind(err, domainErrors.KindNetworkError))
	}
	_, err := s.GetStatus(context.Background(), "O1")

	assert.True(t, domainErrors.IsKind(err, domainErrors.KindGatewayError))
	assert.Equal(t, 2, tr.CallCount("GET"))
}

func TestChannelStrategy_ClientErrorsDoNotTripBreaker(t *testing.T) {
	tr := testutil.NewMockTransport()
	tr.GetFunc = func(context.Context, string, url.Values) (json.RawMessage, error) {
		return nil, domainErrors.New(domainErrors.KindParamInvalid, "bad order id")
	}
	s := NewWechat(wechat.Config{}, WithBreaker(BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureRatio: 0.5, MinRequests: 1}))
	s.Bind(newHost(tr, invoker.Environment{}))

	for range 3 {
		_, err := s.GetStatus(context.Background(), "O1")
		assert.True(t, domainErrors.IsKind(err, domainErrors.KindParamInvalid))
	}
	assert.Equal(t, 3, tr.CallCount("GET"))
}
