package alipay

import (
	"net/url"
	"testing"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	a := New(Config{AppID: "2021"})

	assert.NoError(t, a.Validate(payment.PayParams{OrderID: "O1", Amount: 1}))

	err := a.Validate(payment.PayParams{OrderID: "O1", Amount: 0})
	assert.True(t, domainErrors.IsKind(err, domainErrors.KindParamInvalid))

	err = a.Validate(payment.PayParams{OrderID: "O1", Amount: 1, Extra: map[string]any{"product_code": "NOPE"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product_code")
}

func TestTransform(t *testing.T) {
	a := New(Config{AppID: "2021", ReturnURL: "https://m.example/done"})

	bm, err := a.Transform(payment.PayParams{
		OrderID:     "O1",
		Amount:      1005,
		Description: "Coffee",
		Extra: map[string]any{
			"timeout_express": "15m",
			"passback_params": map[string]any{"shop": "s1"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Coffee", bm["subject"])
	assert.Equal(t, "O1", bm["out_trade_no"])
	assert.Equal(t, "10.05", bm["total_amount"])
	assert.Equal(t, ProductWap, bm["product_code"])
	assert.Equal(t, "2021", bm["app_id"])
	assert.Equal(t, "https://m.example/done", bm["return_url"])
	assert.Equal(t, "15m", bm["timeout_express"])

	decoded, err := url.QueryUnescape(bm["passback_params"].(string))
	require.NoError(t, err)
	assert.JSONEq(t, `{"shop":"s1"}`, decoded)
}

func TestTransform_StringPassbackIsKept(t *testing.T) {
	bm, err := New(Config{}).Transform(payment.PayParams{OrderID: "O1", Amount: 1, Extra: map[string]any{"passback_params": "raw"}})
	require.NoError(t, err)
	assert.Equal(t, "raw", bm["passback_params"])
	assert.Equal(t, "0.01", bm["total_amount"])
}

func TestNormalize(t *testing.T) {
	a := New(Config{})

	tests := []struct {
		name   string
		raw    payment.Raw
		status payment.Status
		txID   string
	}{
		{"9000 success", payment.Raw{"resultCode": "9000", "trade_no": "A1"}, payment.StatusSuccess, "A1"},
		{"9000 nested result", payment.Raw{"resultCode": "9000", "result": `{"alipay_trade_app_pay_response":{"trade_no":"A2"}}`}, payment.StatusSuccess, "A2"},
		{"8000 processing", payment.Raw{"resultCode": "8000"}, payment.StatusProcessing, ""},
		{"6004 processing", payment.Raw{"resultCode": "6004"}, payment.StatusProcessing, ""},
		{"6001 cancel", payment.Raw{"resultCode": "6001"}, payment.StatusCancel, ""},
		{"6002 fail", payment.Raw{"resultCode": "6002"}, payment.StatusFail, ""},
		{"4000 fail", payment.Raw{"resultCode": "4000"}, payment.StatusFail, ""},
		{"unknown code", payment.Raw{"resultCode": "1234"}, payment.StatusFail, ""},
		{"numeric code", payment.Raw{"resultCode": 9000}, payment.StatusSuccess, ""},
		{"query waiting", payment.Raw{"trade_status": "WAIT_BUYER_PAY"}, payment.StatusPending, ""},
		{"query success", payment.Raw{"trade_status": "TRADE_SUCCESS", "trade_no": "Q1"}, payment.StatusSuccess, "Q1"},
		{"query finished", payment.Raw{"trade_status": "TRADE_FINISHED"}, payment.StatusSuccess, ""},
		{"query closed", payment.Raw{"trade_status": "TRADE_CLOSED"}, payment.StatusFail, ""},
		{"query unknown", payment.Raw{"trade_status": "TRADE_WHATEVER"}, payment.StatusFail, ""},
		{"cancel marker", payment.CancelRaw("closed", nil), payment.StatusCancel, ""},
		{"url action", payment.ActionRaw(payment.ActionURLJump, "https://openapi.alipay.com/x"), payment.StatusPending, ""},
		{"empty", payment.Raw{}, payment.StatusFail, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Normalize(tt.raw)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.txID, res.TransactionID)
		})
	}
}
