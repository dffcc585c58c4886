package payment_test

import (
	"errors"
	"testing"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayParams_Validate_Valid(t *testing.T) {
	p := payment.PayParams{OrderID: "O1", Amount: 100, Currency: "CNY"}
	assert.NoError(t, p.Validate())
}

func TestPayParams_Validate_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		p     payment.PayParams
		field string
	}{
		{"missing order id", payment.PayParams{Amount: 100}, "orderId"},
		{"zero amount", payment.PayParams{OrderID: "O1"}, "amount"},
		{"negative amount", payment.PayParams{OrderID: "O1", Amount: -5}, "amount"},
		{"bad currency length", payment.PayParams{OrderID: "O1", Amount: 1, Currency: "US"}, "currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			require.Error(t, err)
			assert.True(t, domainErrors.IsKind(err, domainErrors.KindParamInvalid))

			var ve *domainErrors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestPayParams_Clone_CopiesExtra(t *testing.T) {
	p := payment.PayParams{OrderID: "O1", Amount: 1, Extra: map[string]any{"openid": "abc"}}
	cp := p.Clone()
	cp.Extra["openid"] = "changed"

	assert.Equal(t, "abc", p.Extra["openid"])
	assert.Equal(t, "abc", p.ExtraString("openid"))
	assert.Equal(t, "", p.ExtraString("missing"))
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, payment.StatusSuccess.IsTerminal())
	assert.True(t, payment.StatusFail.IsTerminal())
	assert.True(t, payment.StatusCancel.IsTerminal())
	assert.False(t, payment.StatusPending.IsTerminal())
	assert.False(t, payment.StatusProcessing.IsTerminal())
	assert.False(t, payment.Status("bogus").Valid())
}

func TestMinorFromMajor(t *testing.T) {
	assert.Equal(t, int64(1234), payment.MinorFromMajor(12.34))
	assert.Equal(t, int64(1), payment.MinorFromMajor(0.005))
	assert.Equal(t, int64(1999), payment.MinorFromMajor(19.99))
}

func TestFormatMajor(t *testing.T) {
	assert.Equal(t, "0.01", payment.FormatMajor(1))
	assert.Equal(t, "100.50", payment.FormatMajor(10050))
	assert.Equal(t, "-2.05", payment.FormatMajor(-205))
}

func TestRaw_String(t *testing.T) {
	raw := payment.Raw{"code": "9000", "n": 42, "nil": nil}

	assert.Equal(t, "9000", raw.String("code"))
	assert.Equal(t, "42", raw.String("n"))
	assert.Equal(t, "", raw.String("nil"))
	assert.Equal(t, "", raw.String("absent"))
}

func TestRaw_Map(t *testing.T) {
	raw := payment.Raw{"pi": map[string]any{"id": "pi_1"}, "s": "x"}

	nested, ok := raw.Map("pi")
	require.True(t, ok)
	assert.Equal(t, "pi_1", nested.String("id"))

	_, ok = raw.Map("s")
	assert.False(t, ok)
}

func TestFromError(t *testing.T) {
	cancel := payment.FromError(domainErrors.New(domainErrors.KindUserCancel, "closed"))
	assert.Equal(t, payment.StatusCancel, cancel.Status)

	fail := payment.FromError(domainErrors.New(domainErrors.KindNetworkError, "offline"))
	assert.Equal(t, payment.StatusFail, fail.Status)
	assert.Contains(t, fail.Message, "offline")
	assert.Equal(t, map[string]any{"code": "NETWORK_ERROR"}, fail.Raw)
}

func TestCancelRaw(t *testing.T) {
	original := payment.Raw{"errMsg": "requestPayment:fail cancel"}
	raw := payment.CancelRaw("user cancelled", original)

	assert.True(t, raw.IsCancel())
	assert.Equal(t, "requestPayment:fail cancel", raw.String("errMsg"))
	assert.False(t, original.IsCancel(), "original is not mutated")
	assert.True(t, payment.CancelRaw("x", nil).IsCancel())
}

func TestActionRaw(t *testing.T) {
	action, ok := payment.ActionRaw(payment.ActionQRCode, "weixin://pay").ActionOf()
	require.True(t, ok)
	assert.Equal(t, payment.ActionQRCode, action.Type)
	assert.Equal(t, "weixin://pay", action.Value)

	_, ok = payment.Raw{"action": "form_submitted"}.ActionOf()
	assert.False(t, ok)
	_, ok = payment.ActionRaw(payment.ActionURLJump, "").ActionOf()
	assert.False(t, ok)
}
