package testutil

import (
	"encoding/json"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/google/uuid"
)

func NewTestParams(amount int64) payment.PayParams {
	return payment.PayParams{
		OrderID:     "ORD-" + uuid.NewString()[:8],
		Amount:      amount,
		Currency:    "CNY",
		Description: "test order",
	}
}

// MustJSON marshals v or panics; for building canned backend payloads.
func MustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func QRCodePending(value string) payment.PayResult {
	return payment.Pending("waiting for scan", &payment.Action{Type: payment.ActionQRCode, Value: value}, nil)
}
