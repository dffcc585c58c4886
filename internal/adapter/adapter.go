// Package adapter translates between unified payment params/results and a channel's wire shapes.
package adapter

import (
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/go-pay/gopay"
)

// Adapter is pure: no I/O, no shared mutable state.
type Adapter interface {
	// Validate fails with PARAM_INVALID before any network call.
	Validate(params payment.PayParams) error
	// Transform builds the channel request body sent to the merchant backend.
	Transform(params payment.PayParams) (gopay.BodyMap, error)
	// Normalize maps a raw provider response to exactly one status; unknown codes map to fail.
	Normalize(raw payment.Raw) payment.PayResult
}

// MergeExtra copies caller overrides into bm, replacing defaults.
func MergeExtra(bm gopay.BodyMap, extra map[string]any) {
	for k, v := range extra {
		bm.Set(k, v)
	}
}

// Truncate shortens s to max runes, ending with "..." when cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// NormalizeCommon handles the shapes every channel shares: the cancel marker and invoker actions.
func NormalizeCommon(raw payment.Raw) (payment.PayResult, bool) {
	if raw == nil {
		return payment.Fail("empty provider response", nil), true
	}
	if raw.IsCancel() {
		msg := raw.String("message")
		if msg == "" {
			msg = "payment cancelled by user"
		}
		return payment.Cancel(msg, raw), true
	}
	if action, ok := raw.ActionOf(); ok {
		msg := "waiting for payment"
		if action.Type == payment.ActionQRCode {
			msg = "waiting for scan"
		}
		return payment.Pending(msg, action, raw), true
	}
	return payment.PayResult{}, false
}

// Unrecognized is the fail-closed result for codes the table does not know.
func Unrecognized(code string, raw payment.Raw) payment.PayResult {
	if code == "" {
		return payment.Fail("unrecognized provider response", raw)
	}
	return payment.Fail("unrecognized provider code: "+code, raw)
}
