// Package stripe adapts unified params and results to Stripe PaymentIntent shapes.
package stripe

import (
	"encoding/json"
	"strings"

	"github.com/cassiomorais/cashier/internal/adapter"
	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/go-pay/gopay"
	stripego "github.com/stripe/stripe-go/v74"
)

type Config struct {
	PublishableKey string
	// Currency is used when params carry none.
	Currency string
}

type Adapter struct {
	cfg Config
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) currency(params payment.PayParams) string {
	if params.Currency != "" {
		return strings.ToLower(params.Currency)
	}
	return strings.ToLower(a.cfg.Currency)
}

func (a *Adapter) Validate(params payment.PayParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if a.currency(params) == "" {
		return domainErrors.Wrap(domainErrors.KindParamInvalid, "currency is required",
			domainErrors.NewValidationError("currency", "is required for card payments"))
	}
	return nil
}

func (a *Adapter) Transform(params payment.PayParams) (gopay.BodyMap, error) {
	bm := gopay.BodyMap{}
	bm.Set("amount", params.Amount).
		Set("currency", a.currency(params)).
		SetBodyMap("metadata", func(m gopay.BodyMap) {
			m.Set("order_id", params.OrderID)
		})
	if params.Description != "" {
		bm.Set("description", params.Description)
	}
	if a.cfg.PublishableKey != "" {
		bm.Set("publishable_key", a.cfg.PublishableKey)
	}
	adapter.MergeExtra(bm, params.Extra)
	return bm, nil
}

func (a *Adapter) Normalize(raw payment.Raw) payment.PayResult {
	if res, ok := adapter.NormalizeCommon(raw); ok {
		return res
	}

	if errObj, ok := raw.Map("error"); ok {
		var se stripego.Error
		if decode(errObj, &se) == nil && se.Msg != "" {
			return payment.Fail(se.Msg, raw)
		}
		return payment.Fail("card payment failed", raw)
	}

	piRaw, ok := raw.Map("paymentIntent")
	if !ok {
		piRaw = raw
	}
	var pi stripego.PaymentIntent
	if err := decode(piRaw, &pi); err != nil || pi.Status == "" {
		return adapter.Unrecognized("", raw)
	}

	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		return payment.Success(pi.ID, raw)
	case stripego.PaymentIntentStatusProcessing, stripego.PaymentIntentStatusRequiresCapture:
		return payment.Processing("payment is processing", raw)
	case stripego.PaymentIntentStatusRequiresAction:
		var action *payment.Action
		if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil && pi.NextAction.RedirectToURL.URL != "" {
			action = &payment.Action{Type: payment.ActionURLJump, Value: pi.NextAction.RedirectToURL.URL}
		}
		return payment.Pending("additional authentication required", action, raw)
	case stripego.PaymentIntentStatusRequiresPaymentMethod:
		msg := "payment method declined"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			msg = pi.LastPaymentError.Msg
		}
		return payment.Fail(msg, raw)
	case stripego.PaymentIntentStatusCanceled:
		return payment.Cancel("payment intent canceled", raw)
	default:
		return adapter.Unrecognized(string(pi.Status), raw)
	}
}

func decode(raw payment.Raw, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
