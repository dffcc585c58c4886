// Package wechat adapts unified params and results to WeChat Pay shapes.
package wechat

import (
	"strings"

	"github.com/cassiomorais/cashier/internal/adapter"
	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/go-pay/gopay"
)

// TradeType is the WeChat Pay product used for the order.
type TradeType string

const (
	TradeJSAPI  TradeType = "JSAPI"
	TradeNative TradeType = "NATIVE"
	TradeMWeb   TradeType = "MWEB"
	TradeApp    TradeType = "APP"
)

func (t TradeType) Valid() bool {
	switch t {
	case TradeJSAPI, TradeNative, TradeMWeb, TradeApp:
		return true
	}
	return false
}

const maxBodyRunes = 128

type Config struct {
	AppID     string
	MchID     string
	NotifyURL string
	TradeType TradeType
}

type Adapter struct {
	cfg Config
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	if !cfg.TradeType.Valid() {
		cfg.TradeType = TradeNative
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Validate(params payment.PayParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if raw := params.ExtraString("trade_type"); raw != "" && !TradeType(raw).Valid() {
		return domainErrors.Wrap(domainErrors.KindParamInvalid, "unsupported trade_type",
			domainErrors.NewValidationError("extra.trade_type", raw))
	}
	if a.tradeType(params) == TradeJSAPI && params.ExtraString("openid") == "" {
		return domainErrors.Wrap(domainErrors.KindParamInvalid, "JSAPI mode requires an openid",
			domainErrors.NewValidationError("extra.openid", "is required for JSAPI"))
	}
	return nil
}

func (a *Adapter) tradeType(params payment.PayParams) TradeType {
	if t := TradeType(params.ExtraString("trade_type")); t.Valid() {
		return t
	}
	return a.cfg.TradeType
}

func (a *Adapter) Transform(params payment.PayParams) (gopay.BodyMap, error) {
	body := params.Description
	if body == "" {
		body = "Order " + params.OrderID
	}

	bm := gopay.BodyMap{}
	bm.Set("body", adapter.Truncate(body, maxBodyRunes)).
		Set("out_trade_no", params.OrderID).
		Set("total_fee", params.Amount)
	if params.Currency != "" {
		bm.Set("fee_type", strings.ToUpper(params.Currency))
	}
	if a.cfg.AppID != "" {
		bm.Set("appid", a.cfg.AppID)
	}
	if a.cfg.MchID != "" {
		bm.Set("mch_id", a.cfg.MchID)
	}
	if a.cfg.NotifyURL != "" {
		bm.Set("notify_url", a.cfg.NotifyURL)
	}

	adapter.MergeExtra(bm, params.Extra)
	bm.Set("trade_type", string(a.tradeType(params)))
	return bm, nil
}

var tradeStates = map[string]payment.Status{
	"SUCCESS":    payment.StatusSuccess,
	"NOTPAY":     payment.StatusPending,
	"USERPAYING": payment.StatusProcessing,
	"CLOSED":     payment.StatusFail,
	"REVOKED":    payment.StatusCancel,
	"PAYERROR":   payment.StatusFail,
	"REFUND":     payment.StatusFail,
}

func (a *Adapter) Normalize(raw payment.Raw) payment.PayResult {
	if res, ok := adapter.NormalizeCommon(raw); ok {
		return res
	}

	// mini program / uni-app callback: "requestPayment:ok"
	if msg := raw.String("errMsg"); msg != "" {
		return normalizeCallback(msg, "requestPayment", raw)
	}
	// in-app browser bridge: "get_brand_wcpay_request:ok"
	if msg := raw.String("err_msg"); msg != "" {
		return normalizeCallback(msg, "get_brand_wcpay_request", raw)
	}

	if state := raw.String("trade_state"); state != "" {
		status, ok := tradeStates[state]
		if !ok {
			return adapter.Unrecognized(state, raw)
		}
		switch status {
		case payment.StatusSuccess:
			return payment.Success(raw.String("transaction_id"), raw)
		case payment.StatusPending:
			return payment.Pending("order not paid yet", nil, raw)
		case payment.StatusProcessing:
			return payment.Processing("user is paying", raw)
		case payment.StatusCancel:
			return payment.Cancel(stateMessage(raw, "order revoked"), raw)
		default:
			return payment.Fail(stateMessage(raw, "order "+strings.ToLower(state)), raw)
		}
	}

	return adapter.Unrecognized(raw.String("return_code"), raw)
}

func normalizeCallback(msg, api string, raw payment.Raw) payment.PayResult {
	outcome, found := strings.CutPrefix(msg, api+":")
	if !found {
		return adapter.Unrecognized(msg, raw)
	}
	switch {
	case outcome == "ok":
		txID := raw.String("transaction_id")
		if txID == "" {
			txID = raw.String("package")
		}
		return payment.Success(txID, raw)
	case strings.Contains(outcome, "cancel"):
		return payment.Cancel("payment cancelled by user", raw)
	case strings.HasPrefix(outcome, "fail"):
		return payment.Fail(msg, raw)
	default:
		return adapter.Unrecognized(msg, raw)
	}
}

func stateMessage(raw payment.Raw, fallback string) string {
	if d := raw.String("trade_state_desc"); d != "" {
		return d
	}
	return fallback
}
