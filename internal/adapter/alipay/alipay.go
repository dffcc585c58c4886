// Package alipay adapts unified params and results to Alipay shapes.
package alipay

import (
	"encoding/json"
	"net/url"

	"github.com/cassiomorais/cashier/internal/adapter"
	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/go-pay/gopay"
)

const (
	ProductWap        = "QUICK_WAP_WAY"
	ProductPage       = "FAST_INSTANT_TRADE_PAY"
	ProductApp        = "QUICK_MSECURITY_PAY"
	ProductFaceToFace = "FACE_TO_FACE_PAYMENT"
)

var products = map[string]bool{
	ProductWap:        true,
	ProductPage:       true,
	ProductApp:        true,
	ProductFaceToFace: true,
}

const maxSubjectRunes = 256

type Config struct {
	AppID       string
	ProductCode string
	ReturnURL   string
}

type Adapter struct {
	cfg Config
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	if cfg.ProductCode == "" {
		cfg.ProductCode = ProductWap
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Validate(params payment.PayParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if code := a.productCode(params); !products[code] {
		return domainErrors.Wrap(domainErrors.KindParamInvalid, "unsupported product_code",
			domainErrors.NewValidationError("product_code", code))
	}
	return nil
}

func (a *Adapter) productCode(params payment.PayParams) string {
	if code := params.ExtraString("product_code"); code != "" {
		return code
	}
	return a.cfg.ProductCode
}

func (a *Adapter) Transform(params payment.PayParams) (gopay.BodyMap, error) {
	subject := params.Description
	if subject == "" {
		subject = "Order " + params.OrderID
	}

	bm := gopay.BodyMap{}
	bm.Set("subject", adapter.Truncate(subject, maxSubjectRunes)).
		Set("out_trade_no", params.OrderID).
		Set("total_amount", payment.FormatMajor(params.Amount)).
		Set("product_code", a.productCode(params))
	if a.cfg.AppID != "" {
		bm.Set("app_id", a.cfg.AppID)
	}
	if a.cfg.ReturnURL != "" {
		bm.Set("return_url", a.cfg.ReturnURL)
	}

	adapter.MergeExtra(bm, params.Extra)

	// passback_params must reach the gateway as a url-encoded JSON string
	if pb, ok := params.Extra["passback_params"]; ok {
		if _, isString := pb.(string); !isString {
			encoded, err := json.Marshal(pb)
			if err != nil {
				return nil, domainErrors.Wrap(domainErrors.KindParamInvalid, "passback_params is not serializable", err)
			}
			bm.Set("passback_params", url.QueryEscape(string(encoded)))
		}
	}
	return bm, nil
}

var resultCodes = map[string]payment.Status{
	"9000": payment.StatusSuccess,
	"8000": payment.StatusProcessing,
	"6004": payment.StatusProcessing,
	"6001": payment.StatusCancel,
	"6002": payment.StatusFail,
	"4000": payment.StatusFail,
	"5000": payment.StatusFail,
}

var resultMessages = map[string]string{
	"8000": "payment is being processed",
	"6004": "payment result unknown, check order status",
	"6001": "payment cancelled by user",
	"6002": "network connection error",
	"4000": "order payment failed",
	"5000": "duplicate request",
}

var tradeStatuses = map[string]payment.Status{
	"WAIT_BUYER_PAY": payment.StatusPending,
	"TRADE_SUCCESS":  payment.StatusSuccess,
	"TRADE_FINISHED": payment.StatusSuccess,
	"TRADE_CLOSED":   payment.StatusFail,
}

func (a *Adapter) Normalize(raw payment.Raw) payment.PayResult {
	if res, ok := adapter.NormalizeCommon(raw); ok {
		return res
	}

	if code := raw.String("resultCode"); code != "" {
		status, ok := resultCodes[code]
		if !ok {
			return adapter.Unrecognized(code, raw)
		}
		return build(status, tradeNo(raw), resultMessages[code], raw)
	}

	if ts := raw.String("trade_status"); ts != "" {
		status, ok := tradeStatuses[ts]
		if !ok {
			return adapter.Unrecognized(ts, raw)
		}
		msg := ""
		switch status {
		case payment.StatusPending:
			msg = "waiting for buyer to pay"
		case payment.StatusFail:
			msg = "trade closed"
		}
		return build(status, tradeNo(raw), msg, raw)
	}

	return adapter.Unrecognized(raw.String("code"), raw)
}

func build(status payment.Status, txID, msg string, raw payment.Raw) payment.PayResult {
	switch status {
	case payment.StatusSuccess:
		return payment.Success(txID, raw)
	case payment.StatusProcessing:
		return payment.Processing(msg, raw)
	case payment.StatusPending:
		return payment.Pending(msg, nil, raw)
	case payment.StatusCancel:
		return payment.Cancel(msg, raw)
	default:
		return payment.Fail(msg, raw)
	}
}

// tradeNo reads the Alipay trade number from a query response or a tradePay callback.
func tradeNo(raw payment.Raw) string {
	if no := raw.String("trade_no"); no != "" {
		return no
	}
	if no := raw.String("tradeNo"); no != "" {
		return no
	}
	// tradePay callbacks nest the gateway response as a JSON string under "result"
	if s := raw.String("result"); s != "" {
		var nested struct {
			Resp struct {
				TradeNo string `json:"trade_no"`
			} `json:"alipay_trade_app_pay_response"`
		}
		if json.Unmarshal([]byte(s), &nested) == nil {
			return nested.Resp.TradeNo
		}
	}
	return ""
}
