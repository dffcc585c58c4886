package payment

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/go-playground/validator/v10"
)

// Status is the unified outcome of a payment attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFail       Status = "fail"
	StatusCancel     Status = "cancel"
)

// IsTerminal reports whether the status ends the attempt's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFail || s == StatusCancel
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFail, StatusCancel:
		return true
	}
	return false
}

// Channel names a payment provider or method.
type Channel string

const (
	ChannelWechat Channel = "wechat"
	ChannelAlipay Channel = "alipay"
	ChannelStripe Channel = "stripe"
	ChannelMock   Channel = "mock"
)

// ActionType is the UI affordance a pending result asks for.
type ActionType string

const (
	ActionQRCode  ActionType = "qrcode"
	ActionURLJump ActionType = "url_jump"
)

type Action struct {
	Type  ActionType `json:"type"`
	Value string     `json:"value"`
}

// Raw is an un-normalized provider response.
type Raw map[string]any

// String returns the value under key formatted as a string, or "" when absent.
func (r Raw) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Map returns the nested object under key.
func (r Raw) Map(key string) (Raw, bool) {
	switch v := r[key].(type) {
	case Raw:
		return v, true
	case map[string]any:
		return Raw(v), true
	}
	return nil, false
}

func (r Raw) Clone() Raw {
	if r == nil {
		return nil
	}
	out := make(Raw, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// PayParams is the caller's unified payment request. Amount is in minor units.
type PayParams struct {
	OrderID     string         `json:"orderId" validate:"required"`
	Amount      int64          `json:"amount" validate:"gt=0"`
	Currency    string         `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Description string         `json:"description,omitempty" validate:"max=512"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Clone copies params so plugins can mutate the copy safely.
func (p PayParams) Clone() PayParams {
	cp := p
	if p.Extra != nil {
		cp.Extra = make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

// ExtraString returns extra[key] when it is a non-empty string.
func (p PayParams) ExtraString(key string) string {
	if s, ok := p.Extra[key].(string); ok {
		return s
	}
	return ""
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks the channel-independent invariants: orderId non-empty, amount > 0.
func (p PayParams) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return domainErrors.Wrap(
			domainErrors.KindParamInvalid,
			fmt.Sprintf("invalid %s", fe.Field()),
			domainErrors.NewValidationError(fe.Field(), describe(fe)),
		)
	}
	return domainErrors.Wrap(domainErrors.KindParamInvalid, "invalid params", err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// MinorFromMajor converts a major-unit amount (e.g. 12.34) to minor units, rounding half away from zero.
func MinorFromMajor(major float64) int64 {
	return int64(math.Round(major * 100))
}

// FormatMajor renders minor units as a two-decimal major-unit string.
func FormatMajor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// PayResult is the normalized outcome of a pay or status query.
type PayResult struct {
	Status        Status  `json:"status"`
	TransactionID string  `json:"transactionId,omitempty"`
	Message       string  `json:"message,omitempty"`
	Raw           any     `json:"raw,omitempty"`
	Action        *Action `json:"action,omitempty"`
}

func Success(transactionID string, raw any) PayResult {
	return PayResult{Status: StatusSuccess, TransactionID: transactionID, Raw: raw}
}

func Fail(message string, raw any) PayResult {
	return PayResult{Status: StatusFail, Message: message, Raw: raw}
}

func Cancel(message string, raw any) PayResult {
	return PayResult{Status: StatusCancel, Message: message, Raw: raw}
}

func Processing(message string, raw any) PayResult {
	return PayResult{Status: StatusProcessing, Message: message, Raw: raw}
}

// Pending builds a pending result; action may be nil for an ordinary pending.
func Pending(message string, action *Action, raw any) PayResult {
	return PayResult{Status: StatusPending, Message: message, Action: action, Raw: raw}
}

// FromError converts a pipeline error into a result: user cancellation maps to cancel, anything else to fail.
func FromError(err error) PayResult {
	kind := domainErrors.KindOf(err)
	raw := map[string]any{"code": string(kind)}
	if kind == domainErrors.KindUserCancel || kind == domainErrors.KindPluginInterrupt {
		return Cancel(err.Error(), raw)
	}
	return Fail(err.Error(), raw)
}

const (
	rawStatusKey  = "status"
	rawMessageKey = "message"
	rawActionKey  = "action"
	rawValueKey   = "value"
)

// CancelRaw marks a provider response as a user cancellation so every adapter can normalize it uniformly.
func CancelRaw(message string, original Raw) Raw {
	out := original.Clone()
	if out == nil {
		out = Raw{}
	}
	out[rawStatusKey] = string(StatusCancel)
	out[rawMessageKey] = message
	return out
}

// IsCancel reports whether the response carries the cancellation marker.
func (r Raw) IsCancel() bool {
	return r.String(rawStatusKey) == string(StatusCancel)
}

// ActionRaw describes a pending UI affordance produced by an invoker.
func ActionRaw(t ActionType, value string) Raw {
	return Raw{rawActionKey: string(t), rawValueKey: value}
}

// ActionOf extracts an action written by ActionRaw.
func (r Raw) ActionOf() (*Action, bool) {
	t := ActionType(r.String(rawActionKey))
	if t != ActionQRCode && t != ActionURLJump {
		return nil, false
	}
	v := r.String(rawValueKey)
	if v == "" {
		return nil, false
	}
	return &Action{Type: t, Value: v}, true
}
