package errors

import (
	"errors"
	"fmt"
)

var (
	// Orchestration errors
	ErrChannelNotRegistered = errors.New("payment channel not registered")
	ErrDuplicatePlugin      = errors.New("plugin already registered")
	ErrNoHostBound          = errors.New("strategy is not bound to a payment context")

	// Environment errors
	ErrEnvironmentUnavailable = errors.New("payment environment unavailable")
	ErrUnsupportedPayload     = errors.New("unsupported payment payload")

	// Polling errors
	ErrPollingLocked = errors.New("order is already being polled")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
)

// Kind classifies a payment failure.
type Kind string

const (
	KindParamInvalid     Kind = "PARAM_INVALID"
	KindUserCancel       Kind = "USER_CANCEL"
	KindNetworkError     Kind = "NETWORK_ERROR"
	KindTimeout          Kind = "TIMEOUT"
	KindGatewayError     Kind = "GATEWAY_ERROR"
	KindProviderInternal Kind = "PROVIDER_INTERNAL_ERROR"
	KindInvalidConfig    Kind = "INVALID_CONFIG"
	KindNotSupported     Kind = "NOT_SUPPORTED"
	KindSignatureFailed  Kind = "SIGNATURE_FAILED"
	KindInvokeFailed     Kind = "INVOKE_FAILED"
	KindInsufficientFund Kind = "INSUFFICIENT_FUNDS"
	KindOrderClosed      Kind = "ORDER_CLOSED"
	KindOrderExpired     Kind = "ORDER_EXPIRED"
	KindRiskControl      Kind = "RISK_CONTROL"
	KindPluginInterrupt  Kind = "PLUGIN_INTERRUPT"
	KindPluginError      Kind = "PLUGIN_ERROR"
	KindUnknown          Kind = "UNKNOWN"
)

// Category tells a caller how to present or react to a failure.
type Category string

const (
	CategorySilent    Category = "silent"
	CategoryRetryable Category = "retryable"
	CategoryFatal     Category = "fatal"
	CategoryUnknown   Category = "unknown"
)

func (k Kind) Category() Category {
	switch k {
	case KindUserCancel, KindPluginInterrupt:
		return CategorySilent
	case KindNetworkError, KindTimeout, KindGatewayError:
		return CategoryRetryable
	case KindParamInvalid, KindProviderInternal, KindInvalidConfig, KindNotSupported,
		KindSignatureFailed, KindInvokeFailed, KindInsufficientFund, KindOrderClosed,
		KindOrderExpired, KindRiskControl, KindPluginError:
		return CategoryFatal
	default:
		return CategoryUnknown
	}
}

// PayError wraps errors with a kind and the channel they surfaced on.
type PayError struct {
	Kind    Kind
	Message string
	Channel string
	Err     error
}

func (e *PayError) Error() string {
	msg := e.Message
	if e.Channel != "" {
		msg = fmt.Sprintf("[%s] %s", e.Channel, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *PayError) Unwrap() error {
	return e.Err
}

// Is matches another *PayError of the same kind, so errors.Is(err, &PayError{Kind: k}) works.
func (e *PayError) Is(target error) bool {
	t, ok := target.(*PayError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// IsUserCancel reports whether the user dismissed the provider UI.
func (e *PayError) IsUserCancel() bool {
	return e.Kind == KindUserCancel
}

// WithChannel returns a copy tagged with the channel name.
func (e *PayError) WithChannel(channel string) *PayError {
	cp := *e
	cp.Channel = channel
	return &cp
}

// New creates a new payment error
func New(kind Kind, message string) *PayError {
	return &PayError{Kind: kind, Message: message}
}

// Wrap creates a payment error around a cause.
func Wrap(kind Kind, message string, err error) *PayError {
	return &PayError{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first PayError in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var pe *PayError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	var pe *PayError
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsSilent reports whether err must not be rendered as an error state.
func IsSilent(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Category() == CategorySilent
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
