package session

import (
	"errors"

	"github.com/whatsapplogin/wal/internal/provider"
)

// ErrorKind classifies a recorded failure.
type ErrorKind string

const (
	KindMissingPhone ErrorKind = "missing_phone"
	KindMissingCode  ErrorKind = "missing_code"
	KindDelivery     ErrorKind = "delivery"
	KindInvalidCode  ErrorKind = "invalid_code"
	KindUnknown      ErrorKind = "unknown"
)

var (
	ErrMissingPhone = errors.New("phone number is required")
	ErrMissingCode  = errors.New("verification code is required")
)

// ErrorInfo is the failure a session records and reports to OnError.
// Message is safe to show to the user.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e ErrorInfo) Error() string { return e.Message }

func (e ErrorInfo) Unwrap() error { return e.Err }

func classify(err error) ErrorInfo {
	var (
		deliveryErr *provider.DeliveryError
		invalidErr  *provider.InvalidCodeError
	)
	switch {
	case errors.Is(err, ErrMissingPhone):
		return ErrorInfo{Kind: KindMissingPhone, Message: err.Error(), Err: err}
	case errors.Is(err, ErrMissingCode):
		return ErrorInfo{Kind: KindMissingCode, Message: err.Error(), Err: err}
	case errors.As(err, &deliveryErr):
		return ErrorInfo{Kind: KindDelivery, Message: nonEmpty(deliveryErr.Message, provider.MsgSendFailed), Err: err}
	case errors.As(err, &invalidErr):
		return ErrorInfo{Kind: KindInvalidCode, Message: nonEmpty(invalidErr.Message, provider.MsgInvalidCode), Err: err}
	default:
		return ErrorInfo{Kind: KindUnknown, Message: err.Error(), Err: err}
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
