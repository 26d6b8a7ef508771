package provider

import (
	"errors"
	"fmt"
)

// Fallback messages used when an upstream error cannot be decoded. They do
// not leak transport details.
const (
	MsgSendFailed  = "failed to send verification code"
	MsgInvalidCode = "invalid verification code"
)

var (
	// ErrInvalidParams is wrapped by DeliveryError when SendParams violate
	// the contract; no request is made in that case.
	ErrInvalidParams = errors.New("invalid send parameters")
	// ErrNoProvider is wrapped by ConfigurationError when neither a provider
	// nor the parameters to build one were supplied.
	ErrNoProvider = errors.New("no provider or transport parameters supplied")
)

// DeliveryError reports that a code could not be dispatched: the transport
// rejected the request or could not be reached.
type DeliveryError struct {
	Provider string
	Status   int // upstream HTTP status, 0 when none
	Message  string
	Err      error
}

func (e *DeliveryError) Error() string { return e.Message }

func (e *DeliveryError) Unwrap() error { return e.Err }

// InvalidCodeError reports that a code was rejected, either by the backend
// or by local comparison.
type InvalidCodeError struct {
	Provider string
	Message  string
}

func (e *InvalidCodeError) Error() string { return e.Message }

// ConfigurationError is returned at construction time when a provider
// cannot be built. It is not recoverable by retrying.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "provider configuration: " + e.Reason
	}
	return fmt.Sprintf("provider configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
