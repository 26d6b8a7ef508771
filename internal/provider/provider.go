// Package provider defines the contract every verification delivery backend
// satisfies and ships the three WhatsApp variants: the session gateway
// (codes issued and checked server-side), Evolution API and the Cloud API
// (codes generated and compared locally, the transport only carries text).
package provider

import (
	"context"
	"time"
)

// Locus says where a provider's codes are generated and checked.
type Locus int

const (
	// ServerVerified providers delegate code storage and checking to the
	// backend. VerifyParams.ExpectedCode is ignored.
	ServerVerified Locus = iota + 1
	// ClientVerified providers generate the code locally and return it from
	// SendCode; the caller must keep it and pass it back as ExpectedCode.
	ClientVerified
)

func (l Locus) String() string {
	switch l {
	case ServerVerified:
		return "server"
	case ClientVerified:
		return "client"
	default:
		return "unknown"
	}
}

// SendParams are the inputs of Provider.SendCode.
type SendParams struct {
	Phone      string
	CodeLength int
	ExpiresIn  time.Duration // whole seconds; at least one
}

// SendResult is returned by a successful SendCode. Code is empty for
// server-verified providers whose backend does not disclose it.
type SendResult struct {
	Code      string
	ExpiresAt time.Time
}

// VerifyParams are the inputs of Provider.VerifyCode.
type VerifyParams struct {
	Phone        string
	Code         string // entered by the user
	ExpectedCode string // client-verified providers only
}

// VerifyResult is returned by a successful VerifyCode. Any error from
// VerifyCode means the code was not verified.
type VerifyResult struct {
	Verified bool
}

// Provider sends and checks one-time codes over a messaging channel.
// Implementations hold only static configuration and are safe for
// concurrent use. Each SendCode performs exactly one outbound request and
// never retries.
type Provider interface {
	Name() string
	Locus() Locus
	SendCode(ctx context.Context, p SendParams) (*SendResult, error)
	VerifyCode(ctx context.Context, p VerifyParams) (*VerifyResult, error)
}

func validateSend(name string, p SendParams) error {
	switch {
	case p.Phone == "":
		return &DeliveryError{Provider: name, Message: "phone is required", Err: ErrInvalidParams}
	case p.CodeLength < 1:
		return &DeliveryError{Provider: name, Message: "code length must be at least 1", Err: ErrInvalidParams}
	case p.ExpiresIn < time.Second:
		return &DeliveryError{Provider: name, Message: "expiry must be at least one second", Err: ErrInvalidParams}
	}
	return nil
}
