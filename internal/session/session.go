// Package session implements the phone verification state machine: it owns
// the phone and code the user entered, asks a provider to send and check
// the one-time code, and records the outcome as state.
//
// Operations never return errors. Failures are recorded (Status()==
// StatusError, Err() populated) and reported to the OnError callback.
//
// Overlapping calls are not serialized. State is guarded for concurrent
// reads, but the lock is released while the provider call is in flight, so
// two SendCode calls made before the first resolves race and the last one to
// resolve wins.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whatsapplogin/wal/internal/expiry"
	"github.com/whatsapplogin/wal/internal/provider"
)

const (
	DefaultCodeLength = 6
	DefaultCodeExpiry = 300 * time.Second
)

// Status is the position of a session in the verification flow.
type Status int

const (
	StatusIdle Status = iota
	StatusSending
	StatusCodeSent
	StatusVerifying
	StatusSuccess
	StatusError
)

var statusNames = [...]string{"idle", "sending", "code_sent", "verifying", "success", "error"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText renders the status as its snake_case name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is a point-in-time copy of a session's public fields.
type State struct {
	Phone     string     `json:"phone"`
	Code      string     `json:"code"`
	Status    Status     `json:"status"`
	Error     *ErrorInfo `json:"error"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// Success is delivered to OnSuccess once a code is verified.
type Success struct {
	Phone string
}

// Options configure a Session. Provider wins over Transport; when both are
// empty New fails with *provider.ConfigurationError.
type Options struct {
	Provider  provider.Provider
	Transport provider.Options

	CodeLength int           // DefaultCodeLength when zero
	CodeExpiry time.Duration // DefaultCodeExpiry when zero

	OnSuccess func(Success)
	OnError   func(ErrorInfo)
	// OnChange observes every transition, including the synchronous move
	// to sending/verifying before the provider is called.
	OnChange func(State)

	Logger            *slog.Logger
	Now               func() time.Time
	CountdownInterval time.Duration
}

// Session is a single verification attempt, reusable through Reset.
type Session struct {
	id         string
	provider   provider.Provider
	codeLength int
	codeExpiry time.Duration
	onSuccess  func(Success)
	onError    func(ErrorInfo)
	onChange   func(State)
	logger     *slog.Logger
	countdown  expiry.Countdown

	lifetime context.Context
	close    context.CancelFunc

	mu        sync.Mutex
	phone     string
	code      string
	status    Status
	err       *ErrorInfo
	expiresAt *time.Time
	// pendingCode is the code a client-verified provider issued. It never
	// leaves the session.
	pendingCode string
}

// New creates an idle session.
func New(opts Options) (*Session, error) {
	transport := opts.Transport
	transport.Provider = opts.Provider
	if transport.Logger == nil {
		transport.Logger = opts.Logger
	}
	p, err := provider.New(transport)
	if err != nil {
		return nil, err
	}

	codeLength := opts.CodeLength
	switch {
	case codeLength == 0:
		codeLength = DefaultCodeLength
	case codeLength < 0:
		return nil, &provider.ConfigurationError{Field: "code_length", Reason: "must be at least 1"}
	}
	codeExpiry := opts.CodeExpiry
	switch {
	case codeExpiry == 0:
		codeExpiry = DefaultCodeExpiry
	case codeExpiry < time.Second:
		return nil, &provider.ConfigurationError{Field: "code_expiry", Reason: "must be at least one second"}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	lifetime, cancel := context.WithCancel(context.Background())

	return &Session{
		id:         id,
		provider:   p,
		codeLength: codeLength,
		codeExpiry: codeExpiry,
		onSuccess:  opts.OnSuccess,
		onError:    opts.OnError,
		onChange:   opts.OnChange,
		logger:     logger.With("session_id", id, "provider", p.Name()),
		countdown:  expiry.Countdown{Interval: opts.CountdownInterval, Now: opts.Now},
		lifetime:   lifetime,
		close:      cancel,
	}, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Provider returns the provider the session dispatches to.
func (s *Session) Provider() provider.Provider { return s.provider }

// SendCode asks the provider to deliver a code to phone, or to the stored
// phone when phone is empty. Any previously issued code is discarded first.
func (s *Session) SendCode(ctx context.Context, phone string) {
	s.mu.Lock()
	target := phone
	if target == "" {
		target = s.phone
	}
	if target == "" {
		s.fail(ErrMissingPhone)
		return
	}
	s.status = StatusSending
	s.err = nil
	s.pendingCode = ""
	s.changed()

	res, err := s.provider.SendCode(ctx, provider.SendParams{
		Phone:      target,
		CodeLength: s.codeLength,
		ExpiresIn:  s.codeExpiry,
	})

	if err == nil && res == nil {
		err = &provider.DeliveryError{Provider: s.provider.Name(), Message: provider.MsgSendFailed}
	}

	s.mu.Lock()
	if err != nil {
		s.fail(err)
		return
	}
	if s.provider.Locus() == provider.ClientVerified {
		s.pendingCode = res.Code
	}
	expiresAt := res.ExpiresAt
	s.expiresAt = &expiresAt
	s.phone = target
	s.status = StatusCodeSent
	s.changed()

	s.logger.Info("verification code sent", "phone", target, "expires_at", expiresAt)
}

// VerifyCode checks code, or the stored code when code is empty, against the
// phone the last code was sent to.
func (s *Session) VerifyCode(ctx context.Context, code string) {
	s.mu.Lock()
	target := code
	if target == "" {
		target = s.code
	}
	if target == "" {
		s.fail(ErrMissingCode)
		return
	}
	s.code = target
	s.status = StatusVerifying
	s.err = nil
	phone := s.phone
	expected := s.pendingCode
	s.changed()

	res, err := s.provider.VerifyCode(ctx, provider.VerifyParams{
		Phone:        phone,
		Code:         target,
		ExpectedCode: expected,
	})
	if err == nil && (res == nil || !res.Verified) {
		err = &provider.InvalidCodeError{Provider: s.provider.Name(), Message: provider.MsgInvalidCode}
	}

	s.mu.Lock()
	if err != nil {
		s.fail(err)
		return
	}
	s.pendingCode = ""
	s.status = StatusSuccess
	s.changed()

	s.logger.Info("phone verified", "phone", phone)
	if s.onSuccess != nil {
		s.onSuccess(Success{Phone: phone})
	}
}

// Reset returns the session to idle and forgets the phone, code, expiry,
// error and any issued code. It is valid in every state.
func (s *Session) Reset() {
	s.mu.Lock()
	s.phone = ""
	s.code = ""
	s.status = StatusIdle
	s.err = nil
	s.expiresAt = nil
	s.pendingCode = ""
	s.changed()
}

// SetPhone stores the phone the next SendCode uses when called without one.
func (s *Session) SetPhone(phone string) {
	s.mu.Lock()
	s.phone = phone
	s.changed()
}

// SetCode stores the code the next VerifyCode uses when called without one.
func (s *Session) SetCode(code string) {
	s.mu.Lock()
	s.code = code
	s.changed()
}

// Snapshot returns a copy of the session's public state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) Phone() string { return s.Snapshot().Phone }

func (s *Session) Code() string { return s.Snapshot().Code }

func (s *Session) Status() Status { return s.Snapshot().Status }

// Err returns the latest failure, or nil unless Status() is StatusError.
func (s *Session) Err() *ErrorInfo { return s.Snapshot().Error }

// ExpiresAt returns when the last sent code expires and whether one is set.
func (s *Session) ExpiresAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiresAt == nil {
		return time.Time{}, false
	}
	return *s.expiresAt, true
}

// Countdown reports the seconds left on the current code every tick until
// the expiry is cleared, ctx is done, the session is closed, or stop is
// called. It returns immediately without ticking when no code is pending.
// Expiry is informational only: reaching zero does not change the status.
func (s *Session) Countdown(ctx context.Context, onTick func(remaining int)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	unbind := context.AfterFunc(s.lifetime, cancel)
	halt := s.countdown.Start(ctx, s.ExpiresAt, onTick)
	return func() {
		unbind()
		cancel()
		halt()
	}
}

// Close stops every countdown bound to the session. The session remains
// usable but no new countdown will tick.
func (s *Session) Close() {
	s.close()
}

// fail records err as the session error. Must be called with s.mu held;
// it releases the lock before notifying observers.
func (s *Session) fail(err error) {
	info := classify(err)
	s.status = StatusError
	s.err = &info
	s.changed()

	s.logger.Warn("verification step failed", "kind", info.Kind, "error", err)
	if s.onError != nil {
		s.onError(info)
	}
}

// changed releases s.mu and publishes the new state. Callbacks run without
// the lock so they may read the session.
func (s *Session) changed() {
	st := s.stateLocked()
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(st)
	}
}

func (s *Session) stateLocked() State {
	st := State{
		Phone:  s.phone,
		Code:   s.code,
		Status: s.status,
	}
	if s.err != nil {
		e := *s.err
		st.Error = &e
	}
	if s.expiresAt != nil {
		t := *s.expiresAt
		st.ExpiresAt = &t
	}
	return st
}
