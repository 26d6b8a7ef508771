package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapplogin/wal/internal/channel"
	"github.com/whatsapplogin/wal/internal/provider"
	"github.com/whatsapplogin/wal/internal/session"
)

// stubProvider accepts "123456" and records every call.
type stubProvider struct {
	mu        sync.Mutex
	locus     provider.Locus
	sendErr   error
	expiresAt time.Time
	code      string
	sends     []provider.SendParams
	verifies  []provider.VerifyParams
	// block, when set, holds SendCode until closed.
	block chan struct{}
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Locus() provider.Locus {
	if p.locus == 0 {
		return provider.ServerVerified
	}
	return p.locus
}

func (p *stubProvider) SendCode(ctx context.Context, params provider.SendParams) (*provider.SendResult, error) {
	p.mu.Lock()
	p.sends = append(p.sends, params)
	block := p.block
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	if p.sendErr != nil {
		return nil, p.sendErr
	}
	exp := p.expiresAt
	if exp.IsZero() {
		exp = time.Now().Add(params.ExpiresIn)
	}
	return &provider.SendResult{Code: p.code, ExpiresAt: exp}, nil
}

func (p *stubProvider) VerifyCode(ctx context.Context, params provider.VerifyParams) (*provider.VerifyResult, error) {
	p.mu.Lock()
	p.verifies = append(p.verifies, params)
	p.mu.Unlock()
	if params.Code != "123456" {
		return nil, &provider.InvalidCodeError{Provider: "stub", Message: provider.MsgInvalidCode}
	}
	return &provider.VerifyResult{Verified: true}, nil
}

func (p *stubProvider) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sends)
}

type recorder struct {
	mu        sync.Mutex
	successes []session.Success
	failures  []session.ErrorInfo
	states    []session.State
}

func (r *recorder) options(p provider.Provider) session.Options {
	return session.Options{
		Provider:  p,
		OnSuccess: func(s session.Success) { r.mu.Lock(); r.successes = append(r.successes, s); r.mu.Unlock() },
		OnError:   func(e session.ErrorInfo) { r.mu.Lock(); r.failures = append(r.failures, e); r.mu.Unlock() },
		OnChange:  func(s session.State) { r.mu.Lock(); r.states = append(r.states, s); r.mu.Unlock() },
	}
}

func (r *recorder) statuses() []session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Status, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Status)
	}
	return out
}

func newSession(t *testing.T, opts session.Options) *session.Session {
	t.Helper()
	s, err := session.New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewStartsIdle(t *testing.T) {
	s := newSession(t, session.Options{Provider: &stubProvider{}})

	st := s.Snapshot()
	assert.Equal(t, session.StatusIdle, st.Status)
	assert.Empty(t, st.Phone)
	assert.Empty(t, st.Code)
	assert.Nil(t, st.Error)
	assert.Nil(t, st.ExpiresAt)
	assert.NotEmpty(t, s.ID())
}

func TestNewWithoutProvider(t *testing.T) {
	_, err := session.New(session.Options{})
	var cfgErr *provider.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, provider.ErrNoProvider)
}

func TestNewRejectsBadLimits(t *testing.T) {
	_, err := session.New(session.Options{Provider: &stubProvider{}, CodeLength: -1})
	var cfgErr *provider.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "code_length", cfgErr.Field)

	_, err = session.New(session.Options{Provider: &stubProvider{}, CodeExpiry: 500 * time.Millisecond})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "code_expiry", cfgErr.Field)
}

func TestNewBuildsProviderFromTransport(t *testing.T) {
	s := newSession(t, session.Options{Transport: provider.Options{APIURL: "http://localhost:1"}})
	assert.Equal(t, "whatsapp-web-api", s.Provider().Name())
}

func TestSendCodeWithoutPhone(t *testing.T) {
	p := &stubProvider{}
	rec := &recorder{}
	s := newSession(t, rec.options(p))

	s.SendCode(t.Context(), "")

	assert.Equal(t, session.StatusError, s.Status())
	require.NotNil(t, s.Err())
	assert.Equal(t, session.KindMissingPhone, s.Err().Kind)
	assert.ErrorIs(t, s.Err(), session.ErrMissingPhone)
	assert.Zero(t, p.sendCount())
	assert.Len(t, rec.failures, 1)
	assert.Equal(t, []session.Status{session.StatusError}, rec.statuses())
}

func TestSendCodeSuccess(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	p := &stubProvider{expiresAt: exp}
	rec := &recorder{}
	s := newSession(t, rec.options(p))

	s.SendCode(t.Context(), "+15551234567")

	assert.Equal(t, []session.Status{session.StatusSending, session.StatusCodeSent}, rec.statuses())
	st := s.Snapshot()
	assert.Equal(t, session.StatusCodeSent, st.Status)
	assert.Equal(t, "+15551234567", st.Phone)
	assert.Nil(t, st.Error)
	require.NotNil(t, st.ExpiresAt)
	assert.True(t, exp.Equal(*st.ExpiresAt))

	require.Len(t, p.sends, 1)
	assert.Equal(t, provider.SendParams{
		Phone:      "+15551234567",
		CodeLength: session.DefaultCodeLength,
		ExpiresIn:  session.DefaultCodeExpiry,
	}, p.sends[0])
}

func TestSendCodeUsesStoredPhone(t *testing.T) {
	p := &stubProvider{}
	s := newSession(t, session.Options{Provider: p, CodeLength: 4, CodeExpiry: time.Minute})

	s.SetPhone("+4915112345678")
	s.SendCode(t.Context(), "")

	require.Len(t, p.sends, 1)
	assert.Equal(t, "+4915112345678", p.sends[0].Phone)
	assert.Equal(t, 4, p.sends[0].CodeLength)
	assert.Equal(t, time.Minute, p.sends[0].ExpiresIn)
}

func TestSendCodeDeliveryFailure(t *testing.T) {
	p := &stubProvider{sendErr: &provider.DeliveryError{Provider: "stub", Status: 503, Message: "Session not connected"}}
	rec := &recorder{}
	s := newSession(t, rec.options(p))

	s.SendCode(t.Context(), "+15551234567")

	assert.Equal(t, session.StatusError, s.Status())
	require.NotNil(t, s.Err())
	assert.Equal(t, session.KindDelivery, s.Err().Kind)
	assert.Equal(t, "Session not connected", s.Err().Message)
	require.Len(t, rec.failures, 1)
	assert.Equal(t, session.KindDelivery, rec.failures[0].Kind)
	_, ok := s.ExpiresAt()
	assert.False(t, ok)
}

func TestSendCodeUnknownFailure(t *testing.T) {
	p := &stubProvider{sendErr: errors.New("boom")}
	s := newSession(t, session.Options{Provider: p})

	s.SendCode(t.Context(), "+15551234567")

	require.NotNil(t, s.Err())
	assert.Equal(t, session.KindUnknown, s.Err().Kind)
	assert.Equal(t, "boom", s.Err().Message)
}

func TestVerifyCodeSuccess(t *testing.T) {
	p := &stubProvider{}
	rec := &recorder{}
	s := newSession(t, rec.options(p))

	s.SendCode(t.Context(), "+15551234567")
	s.VerifyCode(t.Context(), "123456")

	assert.Equal(t, session.StatusSuccess, s.Status())
	assert.Nil(t, s.Err())
	assert.Equal(t, "123456", s.Code())
	assert.Equal(t, []session.Success{{Phone: "+15551234567"}}, rec.successes)
	assert.Empty(t, rec.failures)
	assert.Equal(t, []session.Status{
		session.StatusSending, session.StatusCodeSent,
		session.StatusVerifying, session.StatusSuccess,
	}, rec.statuses())

	require.Len(t, p.verifies, 1)
	assert.Equal(t, "+15551234567", p.verifies[0].Phone)
	assert.Empty(t, p.verifies[0].ExpectedCode)
}

func TestVerifyCodeInvalid(t *testing.T) {
	p := &stubProvider{}
	rec := &recorder{}
	s := newSession(t, rec.options(p))

	s.SendCode(t.Context(), "+15551234567")
	s.VerifyCode(t.Context(), "000000")

	assert.Equal(t, session.StatusError, s.Status())
	require.NotNil(t, s.Err())
	assert.Equal(t, session.KindInvalidCode, s.Err().Kind)
	assert.Equal(t, provider.MsgInvalidCode, s.Err().Message)
	assert.Len(t, rec.failures, 1)
	assert.Empty(t, rec.successes)
}

func TestVerifyCodeWithoutCode(t *testing.T) {
	p := &stubProvider{}
	s := newSession(t, session.Options{Provider: p})

	s.VerifyCode(t.Context(), "")

	assert.Equal(t, session.StatusError, s.Status())
	require.NotNil(t, s.Err())
	assert.Equal(t, session.KindMissingCode, s.Err().Kind)
	assert.Empty(t, p.verifies)
}

func TestVerifyCodeUsesStoredCode(t *testing.T) {
	p := &stubProvider{}
	s := newSession(t, session.Options{Provider: p})

	s.SendCode(t.Context(), "+15551234567")
	s.SetCode("123456")
	s.VerifyCode(t.Context(), "")

	assert.Equal(t, session.StatusSuccess, s.Status())
	require.Len(t, p.verifies, 1)
	assert.Equal(t, "123456", p.verifies[0].Code)
}

func TestRetryAfterFailureClearsError(t *testing.T) {
	p := &stubProvider{}
	s := newSession(t, session.Options{Provider: p})

	s.SendCode(t.Context(), "+15551234567")
	s.VerifyCode(t.Context(), "000000")
	require.Equal(t, session.StatusError, s.Status())

	s.VerifyCode(t.Context(), "123456")
	assert.Equal(t, session.StatusSuccess, s.Status())
	assert.Nil(t, s.Err())
}

func TestReset(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *session.Session)
		want  session.Status
	}{
		{name: "idle", setup: func(*session.Session) {}, want: session.StatusIdle},
		{name: "code sent", setup: func(s *session.Session) {
			s.SendCode(t.Context(), "+15551234567")
		}, want: session.StatusCodeSent},
		{name: "success", setup: func(s *session.Session) {
			s.SendCode(t.Context(), "+15551234567")
			s.VerifyCode(t.Context(), "123456")
		}, want: session.StatusSuccess},
		{name: "error", setup: func(s *session.Session) {
			s.SendCode(t.Context(), "+15551234567")
			s.VerifyCode(t.Context(), "000000")
		}, want: session.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, session.Options{Provider: &stubProvider{}})
			tt.setup(s)
			require.Equal(t, tt.want, s.Status())

			s.Reset()
			assert.Equal(t, session.State{Status: session.StatusIdle}, s.Snapshot())
			_, ok := s.ExpiresAt()
			assert.False(t, ok)
		})
	}
}

// rejectingProvider sends normally but answers every check with
// Verified:false and no error.
type rejectingProvider struct{ stubProvider }

func (p *rejectingProvider) VerifyCode(ctx context.Context, params provider.VerifyParams) (*provider.VerifyResult, error) {
	return &provider.VerifyResult{Verified: false}, nil
}

func TestVerifyCodeUnverifiedResultIsRejected(t *testing.T) {
	rec := &recorder{}
	s := newSession(t, rec.options(&rejectingProvider{}))

	s.SendCode(t.Context(), "+15551234567")
	s.VerifyCode(t.Context(), "999999")

	assert.Equal(t, session.StatusError, s.Status())
	require.NotNil(t, s.Err())
	assert.Equal(t, session.KindInvalidCode, s.Err().Kind)
	assert.Equal(t, provider.MsgInvalidCode, s.Err().Message)
	assert.Empty(t, rec.successes)
	assert.Len(t, rec.failures, 1)
}

// emptyResultProvider returns no result and no error from both calls.
type emptyResultProvider struct{}

func (emptyResultProvider) Name() string { return "empty" }

func (emptyResultProvider) Locus() provider.Locus { return provider.ServerVerified }

func (emptyResultProvider) SendCode(context.Context, provider.SendParams) (*provider.SendResult, error) {
	return nil, nil
}

func (emptyResultProvider) VerifyCode(context.Context, provider.VerifyParams) (*provider.VerifyResult, error) {
	return nil, nil
}

func TestSendCodeWithoutResultIsDeliveryFailure(t *testing.T) {
	rec := &recorder{}
	s := newSession(t, rec.options(emptyResultProvider{}))

	require.NotPanics(t, func() { s.SendCode(t.Context(), "+15551234567") })
	assert.Equal(t, session.StatusError, s.Status())
	assert.Equal(t, session.KindDelivery, s.Err().Kind)
	assert.Equal(t, provider.MsgSendFailed, s.Err().Message)
	_, ok := s.ExpiresAt()
	assert.False(t, ok)
	assert.Len(t, rec.failures, 1)

	// The lock was released, so the session is still usable.
	s.Reset()
	assert.Equal(t, session.StatusIdle, s.Status())
}

func TestVerifyCodeWithoutResultIsRejected(t *testing.T) {
	rec := &recorder{}
	s := newSession(t, rec.options(emptyResultProvider{}))
	s.SetPhone("+15551234567")

	require.NotPanics(t, func() { s.VerifyCode(t.Context(), "123456") })
	assert.Equal(t, session.StatusError, s.Status())
	assert.Equal(t, session.KindInvalidCode, s.Err().Kind)
	assert.Empty(t, rec.successes)
}

func TestClientVerifiedProviderKeepsIssuedCode(t *testing.T) {
	sender := &channel.CaptureSender{}
	p := provider.NewLocalProvider("capture", sender, "")
	rec := &recorder{}
	s := newSession(t, rec.options(p))

	s.SendCode(t.Context(), "+15551234567")
	require.Equal(t, session.StatusCodeSent, s.Status())
	code := sender.LastCode()
	require.Len(t, code, session.DefaultCodeLength)

	// The issued code never appears in public state.
	for _, st := range rec.states {
		assert.Empty(t, st.Code)
	}

	s.VerifyCode(t.Context(), code)
	assert.Equal(t, session.StatusSuccess, s.Status())
	assert.Len(t, rec.successes, 1)
}

func TestClientVerifiedProviderRejectsAfterResend(t *testing.T) {
	sender := &channel.CaptureSender{}
	p := provider.NewLocalProvider("capture", sender, "")
	s := newSession(t, session.Options{Provider: p, CodeLength: 8})

	s.SendCode(t.Context(), "+15551234567")
	first := sender.LastCode()
	s.SendCode(t.Context(), "")
	second := sender.LastCode()
	if first == second {
		t.Skip("generated the same code twice")
	}

	s.VerifyCode(t.Context(), first)
	assert.Equal(t, session.StatusError, s.Status())
	assert.Equal(t, session.KindInvalidCode, s.Err().Kind)
}

func TestClientVerifiedCodeIsSingleUse(t *testing.T) {
	sender := &channel.CaptureSender{}
	p := provider.NewLocalProvider("capture", sender, "")
	s := newSession(t, session.Options{Provider: p})

	s.SendCode(t.Context(), "+15551234567")
	code := sender.LastCode()
	s.VerifyCode(t.Context(), code)
	require.Equal(t, session.StatusSuccess, s.Status())

	s.VerifyCode(t.Context(), code)
	assert.Equal(t, session.StatusError, s.Status())
}

func TestCallbacksMayReadSession(t *testing.T) {
	p := &stubProvider{}
	var s *session.Session
	var seen []session.Status
	s = newSession(t, session.Options{
		Provider: p,
		OnChange: func(session.State) { seen = append(seen, s.Status()) },
	})

	s.SendCode(t.Context(), "+15551234567")
	assert.Equal(t, []session.Status{session.StatusSending, session.StatusCodeSent}, seen)
}

func TestSnapshotDuringSend(t *testing.T) {
	p := &stubProvider{block: make(chan struct{})}
	s := newSession(t, session.Options{Provider: p})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.SendCode(context.Background(), "+15551234567")
	}()

	require.Eventually(t, func() bool { return p.sendCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, session.StatusSending, s.Status())

	close(p.block)
	<-done
	assert.Equal(t, session.StatusCodeSent, s.Status())
}

func TestCountdown(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &stubProvider{expiresAt: now.Add(90 * time.Second)}
	s := newSession(t, session.Options{
		Provider:          p,
		Now:               func() time.Time { return now },
		CountdownInterval: 5 * time.Millisecond,
	})

	s.SendCode(t.Context(), "+15551234567")

	ticks := make(chan int, 16)
	stop := s.Countdown(t.Context(), func(r int) {
		select {
		case ticks <- r:
		default:
		}
	})
	defer stop()

	assert.Equal(t, 90, <-ticks)
}

func TestCountdownWithoutExpiry(t *testing.T) {
	s := newSession(t, session.Options{Provider: &stubProvider{}})

	var calls int
	stop := s.Countdown(t.Context(), func(int) { calls++ })
	stop()
	assert.Zero(t, calls)
}

func TestCountdownStopsOnReset(t *testing.T) {
	p := &stubProvider{}
	s := newSession(t, session.Options{Provider: p, CountdownInterval: 5 * time.Millisecond})
	s.SendCode(t.Context(), "+15551234567")

	var mu sync.Mutex
	var calls int
	stop := s.Countdown(t.Context(), func(int) { mu.Lock(); calls++; mu.Unlock() })
	defer stop()

	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return calls > 0 }, time.Second, 5*time.Millisecond)
	s.Reset()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	settled := calls
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, settled, calls)
}

func TestCloseStopsCountdown(t *testing.T) {
	p := &stubProvider{}
	s, err := session.New(session.Options{Provider: p, CountdownInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	s.SendCode(t.Context(), "+15551234567")

	var mu sync.Mutex
	var calls int
	stop := s.Countdown(context.Background(), func(int) { mu.Lock(); calls++; mu.Unlock() })

	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return calls > 0 }, time.Second, 5*time.Millisecond)
	s.Close()
	t.Cleanup(stop)

	// Close alone must stop the ticker. Allow one in-flight tick to land.
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	settled := calls
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, settled, calls)
}

func TestSessionAgainstWebAPI(t *testing.T) {
	expires := time.Now().Add(5 * time.Minute).UTC().Format(time.RFC3339Nano)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sessions/login/verify/send":
			_, _ = w.Write([]byte(`{"expiresAt":"` + expires + `"}`))
		case "/sessions/login/verify/check":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Code expired"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := newSession(t, session.Options{Transport: provider.Options{APIURL: srv.URL}})

	s.SendCode(t.Context(), "+15551234567")
	require.Equal(t, session.StatusCodeSent, s.Status())

	s.VerifyCode(t.Context(), "123456")
	require.NotNil(t, s.Err())
	assert.Equal(t, session.KindInvalidCode, s.Err().Kind)
	assert.Equal(t, "Code expired", s.Err().Message)
}

func TestStatusText(t *testing.T) {
	b, err := session.StatusCodeSent.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "code_sent", string(b))
	assert.Equal(t, "Status(42)", session.Status(42).String())
}
