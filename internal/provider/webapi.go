package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	webAPIName = "whatsapp-web-api"

	// DefaultSessionID is the gateway session used when none is configured.
	DefaultSessionID = "login"

	// DefaultTimeout bounds each gateway request when no client is supplied.
	DefaultTimeout = 15 * time.Second
)

// WebAPIConfig configures a WebAPIProvider.
type WebAPIConfig struct {
	APIURL    string
	SessionID string // defaults to DefaultSessionID
	AuthToken string // optional bearer token
	Client    *http.Client
}

// WebAPIProvider talks to a whatsapp-web-api style session gateway that
// generates, stores and checks codes itself.
type WebAPIProvider struct {
	apiURL    string
	sessionID string
	authToken string
	client    *http.Client
	now       func() time.Time
}

// NewWebAPIProvider creates a WebAPIProvider.
func NewWebAPIProvider(cfg WebAPIConfig) *WebAPIProvider {
	if cfg.SessionID == "" {
		cfg.SessionID = DefaultSessionID
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &WebAPIProvider{
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		sessionID: cfg.SessionID,
		authToken: cfg.AuthToken,
		client:    client,
		now:       time.Now,
	}
}

func (p *WebAPIProvider) Name() string { return webAPIName }

func (p *WebAPIProvider) Locus() Locus { return ServerVerified }

func (p *WebAPIProvider) endpoint(action string) string {
	return fmt.Sprintf("%s/sessions/%s/verify/%s", p.apiURL, url.PathEscape(p.sessionID), action)
}

type gatewayError struct {
	Error string `json:"error"`
}

func (p *WebAPIProvider) SendCode(ctx context.Context, params SendParams) (*SendResult, error) {
	if err := validateSend(webAPIName, params); err != nil {
		return nil, err
	}

	status, body, err := p.post(ctx, p.endpoint("send"), map[string]any{
		"phone":      params.Phone,
		"codeLength": params.CodeLength,
		"expiresIn":  int(params.ExpiresIn / time.Second),
	})
	if err != nil {
		return nil, &DeliveryError{Provider: webAPIName, Message: MsgSendFailed, Err: err}
	}

	if status >= 300 {
		msg := MsgSendFailed
		var errResp gatewayError
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return nil, &DeliveryError{Provider: webAPIName, Status: status, Message: msg}
	}

	var parsed struct {
		Code      string `json:"code"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &DeliveryError{Provider: webAPIName, Status: status, Message: MsgSendFailed,
			Err: fmt.Errorf("parse response: %w", err)}
	}

	// The gateway's clock is authoritative; fall back to ours when it does
	// not report a usable expiry.
	now := p.now()
	expiresAt, err := time.Parse(time.RFC3339Nano, parsed.ExpiresAt)
	if err != nil || !expiresAt.After(now) {
		expiresAt = CalculateExpiry(now, params.ExpiresIn)
	}

	return &SendResult{Code: parsed.Code, ExpiresAt: expiresAt}, nil
}

// VerifyCode asks the gateway to check the code. ExpectedCode is ignored.
func (p *WebAPIProvider) VerifyCode(ctx context.Context, params VerifyParams) (*VerifyResult, error) {
	status, body, err := p.post(ctx, p.endpoint("check"), map[string]string{
		"phone": params.Phone,
		"code":  params.Code,
	})
	if err != nil {
		return nil, &DeliveryError{Provider: webAPIName, Message: MsgSendFailed, Err: err}
	}

	if status >= 300 {
		msg := MsgInvalidCode
		var errResp gatewayError
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return nil, &InvalidCodeError{Provider: webAPIName, Message: msg}
	}

	// A 2xx without a body is an implicit success; only an explicit
	// verified:false is a rejection.
	var parsed struct {
		Verified *bool `json:"verified"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Verified != nil && !*parsed.Verified {
		return nil, &InvalidCodeError{Provider: webAPIName, Message: MsgInvalidCode}
	}
	return &VerifyResult{Verified: true}, nil
}

func (p *WebAPIProvider) post(ctx context.Context, endpoint string, payload any) (int, []byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
