package provider

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/whatsapplogin/wal/internal/channel"
)

const (
	evolutionName = "evolution-api"
	cloudAPIName  = "whatsapp-cloud-api"
)

// LocalProvider generates codes in-process, delivers them as plain text over
// a channel, and verifies by comparing against the code it handed out.
type LocalProvider struct {
	name     string
	sender   channel.Sender
	template string
	now      func() time.Time
}

// NewLocalProvider creates a client-verified provider over any channel. An
// empty template means DefaultMessageTemplate.
func NewLocalProvider(name string, sender channel.Sender, template string) *LocalProvider {
	if template == "" {
		template = DefaultMessageTemplate
	}
	return &LocalProvider{
		name:     name,
		sender:   sender,
		template: template,
		now:      time.Now,
	}
}

// EvolutionAPIConfig configures NewEvolutionAPIProvider.
type EvolutionAPIConfig struct {
	APIURL          string
	InstanceName    string
	APIKey          string
	MessageTemplate string
	Client          *http.Client
}

// NewEvolutionAPIProvider creates a client-verified provider that delivers
// codes through an Evolution API instance.
func NewEvolutionAPIProvider(cfg EvolutionAPIConfig) *LocalProvider {
	sender := channel.NewEvolutionSender(cfg.APIURL, cfg.InstanceName, cfg.APIKey, cfg.Client)
	return NewLocalProvider(evolutionName, sender, cfg.MessageTemplate)
}

// CloudAPIConfig configures NewCloudAPIProvider. BaseURL and Version default
// to the Graph API production host and v18.0.
type CloudAPIConfig struct {
	PhoneNumberID   string
	AccessToken     string
	MessageTemplate string
	BaseURL         string
	Version         string
	Client          *http.Client
}

// NewCloudAPIProvider creates a client-verified provider that delivers codes
// through the official WhatsApp Cloud API.
func NewCloudAPIProvider(cfg CloudAPIConfig) *LocalProvider {
	sender := channel.NewCloudAPISender(cfg.PhoneNumberID, cfg.AccessToken, cfg.BaseURL, cfg.Version, cfg.Client)
	return NewLocalProvider(cloudAPIName, sender, cfg.MessageTemplate)
}

func (p *LocalProvider) Name() string { return p.name }

func (p *LocalProvider) Locus() Locus { return ClientVerified }

func (p *LocalProvider) SendCode(ctx context.Context, params SendParams) (*SendResult, error) {
	if err := validateSend(p.name, params); err != nil {
		return nil, err
	}

	code := GenerateCode(params.CodeLength)
	if _, err := p.sender.SendText(ctx, params.Phone, FormatMessage(p.template, code)); err != nil {
		de := &DeliveryError{Provider: p.name, Message: MsgSendFailed, Err: err}
		var sendErr *channel.SendError
		if errors.As(err, &sendErr) {
			de.Status = sendErr.Status
			if sendErr.Reason != "" {
				de.Message = sendErr.Reason
			}
		}
		return nil, de
	}

	return &SendResult{
		Code:      code,
		ExpiresAt: CalculateExpiry(p.now(), params.ExpiresIn),
	}, nil
}

// VerifyCode compares Code against ExpectedCode. A mismatch, or a missing
// expected code, fails with InvalidCodeError. Unlike plain string equality,
// an empty Code against an empty ExpectedCode is rejected: no code was issued.
func (p *LocalProvider) VerifyCode(_ context.Context, params VerifyParams) (*VerifyResult, error) {
	if params.ExpectedCode == "" ||
		subtle.ConstantTimeCompare([]byte(params.Code), []byte(params.ExpectedCode)) != 1 {
		return nil, &InvalidCodeError{Provider: p.name, Message: MsgInvalidCode}
	}
	return &VerifyResult{Verified: true}, nil
}
