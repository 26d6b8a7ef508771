package provider

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/whatsapplogin/wal/internal/channel"
	"github.com/whatsapplogin/wal/internal/config"
)

// Kind names a provider variant that New can build from parameters.
type Kind string

const (
	KindWebAPI    Kind = "webapi"
	KindEvolution Kind = "evolution"
	KindCloudAPI  Kind = "cloudapi"
	KindLog       Kind = "log"
)

// Options selects or describes the provider a session should use. When
// Provider is set every other field is ignored.
type Options struct {
	Provider Provider

	// Kind defaults to KindWebAPI when APIURL is set.
	Kind Kind

	APIURL    string // webapi, evolution
	SessionID string // webapi
	AuthToken string // webapi

	InstanceName string // evolution
	APIKey       string // evolution

	PhoneNumberID string // cloudapi
	AccessToken   string // cloudapi
	GraphBaseURL  string // cloudapi
	GraphVersion  string // cloudapi

	MessageTemplate string        // client-verified variants
	Timeout         time.Duration // per request; DefaultTimeout when zero
	Logger          *slog.Logger  // log variant
}

// New returns opts.Provider, or builds the variant opts describes. It fails
// fast with *ConfigurationError when required parameters are missing.
func New(opts Options) (Provider, error) {
	if opts.Provider != nil {
		return opts.Provider, nil
	}

	kind := opts.Kind
	if kind == "" {
		if opts.APIURL == "" {
			return nil, &ConfigurationError{Reason: "a provider or an api url is required", Err: ErrNoProvider}
		}
		kind = KindWebAPI
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	switch kind {
	case KindWebAPI:
		if opts.APIURL == "" {
			return nil, missing("api_url", kind)
		}
		return NewWebAPIProvider(WebAPIConfig{
			APIURL:    opts.APIURL,
			SessionID: opts.SessionID,
			AuthToken: opts.AuthToken,
			Client:    client,
		}), nil
	case KindEvolution:
		switch {
		case opts.APIURL == "":
			return nil, missing("api_url", kind)
		case opts.InstanceName == "":
			return nil, missing("instance_name", kind)
		case opts.APIKey == "":
			return nil, missing("api_key", kind)
		}
		return NewEvolutionAPIProvider(EvolutionAPIConfig{
			APIURL:          opts.APIURL,
			InstanceName:    opts.InstanceName,
			APIKey:          opts.APIKey,
			MessageTemplate: opts.MessageTemplate,
			Client:          client,
		}), nil
	case KindCloudAPI:
		switch {
		case opts.PhoneNumberID == "":
			return nil, missing("phone_number_id", kind)
		case opts.AccessToken == "":
			return nil, missing("access_token", kind)
		}
		return NewCloudAPIProvider(CloudAPIConfig{
			PhoneNumberID:   opts.PhoneNumberID,
			AccessToken:     opts.AccessToken,
			MessageTemplate: opts.MessageTemplate,
			BaseURL:         opts.GraphBaseURL,
			Version:         opts.GraphVersion,
			Client:          client,
		}), nil
	case KindLog:
		return NewLocalProvider("log", channel.NewLogSender(opts.Logger), opts.MessageTemplate), nil
	default:
		return nil, &ConfigurationError{Field: "kind", Reason: "must be webapi, evolution, cloudapi or log, got " + string(kind)}
	}
}

// FromConfig maps the [provider] section onto Options.
func FromConfig(cfg config.ProviderConfig, logger *slog.Logger) Options {
	return Options{
		Kind:            Kind(cfg.Kind),
		APIURL:          cfg.APIURL,
		SessionID:       cfg.SessionID,
		AuthToken:       cfg.AuthToken,
		InstanceName:    cfg.InstanceName,
		APIKey:          cfg.APIKey,
		PhoneNumberID:   cfg.PhoneNumberID,
		AccessToken:     cfg.AccessToken,
		GraphBaseURL:    cfg.GraphBaseURL,
		GraphVersion:    cfg.GraphVersion,
		MessageTemplate: cfg.MessageTemplate,
		Timeout:         config.Seconds(cfg.Timeout),
		Logger:          logger,
	}
}

func missing(field string, kind Kind) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: "is required for the " + string(kind) + " provider"}
}
