package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "wal.toml"

// Config is the top-level wal configuration.
type Config struct {
	Provider     ProviderConfig     `toml:"provider"`
	Verification VerificationConfig `toml:"verification"`
	Gateway      GatewayConfig      `toml:"gateway"`
	Logging      LoggingConfig      `toml:"logging"`
}

// ProviderConfig selects the transport `wal login` verifies through.
type ProviderConfig struct {
	Kind            string `toml:"kind"` // "webapi", "evolution", "cloudapi", "log"; "" picks webapi when api_url is set
	APIURL          string `toml:"api_url"`
	SessionID       string `toml:"session_id"`
	AuthToken       string `toml:"auth_token"`
	InstanceName    string `toml:"instance_name"`
	APIKey          string `toml:"api_key"`
	PhoneNumberID   string `toml:"phone_number_id"`
	AccessToken     string `toml:"access_token"`
	GraphBaseURL    string `toml:"graph_base_url"`
	GraphVersion    string `toml:"graph_version"`
	MessageTemplate string `toml:"message_template"`
	Timeout         int    `toml:"timeout"` // seconds
}

type VerificationConfig struct {
	CodeLength int `toml:"code_length"`
	CodeExpiry int `toml:"code_expiry"` // seconds
}

// GatewayConfig controls `wal gateway`, the server-side counterpart of the
// webapi provider.
type GatewayConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	AuthToken       string `toml:"auth_token"`
	JWTSecret       string `toml:"jwt_secret"`
	TokenDuration   int    `toml:"token_duration"` // seconds
	ExposeCode      bool   `toml:"expose_code"`
	PruneSchedule   string `toml:"prune_schedule"`
	ShutdownTimeout int    `toml:"shutdown_timeout"` // seconds
	Channel         string `toml:"channel"`          // "log", "evolution", "cloudapi", "webhook", "sns"
	WebhookURL      string `toml:"webhook_url"`
	WebhookSecret   string `toml:"webhook_secret"`
	SNSRegion       string `toml:"sns_region"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			SessionID: "login",
			Timeout:   15,
		},
		Verification: VerificationConfig{
			CodeLength: 6,
			CodeExpiry: 300, // 5 minutes
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			TokenDuration:   900, // 15 minutes
			PruneSchedule:   "* * * * *",
			ShutdownTimeout: 10,
			Channel:         "log",
			SNSRegion:       "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration with priority: defaults → wal.toml → env vars
// (including a .env file) → CLI flags. Variables already set in the
// environment win over the .env file.
func Load(configPath string, flags map[string]string) (*Config, error) {
	cfg := Default()

	if err := loadDotEnv(flags["env-file"]); err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = DefaultPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	applyFlags(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads path, or ./.env when path is empty. Only an explicitly
// named file is required to exist.
func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	switch {
	case err == nil:
		return nil
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("loading %s: %w", path, err)
	}
}

// Validate checks the configuration for invalid values. Provider-specific
// required fields are checked when the provider is built.
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case "", "webapi", "evolution", "cloudapi", "log":
	default:
		return fmt.Errorf("provider.kind must be one of: webapi, evolution, cloudapi, log; got %q", c.Provider.Kind)
	}
	if c.Provider.Timeout < 1 {
		return fmt.Errorf("provider.timeout must be at least 1, got %d", c.Provider.Timeout)
	}
	if c.Verification.CodeLength < 1 || c.Verification.CodeLength > 10 {
		return fmt.Errorf("verification.code_length must be between 1 and 10, got %d", c.Verification.CodeLength)
	}
	if c.Verification.CodeExpiry < 1 {
		return fmt.Errorf("verification.code_expiry must be at least 1, got %d", c.Verification.CodeExpiry)
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Gateway.TokenDuration < 1 {
		return fmt.Errorf("gateway.token_duration must be at least 1, got %d", c.Gateway.TokenDuration)
	}
	if c.Gateway.ShutdownTimeout < 1 {
		return fmt.Errorf("gateway.shutdown_timeout must be at least 1, got %d", c.Gateway.ShutdownTimeout)
	}
	if c.Gateway.JWTSecret != "" && len(c.Gateway.JWTSecret) < 32 {
		return fmt.Errorf("gateway.jwt_secret must be at least 32 characters, got %d", len(c.Gateway.JWTSecret))
	}
	switch c.Gateway.Channel {
	case "log":
	case "evolution":
		if c.Provider.APIURL == "" || c.Provider.InstanceName == "" || c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_url, provider.instance_name and provider.api_key are required when gateway channel is \"evolution\"")
		}
	case "cloudapi":
		if c.Provider.PhoneNumberID == "" || c.Provider.AccessToken == "" {
			return fmt.Errorf("provider.phone_number_id and provider.access_token are required when gateway channel is \"cloudapi\"")
		}
	case "webhook":
		if c.Gateway.WebhookURL == "" {
			return fmt.Errorf("gateway.webhook_url is required when gateway channel is \"webhook\"")
		}
	case "sns":
		if c.Gateway.SNSRegion == "" {
			return fmt.Errorf("gateway.sns_region is required when gateway channel is \"sns\"")
		}
	default:
		return fmt.Errorf("gateway.channel must be one of: log, evolution, cloudapi, webhook, sns; got %q", c.Gateway.Channel)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", c.Logging.Format)
	}
	return nil
}

// Address returns the host:port string for the gateway to listen on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

// Seconds converts a config value in seconds to a time.Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// GenerateDefault writes a commented default wal.toml to the given path.
func GenerateDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultTOML), 0o644)
}

// ToTOML returns the config serialized as TOML.
func (c *Config) ToTOML() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// envInt reads an integer from the named environment variable.
// Returns an error if the value is set but not a valid integer.
func envInt(name string, dest *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q is not an integer", name, v)
	}
	*dest = n
	return nil
}

func envString(name string, dest *string) {
	if v := os.Getenv(name); v != "" {
		*dest = v
	}
}

func applyEnv(cfg *Config) error {
	p := &cfg.Provider
	envString("WAL_PROVIDER_KIND", &p.Kind)
	envString("WAL_PROVIDER_API_URL", &p.APIURL)
	envString("WAL_PROVIDER_SESSION_ID", &p.SessionID)
	envString("WAL_PROVIDER_AUTH_TOKEN", &p.AuthToken)
	envString("WAL_PROVIDER_INSTANCE_NAME", &p.InstanceName)
	envString("WAL_PROVIDER_API_KEY", &p.APIKey)
	envString("WAL_PROVIDER_PHONE_NUMBER_ID", &p.PhoneNumberID)
	envString("WAL_PROVIDER_ACCESS_TOKEN", &p.AccessToken)
	envString("WAL_PROVIDER_GRAPH_BASE_URL", &p.GraphBaseURL)
	envString("WAL_PROVIDER_GRAPH_VERSION", &p.GraphVersion)
	envString("WAL_PROVIDER_MESSAGE_TEMPLATE", &p.MessageTemplate)
	if err := envInt("WAL_PROVIDER_TIMEOUT", &p.Timeout); err != nil {
		return err
	}

	if err := envInt("WAL_VERIFICATION_CODE_LENGTH", &cfg.Verification.CodeLength); err != nil {
		return err
	}
	if err := envInt("WAL_VERIFICATION_CODE_EXPIRY", &cfg.Verification.CodeExpiry); err != nil {
		return err
	}

	g := &cfg.Gateway
	envString("WAL_GATEWAY_HOST", &g.Host)
	if err := envInt("WAL_GATEWAY_PORT", &g.Port); err != nil {
		return err
	}
	envString("WAL_GATEWAY_AUTH_TOKEN", &g.AuthToken)
	envString("WAL_GATEWAY_JWT_SECRET", &g.JWTSecret)
	if err := envInt("WAL_GATEWAY_TOKEN_DURATION", &g.TokenDuration); err != nil {
		return err
	}
	if v := os.Getenv("WAL_GATEWAY_EXPOSE_CODE"); v != "" {
		g.ExposeCode = v == "true" || v == "1"
	}
	envString("WAL_GATEWAY_PRUNE_SCHEDULE", &g.PruneSchedule)
	if err := envInt("WAL_GATEWAY_SHUTDOWN_TIMEOUT", &g.ShutdownTimeout); err != nil {
		return err
	}
	envString("WAL_GATEWAY_CHANNEL", &g.Channel)
	envString("WAL_GATEWAY_WEBHOOK_URL", &g.WebhookURL)
	envString("WAL_GATEWAY_WEBHOOK_SECRET", &g.WebhookSecret)
	envString("WAL_GATEWAY_SNS_REGION", &g.SNSRegion)

	envString("WAL_LOGGING_LEVEL", &cfg.Logging.Level)
	envString("WAL_LOGGING_FORMAT", &cfg.Logging.Format)
	return nil
}

func applyFlags(cfg *Config, flags map[string]string) {
	if flags == nil {
		return
	}
	if v, ok := flags["provider"]; ok && v != "" {
		cfg.Provider.Kind = v
	}
	if v, ok := flags["api-url"]; ok && v != "" {
		cfg.Provider.APIURL = v
	}
	if v, ok := flags["session-id"]; ok && v != "" {
		cfg.Provider.SessionID = v
	}
	if v, ok := flags["channel"]; ok && v != "" {
		cfg.Gateway.Channel = v
	}
	if v, ok := flags["port"]; ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v, ok := flags["host"]; ok && v != "" {
		cfg.Gateway.Host = v
	}
	if v, ok := flags["log-level"]; ok && v != "" {
		cfg.Logging.Level = v
	}
}

// validKeys is the complete set of dot-separated config keys.
var validKeys = map[string]bool{
	"provider.kind": true, "provider.api_url": true, "provider.session_id": true,
	"provider.auth_token": true, "provider.instance_name": true, "provider.api_key": true,
	"provider.phone_number_id": true, "provider.access_token": true,
	"provider.graph_base_url": true, "provider.graph_version": true,
	"provider.message_template": true, "provider.timeout": true,
	"verification.code_length": true, "verification.code_expiry": true,
	"gateway.host": true, "gateway.port": true, "gateway.auth_token": true,
	"gateway.jwt_secret": true, "gateway.token_duration": true, "gateway.expose_code": true,
	"gateway.prune_schedule": true, "gateway.shutdown_timeout": true, "gateway.channel": true,
	"gateway.webhook_url": true, "gateway.webhook_secret": true, "gateway.sns_region": true,
	"logging.level": true, "logging.format": true,
}

// IsValidKey returns true if the dotted key is a recognized config key.
func IsValidKey(key string) bool {
	return validKeys[key]
}

// GetValue returns the value for a dotted config key (e.g. "gateway.port").
func GetValue(cfg *Config, key string) (any, error) {
	switch key {
	case "provider.kind":
		return cfg.Provider.Kind, nil
	case "provider.api_url":
		return cfg.Provider.APIURL, nil
	case "provider.session_id":
		return cfg.Provider.SessionID, nil
	case "provider.auth_token":
		return cfg.Provider.AuthToken, nil
	case "provider.instance_name":
		return cfg.Provider.InstanceName, nil
	case "provider.api_key":
		return cfg.Provider.APIKey, nil
	case "provider.phone_number_id":
		return cfg.Provider.PhoneNumberID, nil
	case "provider.access_token":
		return cfg.Provider.AccessToken, nil
	case "provider.graph_base_url":
		return cfg.Provider.GraphBaseURL, nil
	case "provider.graph_version":
		return cfg.Provider.GraphVersion, nil
	case "provider.message_template":
		return cfg.Provider.MessageTemplate, nil
	case "provider.timeout":
		return cfg.Provider.Timeout, nil
	case "verification.code_length":
		return cfg.Verification.CodeLength, nil
	case "verification.code_expiry":
		return cfg.Verification.CodeExpiry, nil
	case "gateway.host":
		return cfg.Gateway.Host, nil
	case "gateway.port":
		return cfg.Gateway.Port, nil
	case "gateway.auth_token":
		return cfg.Gateway.AuthToken, nil
	case "gateway.jwt_secret":
		return cfg.Gateway.JWTSecret, nil
	case "gateway.token_duration":
		return cfg.Gateway.TokenDuration, nil
	case "gateway.expose_code":
		return cfg.Gateway.ExposeCode, nil
	case "gateway.prune_schedule":
		return cfg.Gateway.PruneSchedule, nil
	case "gateway.shutdown_timeout":
		return cfg.Gateway.ShutdownTimeout, nil
	case "gateway.channel":
		return cfg.Gateway.Channel, nil
	case "gateway.webhook_url":
		return cfg.Gateway.WebhookURL, nil
	case "gateway.webhook_secret":
		return cfg.Gateway.WebhookSecret, nil
	case "gateway.sns_region":
		return cfg.Gateway.SNSRegion, nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "logging.format":
		return cfg.Logging.Format, nil
	default:
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}
}

// SetValue reads the existing TOML file, updates a single key, and writes it back.
// Creates the file with just the key if it doesn't exist.
func SetValue(configPath, key, value string) error {
	if !IsValidKey(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	var data map[string]any
	if raw, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}
	if data == nil {
		data = make(map[string]any)
	}

	section, field, _ := strings.Cut(key, ".")
	sectionMap, ok := data[section].(map[string]any)
	if !ok {
		sectionMap = make(map[string]any)
		data[section] = sectionMap
	}
	sectionMap[field] = coerceValue(key, value)

	out, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(configPath, out, 0o644)
}

// coerceValue converts a string value to the appropriate Go type for TOML serialization.
func coerceValue(key, value string) any {
	switch key {
	case "gateway.expose_code":
		return value == "true" || value == "1"
	case "provider.timeout", "verification.code_length", "verification.code_expiry",
		"gateway.port", "gateway.token_duration", "gateway.shutdown_timeout":
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return value
}

const defaultTOML = `# wal configuration

[provider]
# Transport used by 'wal login': "webapi", "evolution", "cloudapi" or "log".
# Leave empty to use webapi whenever api_url is set.
# kind = "webapi"

# Session gateway (webapi) or Evolution API base URL.
# api_url = "http://localhost:3000"

# Gateway session id (webapi).
session_id = "login"

# Bearer token sent to the gateway (webapi).
# auth_token = ""

# Evolution API instance and key (evolution).
# instance_name = ""
# api_key = ""

# WhatsApp Cloud API phone number id and access token (cloudapi).
# phone_number_id = ""
# access_token = ""
# graph_base_url = "https://graph.facebook.com"
# graph_version = "v18.0"

# Message sent by locally verified transports. {code} is replaced once.
# message_template = "Your verification code is: {code}"

# Seconds to wait for each upstream request.
timeout = 15

[verification]
# Digits per code.
code_length = 6

# Seconds a code stays valid.
code_expiry = 300

[gateway]
# Address for 'wal gateway' to listen on.
host = "0.0.0.0"
port = 3000

# Require this bearer token on verification requests.
# auth_token = ""

# Sign a JWT for every verified phone. Must be at least 32 characters.
# jwt_secret = ""

# Verification token lifetime in seconds (default: 15 minutes).
token_duration = 900

# Return the issued code in the send response. Development only.
expose_code = false

# Cron schedule for pruning expired codes.
prune_schedule = "* * * * *"

# Seconds to wait for in-flight requests during shutdown.
shutdown_timeout = 10

# How the gateway delivers codes: "log", "evolution", "cloudapi", "webhook" or "sns".
# evolution and cloudapi reuse the credentials in [provider].
channel = "log"

# webhook_url = ""
# webhook_secret = ""
sns_region = "us-east-1"

[logging]
# Log level: debug, info, warn, error.
level = "info"

# Log format: json or text.
format = "json"
`
