package detectbridge

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/worldsio/detectbridge/graphql"
)

// Environment variables read by LoadConfig. Each one can also be set in
// config.yaml under its lower-case name.
const (
	EnvTokenID             = "GRAPHQL_TOKEN_ID"
	EnvTokenValue          = "GRAPHQL_TOKEN_VALUE"
	EnvEventProducerID     = "EVENT_PRODUCER_ID"
	EnvHTTPEndpoint        = "GRAPHQL_HTTP_ENDPOINT"
	EnvWSEndpoint          = "GRAPHQL_WS_ENDPOINT"
	EnvEventName           = "NAME_OF_THE_EVENT"
	EnvDashboardAddr       = "DASHBOARD_ADDR"
	EnvDashboardUsername   = "DASHBOARD_USERNAME"
	EnvDashboardPassword   = "DASHBOARD_PASSWORD"
	EnvDashboardTLSCert    = "DASHBOARD_TLS_CERT"
	EnvDashboardTLSKey     = "DASHBOARD_TLS_KEY"
	EnvDatabasePath        = "DATABASE_PATH"
	EnvLogLevel            = "LOG_LEVEL"
	EnvInsecureSkipVerify  = "GRAPHQL_INSECURE_SKIP_VERIFY"
	EnvTLSFingerprint      = "GRAPHQL_TLS_FINGERPRINT"
	EnvTimeout             = "GRAPHQL_TIMEOUT"
	EnvRetries             = "GRAPHQL_RETRIES"
	EnvRulesScript         = "RULES_SCRIPT"
	EnvAutoCreateEvents    = "AUTO_CREATE_EVENTS"
	EnvEventCooldown       = "EVENT_COOLDOWN"
	EnvReconnectMaxBackoff = "RECONNECT_MAX_BACKOFF"
)

var envKeys = []string{
	EnvTokenID,
	EnvTokenValue,
	EnvEventProducerID,
	EnvHTTPEndpoint,
	EnvWSEndpoint,
	EnvEventName,
	EnvDashboardAddr,
	EnvDashboardUsername,
	EnvDashboardPassword,
	EnvDashboardTLSCert,
	EnvDashboardTLSKey,
	EnvDatabasePath,
	EnvLogLevel,
	EnvInsecureSkipVerify,
	EnvTLSFingerprint,
	EnvTimeout,
	EnvRetries,
	EnvRulesScript,
	EnvAutoCreateEvents,
	EnvEventCooldown,
	EnvReconnectMaxBackoff,
}

var (
	ErrMissingCredentials          = errors.New("GRAPHQL_TOKEN_ID and GRAPHQL_TOKEN_VALUE must be set")
	ErrInvalidHTTPEndpoint         = errors.New("GRAPHQL_HTTP_ENDPOINT must be an http or https URL")
	ErrInvalidWSEndpoint           = errors.New("GRAPHQL_WS_ENDPOINT must be a ws or wss URL")
	ErrInvalidFingerprint          = errors.New("GRAPHQL_TLS_FINGERPRINT must be empty or chrome")
	ErrMissingProducerID           = errors.New("EVENT_PRODUCER_ID must be set")
	ErrMissingDashboardCredentials = errors.New("DASHBOARD_USERNAME and DASHBOARD_PASSWORD must be set")
	ErrIncompleteTLS               = errors.New("DASHBOARD_TLS_CERT and DASHBOARD_TLS_KEY must be set together")
)

// Config is the bridge configuration.
type Config struct {
	TokenID             string        `mapstructure:"graphql_token_id"`
	TokenValue          string        `mapstructure:"graphql_token_value"`
	EventProducerID     string        `mapstructure:"event_producer_id"`
	HTTPEndpoint        string        `mapstructure:"graphql_http_endpoint"`
	WSEndpoint          string        `mapstructure:"graphql_ws_endpoint"`
	EventName           string        `mapstructure:"name_of_the_event"`
	DashboardAddr       string        `mapstructure:"dashboard_addr"`
	DashboardUsername   string        `mapstructure:"dashboard_username"`
	DashboardPassword   string        `mapstructure:"dashboard_password"`
	DashboardTLSCert    string        `mapstructure:"dashboard_tls_cert"`
	DashboardTLSKey     string        `mapstructure:"dashboard_tls_key"`
	DatabasePath        string        `mapstructure:"database_path"`
	LogLevel            string        `mapstructure:"log_level"`
	InsecureSkipVerify  bool          `mapstructure:"graphql_insecure_skip_verify"`
	TLSFingerprint      string        `mapstructure:"graphql_tls_fingerprint"`
	Timeout             time.Duration `mapstructure:"graphql_timeout"`
	Retries             int           `mapstructure:"graphql_retries"`
	RulesScript         string        `mapstructure:"rules_script"`
	AutoCreateEvents    bool          `mapstructure:"auto_create_events"`
	EventCooldown       time.Duration `mapstructure:"event_cooldown"`
	ReconnectMaxBackoff time.Duration `mapstructure:"reconnect_max_backoff"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		DashboardAddr:       ":5001",
		DatabasePath:        "detections.db",
		LogLevel:            "info",
		Timeout:             30 * time.Second,
		Retries:             3,
		EventCooldown:       5 * time.Minute,
		ReconnectMaxBackoff: time.Minute,
	}
}

// LoadConfig reads the configuration from the environment, then from
// config.yaml in configDir when it exists, then from the defaults.
func LoadConfig(configDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}

	defaults := DefaultConfig()
	v.SetDefault("dashboard_addr", defaults.DashboardAddr)
	v.SetDefault("database_path", defaults.DatabasePath)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("graphql_insecure_skip_verify", false)
	v.SetDefault("graphql_tls_fingerprint", graphql.FingerprintNone)
	v.SetDefault("graphql_timeout", defaults.Timeout)
	v.SetDefault("graphql_retries", defaults.Retries)
	v.SetDefault("auto_create_events", false)
	v.SetDefault("event_cooldown", defaults.EventCooldown)
	v.SetDefault("reconnect_max_backoff", defaults.ReconnectMaxBackoff)

	for _, env := range envKeys {
		if err := v.BindEnv(envKey(env), env); err != nil {
			return nil, fmt.Errorf("binding %s : %w", env, err)
		}
	}

	if configDir != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file : %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config to struct : %w", err)
	}
	return cfg, nil
}

func envKey(env string) string {
	return strings.ToLower(env)
}

// ValidateGraphQL checks what every upstream call needs.
func (cfg *Config) ValidateGraphQL() error {
	if cfg.TokenID == "" || cfg.TokenValue == "" {
		return ErrMissingCredentials
	}
	if !hasScheme(cfg.HTTPEndpoint, "http", "https") {
		return fmt.Errorf("%w : %q", ErrInvalidHTTPEndpoint, cfg.HTTPEndpoint)
	}
	switch cfg.TLSFingerprint {
	case graphql.FingerprintNone, graphql.FingerprintChrome:
	default:
		return fmt.Errorf("%w : %q", ErrInvalidFingerprint, cfg.TLSFingerprint)
	}
	return nil
}

// ValidateSubscriptions checks what live subscriptions need.
func (cfg *Config) ValidateSubscriptions() error {
	if err := cfg.ValidateGraphQL(); err != nil {
		return err
	}
	if !hasScheme(cfg.WSEndpoint, "ws", "wss") {
		return fmt.Errorf("%w : %q", ErrInvalidWSEndpoint, cfg.WSEndpoint)
	}
	return nil
}

// ValidateMutations checks what event creation needs.
func (cfg *Config) ValidateMutations() error {
	if err := cfg.ValidateGraphQL(); err != nil {
		return err
	}
	if cfg.EventProducerID == "" {
		return ErrMissingProducerID
	}
	return nil
}

// ValidateDashboard checks what the dashboard needs. There are no default credentials.
func (cfg *Config) ValidateDashboard() error {
	if cfg.DashboardUsername == "" || cfg.DashboardPassword == "" {
		return ErrMissingDashboardCredentials
	}
	if (cfg.DashboardTLSCert == "") != (cfg.DashboardTLSKey == "") {
		return ErrIncompleteTLS
	}
	return nil
}

// DashboardTLS reports whether the dashboard serves TLS.
func (cfg *Config) DashboardTLS() bool {
	return cfg.DashboardTLSCert != "" && cfg.DashboardTLSKey != ""
}

func hasScheme(endpoint string, schemes ...string) bool {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return false
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return true
		}
	}
	return false
}
