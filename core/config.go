package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinHTTPTimeout     = 10 * time.Second
	MaxHTTPTimeout     = 30 * time.Second
	DefaultHTTPTimeout = 15 * time.Second
)

type OAuthConfig struct {
	StateMaxAge time.Duration `koanf:"state_max_age" mapstructure:"state_max_age"`
	RedirectURI string        `koanf:"redirect_uri" mapstructure:"redirect_uri"`
}

type RefreshConfig struct {
	// MaxAttempts may lower the refresh attempt cap but never raise it. The
	// delay schedule between attempts is fixed at 1s, 2s, 4s.
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	ExpiryLeeway   time.Duration `koanf:"expiry_leeway" mapstructure:"expiry_leeway"`
	LockTTL        time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
	ScheduleWindow time.Duration `koanf:"schedule_window" mapstructure:"schedule_window"`
}

type HTTPConfig struct {
	Timeout           time.Duration `koanf:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `koanf:"burst" mapstructure:"burst"`
}

type TradingConfig struct {
	DefaultTrailPercent float64 `koanf:"default_trail_percent" mapstructure:"default_trail_percent"`
}

type VaultConfig struct {
	ActiveKeyVersion int `koanf:"active_key_version" mapstructure:"active_key_version"`
}

type BrokerConfig struct {
	Enabled      bool     `koanf:"enabled" mapstructure:"enabled"`
	ClientID     string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI  string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes"`
	Sandbox      bool     `koanf:"sandbox" mapstructure:"sandbox"`
}

// DatabaseConfig selects the SQL backend for store/sql. Driver is
// "postgres" or "sqlite3".
type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
}

type Config struct {
	ServiceName string                  `koanf:"service_name" mapstructure:"service_name"`
	OAuth       OAuthConfig             `koanf:"oauth" mapstructure:"oauth"`
	Refresh     RefreshConfig           `koanf:"refresh" mapstructure:"refresh"`
	HTTP        HTTPConfig              `koanf:"http" mapstructure:"http"`
	Trading     TradingConfig           `koanf:"trading" mapstructure:"trading"`
	Vault       VaultConfig             `koanf:"vault" mapstructure:"vault"`
	Database    DatabaseConfig          `koanf:"database" mapstructure:"database"`
	Brokers     map[string]BrokerConfig `koanf:"brokers" mapstructure:"brokers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "tradeexec",
		OAuth: OAuthConfig{
			StateMaxAge: defaultStateMaxAge,
		},
		Refresh: RefreshConfig{
			MaxAttempts:    defaultRefreshMaxAttempts,
			ExpiryLeeway:   defaultRefreshExpiryLeeway,
			LockTTL:        defaultRefreshLockTTL,
			ScheduleWindow: defaultRefreshScheduleWindow,
		},
		HTTP: HTTPConfig{
			Timeout:           DefaultHTTPTimeout,
			RequestsPerSecond: 3,
			Burst:             5,
		},
		Trading: TradingConfig{
			DefaultTrailPercent: 2,
		},
		Vault: VaultConfig{
			ActiveKeyVersion: 1,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			PingTimeout: 5 * time.Second,
		},
		Brokers: map[string]BrokerConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.OAuth.StateMaxAge < 0 || c.OAuth.StateMaxAge > defaultStateMaxAge {
		return fmt.Errorf("core: oauth.state_max_age must be between 0 and %s", defaultStateMaxAge)
	}
	if c.Refresh.MaxAttempts < 0 || c.Refresh.MaxAttempts > defaultRefreshMaxAttempts {
		return fmt.Errorf("core: refresh.max_attempts must be between 1 and %d", defaultRefreshMaxAttempts)
	}
	if c.HTTP.Timeout != 0 && (c.HTTP.Timeout < MinHTTPTimeout || c.HTTP.Timeout > MaxHTTPTimeout) {
		return fmt.Errorf("core: http.timeout must be between %s and %s", MinHTTPTimeout, MaxHTTPTimeout)
	}
	if c.HTTP.RequestsPerSecond < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("core: http rate limits must not be negative")
	}
	if c.Trading.DefaultTrailPercent < 0 || c.Trading.DefaultTrailPercent >= 100 {
		return fmt.Errorf("core: trading.default_trail_percent must be between 0 and 100")
	}
	for id, broker := range c.Brokers {
		if broker.Enabled && strings.TrimSpace(broker.ClientID) == "" {
			return fmt.Errorf("core: brokers.%s.client_id is required when enabled", id)
		}
	}
	return nil
}

// Broker returns the configuration block for the broker, if any.
func (c Config) Broker(brokerKey string) (BrokerConfig, bool) {
	if len(c.Brokers) == 0 {
		return BrokerConfig{}, false
	}
	cfg, ok := c.Brokers[normalizeBrokerKey(brokerKey)]
	return cfg, ok
}

// ClampHTTPTimeout forces a timeout into the supported outbound window.
func ClampHTTPTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return DefaultHTTPTimeout
	case timeout < MinHTTPTimeout:
		return MinHTTPTimeout
	case timeout > MaxHTTPTimeout:
		return MaxHTTPTimeout
	default:
		return timeout
	}
}
