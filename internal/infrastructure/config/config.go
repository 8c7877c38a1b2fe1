package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Tublink Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud     CloudConfig     `yaml:"cloud"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Polling   PollingConfig   `yaml:"polling"`
	Command   CommandConfig   `yaml:"command"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sweep     SweepConfig     `yaml:"sweep"`
}

// CloudConfig contains cloud API connection settings for the spa vendor service.
type CloudConfig struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	SpaID    string `yaml:"spa_id"`
	// RequestTimeout is the hard per-request timeout in seconds.
	RequestTimeout int `yaml:"request_timeout"`
	// TokenRefreshMargin is how many seconds before expiry the auth
	// token is refreshed.
	TokenRefreshMargin int `yaml:"token_refresh_margin"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	BaseTopic string              `yaml:"base_topic"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PollingConfig contains background state poller settings.
type PollingConfig struct {
	// Interval is the full state poll period in seconds.
	Interval int `yaml:"interval"`
}

// CommandConfig contains command send and verification settings.
type CommandConfig struct {
	// SendMaxAttempts bounds transport-level retries for the write itself.
	SendMaxAttempts int `yaml:"send_max_attempts"`
	// SendRetryDelay is the pause between transport retries in seconds.
	SendRetryDelay int `yaml:"send_retry_delay"`
	// Static is the verification profile for discrete, instantly-settling
	// properties.
	Static VerifyProfileConfig `yaml:"static"`
	// Dynamic is the verification profile for animation modes whose
	// reported values keep changing after the command lands.
	Dynamic VerifyProfileConfig `yaml:"dynamic"`
}

// VerifyProfileConfig contains one verification timing profile.
// InitialWait and RetryInterval are in seconds. MaxRetries bounds the
// total number of readback polls after the initial wait, so the
// verification window is initial_wait + max_retries*retry_interval.
type VerifyProfileConfig struct {
	InitialWait   int `yaml:"initial_wait"`
	MaxRetries    int `yaml:"max_retries"`
	RetryInterval int `yaml:"retry_interval"`
}

// RateLimitConfig contains cloud throttle backoff settings.
type RateLimitConfig struct {
	// BaseDelay is the first backoff window in seconds.
	BaseDelay int `yaml:"base_delay"`
	// MaxDelay caps the exponential backoff in seconds.
	MaxDelay int `yaml:"max_delay"`
}

// SweepConfig contains capability sweep settings.
type SweepConfig struct {
	// SettleDelay is the fixed pause between sweep units in seconds.
	// Commands issued faster than this are silently dropped by the cloud
	// gateway even when each individual verification would succeed.
	SettleDelay int `yaml:"settle_delay"`
	// NeutralizeEvery forces all zones off after this many units, in
	// addition to every zone boundary.
	NeutralizeEvery int `yaml:"neutralize_every"`
	// ThrottleRetries bounds throttle-triggered retries of a single unit
	// before the unit is abandoned and the sweep moves on.
	ThrottleRetries int `yaml:"throttle_retries"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TUBLINK_SECTION_KEY
// For example: TUBLINK_DATABASE_PATH, TUBLINK_CLOUD_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL:            "https://api.smarttub.io",
			RequestTimeout:     15,
			TokenRefreshMargin: 300,
		},
		Database: DatabaseConfig{
			Path:        "./data/tublink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tublink-core",
			},
			QoS:       1,
			BaseTopic: "tublink",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Polling: PollingConfig{
			Interval: 60,
		},
		Command: CommandConfig{
			SendMaxAttempts: 3,
			SendRetryDelay:  2,
			Static: VerifyProfileConfig{
				InitialWait:   5,
				MaxRetries:    5,
				RetryInterval: 2,
			},
			Dynamic: VerifyProfileConfig{
				InitialWait:   20,
				MaxRetries:    3,
				RetryInterval: 5,
			},
		},
		RateLimit: RateLimitConfig{
			BaseDelay: 5,
			MaxDelay:  300,
		},
		Sweep: SweepConfig{
			SettleDelay:     20,
			NeutralizeEvery: 10,
			ThrottleRetries: 3,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TUBLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud credentials (never stored in the YAML file in production)
	if v := os.Getenv("TUBLINK_CLOUD_EMAIL"); v != "" {
		cfg.Cloud.Email = v
	}
	if v := os.Getenv("TUBLINK_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("TUBLINK_CLOUD_SPA_ID"); v != "" {
		cfg.Cloud.SpaID = v
	}

	// Database
	if v := os.Getenv("TUBLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TUBLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TUBLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TUBLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("TUBLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Cloud validation
	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.Email == "" {
		errs = append(errs, "cloud.email is required (set TUBLINK_CLOUD_EMAIL environment variable)")
	}
	if c.Cloud.Password == "" {
		errs = append(errs, "cloud.password is required (set TUBLINK_CLOUD_PASSWORD environment variable)")
	}
	if c.Cloud.RequestTimeout < 1 {
		errs = append(errs, "cloud.request_timeout must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.BaseTopic == "" || strings.ContainsAny(c.MQTT.BaseTopic, "+#") {
		errs = append(errs, "mqtt.base_topic must be non-empty and contain no wildcards")
	}

	// Polling validation
	if c.Polling.Interval < 10 {
		errs = append(errs, "polling.interval must be at least 10 seconds (cloud API rate limits)")
	}

	// Command validation
	if c.Command.SendMaxAttempts < 1 {
		errs = append(errs, "command.send_max_attempts must be at least 1")
	}
	if c.Command.Static.MaxRetries < 1 || c.Command.Dynamic.MaxRetries < 1 {
		errs = append(errs, "command verification profiles need max_retries of at least 1")
	}
	staticCeiling := c.Command.Static.InitialWait + c.Command.Static.MaxRetries*c.Command.Static.RetryInterval
	dynamicCeiling := c.Command.Dynamic.InitialWait + c.Command.Dynamic.MaxRetries*c.Command.Dynamic.RetryInterval
	if dynamicCeiling <= staticCeiling {
		errs = append(errs, "command.dynamic verification ceiling must exceed command.static (animation modes need longer observation)")
	}

	// Rate limit validation
	if c.RateLimit.BaseDelay < 1 {
		errs = append(errs, "rate_limit.base_delay must be at least 1 second")
	}
	if c.RateLimit.MaxDelay < c.RateLimit.BaseDelay {
		errs = append(errs, "rate_limit.max_delay must be >= rate_limit.base_delay")
	}

	// Sweep validation
	if c.Sweep.SettleDelay < 1 {
		errs = append(errs, "sweep.settle_delay must be at least 1 second")
	}
	if c.Sweep.ThrottleRetries < 0 {
		errs = append(errs, "sweep.throttle_retries must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the cloud request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return c.Cloud.GetRequestTimeout()
}

// GetRequestTimeout returns the cloud request timeout as a Duration.
func (c CloudConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetTokenRefreshMargin returns how long before expiry the auth token is
// refreshed, as a Duration.
func (c CloudConfig) GetTokenRefreshMargin() time.Duration {
	return time.Duration(c.TokenRefreshMargin) * time.Second
}

// GetPollInterval returns the state poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Polling.Interval) * time.Second
}

// GetSettleDelay returns the inter-unit sweep settle delay as a Duration.
func (c *Config) GetSettleDelay() time.Duration {
	return time.Duration(c.Sweep.SettleDelay) * time.Second
}

// GetRateLimitBase returns the base throttle backoff as a Duration.
func (c *Config) GetRateLimitBase() time.Duration {
	return time.Duration(c.RateLimit.BaseDelay) * time.Second
}

// GetRateLimitMax returns the throttle backoff cap as a Duration.
func (c *Config) GetRateLimitMax() time.Duration {
	return time.Duration(c.RateLimit.MaxDelay) * time.Second
}
