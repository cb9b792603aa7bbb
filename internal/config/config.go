// Package config provides configuration management for the roll monitor.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize() when the corresponding field is unset.
const (
	// defaultQuoteTTLSeconds bounds quote-cache freshness
	defaultQuoteTTLSeconds = 10
	// defaultMonitorIntervalMinutes is the monitor scan cadence
	defaultMonitorIntervalMinutes = 5
	// defaultNotifierIntervalSeconds is the notifier drain cadence
	defaultNotifierIntervalSeconds = 30
	// defaultNotifierBatchSize caps alerts drained per notifier tick
	defaultNotifierBatchSize = 100
	// defaultMaxNotificationRetries bounds per-channel send attempts
	defaultMaxNotificationRetries = 3
)

// Config represents the complete application configuration.
type Config struct {
	Environment  EnvironmentConfig  `yaml:"environment"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Notifier     NotifierConfig     `yaml:"notifier"`
	MarketData   MarketDataConfig   `yaml:"market_data"`
	Session      SessionConfig      `yaml:"session"`
	RuleDefaults RuleDefaultsConfig `yaml:"rule_defaults"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Storage      StorageConfig      `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BridgeConfig defines the MT5 bridge HTTP ingress settings.
type BridgeConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Port            int      `yaml:"port"`
	Token           string   `yaml:"token"`
	AllowedIPs      []string `yaml:"allowed_ips"`
	QuoteTTLSeconds int      `yaml:"quote_ttl_seconds"`
}

// QuoteTTL returns the quote freshness bound as a duration.
func (b *BridgeConfig) QuoteTTL() time.Duration {
	ttl := b.QuoteTTLSeconds
	if ttl <= 0 {
		ttl = defaultQuoteTTLSeconds
	}
	return time.Duration(ttl) * time.Second
}

// MonitorConfig defines the monitor engine cadence.
type MonitorConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

// Interval returns the monitor scan interval.
func (m *MonitorConfig) Interval() time.Duration {
	if m.IntervalMinutes <= 0 {
		return defaultMonitorIntervalMinutes * time.Minute
	}
	return time.Duration(m.IntervalMinutes) * time.Minute
}

// NotifierConfig defines the notifier engine cadence and retry policy.
type NotifierConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchSize       int `yaml:"batch_size"`
	MaxRetries      int `yaml:"max_retries"`
	RetryDelaySec   int `yaml:"retry_delay_seconds"`
}

// Interval returns the notifier drain interval.
func (n *NotifierConfig) Interval() time.Duration {
	if n.IntervalSeconds <= 0 {
		return defaultNotifierIntervalSeconds * time.Second
	}
	return time.Duration(n.IntervalSeconds) * time.Second
}

// RetryDelay returns the sleep between channel send attempts.
func (n *NotifierConfig) RetryDelay() time.Duration {
	if n.RetryDelaySec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.RetryDelaySec) * time.Second
}

// MarketDataConfig selects the provider chain at startup.
type MarketDataConfig struct {
	Provider       string      `yaml:"provider"`        // mock | brapi | mt5 | hybrid
	HybridFallback string      `yaml:"hybrid_fallback"` // brapi | mock
	Brapi          BrapiConfig `yaml:"brapi"`
}

// BrapiConfig defines the external HTTP quote API and the Black–Scholes
// parameters used to synthesize option prices from it.
type BrapiConfig struct {
	BaseURL      string  `yaml:"base_url"`
	Token        string  `yaml:"token"`
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	Volatility   float64 `yaml:"volatility"`
}

// SessionConfig defines the exchange trading window used to gate workers.
type SessionConfig struct {
	Timezone    string `yaml:"timezone"` // e.g. "America/Sao_Paulo"
	OpenHour    int    `yaml:"open_hour"`
	OpenMinute  int    `yaml:"open_minute"`
	CloseHour   int    `yaml:"close_hour"`
	CloseMinute int    `yaml:"close_minute"`
}

// RuleDefaultsConfig provides fallback thresholds for rules that omit them.
type RuleDefaultsConfig struct {
	DeltaThreshold float64 `yaml:"delta_threshold"`
	DTEMin         int     `yaml:"dte_min"`
	DTEMax         int     `yaml:"dte_max"`
	MinVolume      float64 `yaml:"min_volume"`
	MaxSpread      float64 `yaml:"max_spread"`
	MinOI          float64 `yaml:"min_oi"`
}

// ChannelsConfig defines the messaging provider settings.
type ChannelsConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StorageConfig defines storage settings for queue and log data.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// normalize fills defaulted fields before validation.
func (c *Config) normalize() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Bridge.QuoteTTLSeconds == 0 {
		c.Bridge.QuoteTTLSeconds = defaultQuoteTTLSeconds
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = 8080
	}
	if c.Monitor.IntervalMinutes == 0 {
		c.Monitor.IntervalMinutes = defaultMonitorIntervalMinutes
	}
	if c.Notifier.IntervalSeconds == 0 {
		c.Notifier.IntervalSeconds = defaultNotifierIntervalSeconds
	}
	if c.Notifier.BatchSize == 0 {
		c.Notifier.BatchSize = defaultNotifierBatchSize
	}
	if c.Notifier.MaxRetries == 0 {
		c.Notifier.MaxRetries = defaultMaxNotificationRetries
	}
	if c.MarketData.Provider == "" {
		c.MarketData.Provider = "mock"
	}
	if c.MarketData.HybridFallback == "" {
		c.MarketData.HybridFallback = "mock"
	}
	if c.MarketData.Brapi.RiskFreeRate == 0 {
		c.MarketData.Brapi.RiskFreeRate = 0.11
	}
	if c.MarketData.Brapi.Volatility == 0 {
		c.MarketData.Brapi.Volatility = 0.35
	}
	if c.Session.Timezone == "" {
		c.Session.Timezone = "America/Sao_Paulo"
	}
	if c.Session.OpenHour == 0 && c.Session.OpenMinute == 0 {
		c.Session.OpenHour = 10
	}
	if c.Session.CloseHour == 0 && c.Session.CloseMinute == 0 {
		c.Session.CloseHour = 17
	}
	if c.RuleDefaults.DTEMax == 0 {
		c.RuleDefaults.DTEMin = 5
		c.RuleDefaults.DTEMax = 45
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "rollwatch.json"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Bridge.Enabled && c.Bridge.Token == "" {
		return fmt.Errorf("bridge.token is required when bridge.enabled is true")
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be in (0,65535]")
	}
	if c.Bridge.QuoteTTLSeconds <= 0 {
		return fmt.Errorf("bridge.quote_ttl_seconds must be > 0")
	}

	if c.Monitor.IntervalMinutes <= 0 {
		return fmt.Errorf("monitor.interval_minutes must be > 0")
	}
	if c.Notifier.IntervalSeconds <= 0 {
		return fmt.Errorf("notifier.interval_seconds must be > 0")
	}
	if c.Notifier.BatchSize <= 0 {
		return fmt.Errorf("notifier.batch_size must be > 0")
	}
	if c.Notifier.MaxRetries <= 0 {
		return fmt.Errorf("notifier.max_retries must be > 0")
	}

	switch c.MarketData.Provider {
	case "mock", "brapi", "mt5", "hybrid":
	default:
		return fmt.Errorf("market_data.provider must be one of mock, brapi, mt5, hybrid")
	}
	switch c.MarketData.HybridFallback {
	case "mock", "brapi":
	default:
		return fmt.Errorf("market_data.hybrid_fallback must be 'brapi' or 'mock'")
	}
	if c.MarketData.Provider == "brapi" || (c.MarketData.Provider == "hybrid" && c.MarketData.HybridFallback == "brapi") {
		if c.MarketData.Brapi.BaseURL == "" {
			return fmt.Errorf("market_data.brapi.base_url is required for the brapi provider")
		}
	}

	if c.Session.OpenHour < 0 || c.Session.OpenHour > 23 ||
		c.Session.CloseHour < 0 || c.Session.CloseHour > 23 ||
		c.Session.OpenMinute < 0 || c.Session.OpenMinute > 59 ||
		c.Session.CloseMinute < 0 || c.Session.CloseMinute > 59 {
		return fmt.Errorf("session window hours/minutes out of range")
	}
	openMin := c.Session.OpenHour*60 + c.Session.OpenMinute
	closeMin := c.Session.CloseHour*60 + c.Session.CloseMinute
	if openMin >= closeMin {
		return fmt.Errorf("session open (%02d:%02d) must be before close (%02d:%02d)",
			c.Session.OpenHour, c.Session.OpenMinute, c.Session.CloseHour, c.Session.CloseMinute)
	}

	if c.RuleDefaults.DTEMin < 0 || c.RuleDefaults.DTEMax < c.RuleDefaults.DTEMin {
		return fmt.Errorf("rule_defaults dte band must satisfy 0 <= dte_min <= dte_max")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

// IsPaperTrading returns true if configured for paper mode.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location resolves the session timezone with a DST-agnostic fallback for
// minimal containers.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		loc = time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// IsMarketOpen reports whether the exchange session is open at the given
// instant: weekends are closed, otherwise [open, close) in the configured
// timezone. Inclusive open boundary, exclusive close boundary.
func (c *Config) IsMarketOpen(now time.Time) bool {
	local := now.In(c.Location())

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	openMin := c.Session.OpenHour*60 + c.Session.OpenMinute
	closeMin := c.Session.CloseHour*60 + c.Session.CloseMinute

	return minutes >= openMin && minutes < closeMin
}
