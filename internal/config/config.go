// Package config provides configuration management for the trading controller.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Decision Engine Defaults
const (
	// defaultBaseConfidence is used when confidence.base_confidence is unset
	defaultBaseConfidence = 50.0
	// defaultProfitTargetPct is used when exit.profit_target_percent is unset
	defaultProfitTargetPct = 50.0
	// defaultStopLossPct is used when exit.stop_loss_percent is unset
	defaultStopLossPct = -30.0
	// defaultMaxStaleMinutes is the GEX staleness window (4 hours)
	defaultMaxStaleMinutes = 240
	// defaultStaleWeightReduction halves the weight of stale GEX readings
	defaultStaleWeightReduction = 0.5
	// defaultContextTTL is the market-context cache TTL when unset
	defaultContextTTL = 60
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Server      ServerConfig      `yaml:"server"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Confidence  ConfidenceConfig  `yaml:"confidence"`
	Sizing      SizingConfig      `yaml:"sizing"`
	Risk        RiskConfig        `yaml:"risk"`
	GEX         GEXConfig         `yaml:"gex"`
	Exit        ExitConfig        `yaml:"exit"`
	Validation  ValidationConfig  `yaml:"validation"`
	Context     ContextConfig     `yaml:"context"`
	Broker      BrokerConfig      `yaml:"broker"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ServerConfig defines the inbound HTTP surface.
type ServerConfig struct {
	Port          int     `yaml:"port"`
	WebhookSecret string  `yaml:"webhook_secret"` // empty disables HMAC enforcement
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
	QueueDepth    int     `yaml:"queue_depth"`
	Workers       int     `yaml:"workers"`
}

// DedupConfig defines duplicate-signal suppression.
type DedupConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxEntries    int `yaml:"max_entries"`
}

// ConfidenceConfig defines confidence base and adjustment clamps.
type ConfidenceConfig struct {
	BaseConfidence             float64 `yaml:"base_confidence"`
	ContextAdjustmentRange     float64 `yaml:"context_adjustment_range"`
	PositioningAdjustmentRange float64 `yaml:"positioning_adjustment_range"`
	GEXAdjustmentRange         float64 `yaml:"gex_adjustment_range"`
}

// SizingConfig defines the position sizing chain parameters.
type SizingConfig struct {
	BaseSize      float64 `yaml:"base_size"`
	KellyFraction float64 `yaml:"kelly_fraction"`
	MinSize       int     `yaml:"min_size"`
	MaxSize       int     `yaml:"max_size"`
}

// RiskConfig defines market-condition filters and exposure limits.
type RiskConfig struct {
	MaxVIXForEntry           float64 `yaml:"max_vix_for_entry"`
	VIXPositionSizeReduction float64 `yaml:"vix_position_size_reduction"`
	MaxTotalExposure         float64 `yaml:"max_total_exposure"`
}

// GEXConfig defines gamma-exposure staleness handling.
type GEXConfig struct {
	MaxStaleMinutes      int     `yaml:"max_stale_minutes"`
	StaleWeightReduction float64 `yaml:"stale_weight_reduction"`
}

// ExitConfig defines exit thresholds and the sweep cadence.
type ExitConfig struct {
	ProfitTargetPercent float64 `yaml:"profit_target_percent"`
	StopLossPercent     float64 `yaml:"stop_loss_percent"`
	SweepInterval       string  `yaml:"sweep_interval"`
}

// ValidationConfig defines schema and market-hours validation.
type ValidationConfig struct {
	MarketHoursStart    string `yaml:"market_hours_start"` // "HH:MM"
	MarketHoursEnd      string `yaml:"market_hours_end"`   // "HH:MM"
	Timezone            string `yaml:"timezone"`           // e.g., "America/New_York"
	MaxClockSkewMinutes int    `yaml:"max_clock_skew_minutes"`
}

// ContextConfig defines market-context cache behavior.
type ContextConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// BrokerConfig defines the outbound adapter settings.
type BrokerConfig struct {
	Mode          string  `yaml:"mode"` // paper | live
	SubmitTimeout string  `yaml:"submit_timeout"`
	Slippage      float64 `yaml:"slippage"`
}

// StorageConfig defines the persistence location.
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

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
// Defaults are normalized first so a sparse config stays usable.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Server.QueueDepth <= 0 {
		return fmt.Errorf("server.queue_depth must be > 0")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be > 0")
	}

	if c.Dedup.WindowSeconds <= 0 {
		return fmt.Errorf("dedup.window_seconds must be > 0")
	}

	if c.Confidence.BaseConfidence < 0 || c.Confidence.BaseConfidence > 100 {
		return fmt.Errorf("confidence.base_confidence must be between 0 and 100")
	}
	if c.Confidence.ContextAdjustmentRange < 0 ||
		c.Confidence.PositioningAdjustmentRange < 0 ||
		c.Confidence.GEXAdjustmentRange < 0 {
		return fmt.Errorf("confidence adjustment ranges must be >= 0")
	}

	if c.Sizing.BaseSize <= 0 {
		return fmt.Errorf("sizing.base_size must be > 0")
	}
	if c.Sizing.KellyFraction < 0 || c.Sizing.KellyFraction > 1 {
		return fmt.Errorf("sizing.kelly_fraction must be between 0 and 1")
	}
	if c.Sizing.MinSize < 0 {
		return fmt.Errorf("sizing.min_size must be >= 0")
	}
	if c.Sizing.MaxSize <= 0 || c.Sizing.MaxSize < c.Sizing.MinSize {
		return fmt.Errorf("sizing.max_size must be > 0 and >= sizing.min_size")
	}

	if c.Risk.MaxVIXForEntry <= 0 {
		return fmt.Errorf("risk.max_vix_for_entry must be > 0")
	}
	if c.Risk.VIXPositionSizeReduction <= 0 || c.Risk.VIXPositionSizeReduction > 1 {
		return fmt.Errorf("risk.vix_position_size_reduction must be in (0, 1]")
	}
	if c.Risk.MaxTotalExposure <= 0 {
		return fmt.Errorf("risk.max_total_exposure must be > 0")
	}

	if c.GEX.MaxStaleMinutes <= 0 {
		return fmt.Errorf("gex.max_stale_minutes must be > 0")
	}
	if c.GEX.StaleWeightReduction < 0 || c.GEX.StaleWeightReduction > 1 {
		return fmt.Errorf("gex.stale_weight_reduction must be between 0 and 1")
	}

	if c.Exit.ProfitTargetPercent <= 0 {
		return fmt.Errorf("exit.profit_target_percent must be > 0")
	}
	if c.Exit.StopLossPercent >= 0 {
		return fmt.Errorf("exit.stop_loss_percent must be < 0")
	}
	if _, err := time.ParseDuration(c.Exit.SweepInterval); err != nil {
		return fmt.Errorf("exit.sweep_interval invalid: %w", err)
	}

	if c.Broker.Mode != "paper" && c.Broker.Mode != "live" {
		return fmt.Errorf("broker.mode must be 'paper' or 'live'")
	}
	if _, err := time.ParseDuration(c.Broker.SubmitTimeout); err != nil {
		return fmt.Errorf("broker.submit_timeout invalid: %w", err)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	loc := c.location()
	s, err1 := time.ParseInLocation("15:04", c.Validation.MarketHoursStart, loc)
	e, err2 := time.ParseInLocation("15:04", c.Validation.MarketHoursEnd, loc)
	if err1 != nil || err2 != nil || (s.Hour() > e.Hour() || (s.Hour() == e.Hour() && s.Minute() >= e.Minute())) {
		return fmt.Errorf("validation market hours window invalid (start/end parse/order)")
	}

	return nil
}

// normalize sets default values for optional configuration.
func (c *Config) normalize() {
	if c.Confidence.BaseConfidence == 0 {
		c.Confidence.BaseConfidence = defaultBaseConfidence
	}
	if c.Confidence.ContextAdjustmentRange == 0 {
		c.Confidence.ContextAdjustmentRange = 20
	}
	if c.Confidence.PositioningAdjustmentRange == 0 {
		c.Confidence.PositioningAdjustmentRange = 10
	}
	if c.Confidence.GEXAdjustmentRange == 0 {
		c.Confidence.GEXAdjustmentRange = 15
	}
	if c.Exit.ProfitTargetPercent == 0 {
		c.Exit.ProfitTargetPercent = defaultProfitTargetPct
	}
	if c.Exit.StopLossPercent == 0 {
		c.Exit.StopLossPercent = defaultStopLossPct
	}
	if c.Exit.SweepInterval == "" {
		c.Exit.SweepInterval = "1m"
	}
	if c.GEX.MaxStaleMinutes == 0 {
		c.GEX.MaxStaleMinutes = defaultMaxStaleMinutes
	}
	if c.GEX.StaleWeightReduction == 0 {
		c.GEX.StaleWeightReduction = defaultStaleWeightReduction
	}
	if c.Context.TTLSeconds == 0 {
		c.Context.TTLSeconds = defaultContextTTL
	}
	if c.Validation.MarketHoursStart == "" {
		c.Validation.MarketHoursStart = "09:30"
	}
	if c.Validation.MarketHoursEnd == "" {
		c.Validation.MarketHoursEnd = "16:00"
	}
	if c.Validation.MaxClockSkewMinutes == 0 {
		c.Validation.MaxClockSkewMinutes = 15
	}
	if c.Server.RatePerSecond == 0 {
		c.Server.RatePerSecond = 10
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}
	if c.Server.QueueDepth == 0 {
		c.Server.QueueDepth = 256
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = 4
	}
	if c.Dedup.MaxEntries == 0 {
		c.Dedup.MaxEntries = 10000
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = c.Environment.Mode
	}
	if c.Broker.SubmitTimeout == "" {
		c.Broker.SubmitTimeout = "10s"
	}
}

// IsPaperTrading returns true if the controller is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// DedupWindow returns the duplicate suppression TTL.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Dedup.WindowSeconds) * time.Second
}

// ContextTTL returns the market-context cache TTL.
func (c *Config) ContextTTL() time.Duration {
	return time.Duration(c.Context.TTLSeconds) * time.Second
}

// SweepInterval returns the exit worker cadence.
func (c *Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.Exit.SweepInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// SubmitTimeout returns the broker submission timeout.
func (c *Config) SubmitTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.SubmitTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func (c *Config) location() *time.Location {
	tz := c.Validation.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		loc = time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// IsWithinMarketHours checks if the given time falls within the configured
// exchange-local trading window. Weekends are always outside.
func (c *Config) IsWithinMarketHours(now time.Time) bool {
	loc := c.location()
	today := now.In(loc)

	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Validation.MarketHoursStart, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Validation.MarketHoursEnd, loc)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		startClock = time.Date(0, 1, 1, 9, 30, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 16, 0, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}

// MarketCloseToday returns the configured market close on the given day in
// exchange-local time. Used by the TIME_EXIT rule.
func (c *Config) MarketCloseToday(now time.Time) time.Time {
	loc := c.location()
	today := now.In(loc)
	endClock, err := time.ParseInLocation("15:04", c.Validation.MarketHoursEnd, loc)
	if err != nil {
		endClock = time.Date(0, 1, 1, 16, 0, 0, 0, loc)
	}
	return time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)
}

// MaxClockSkew returns the tolerated signal timestamp skew.
func (c *Config) MaxClockSkew() time.Duration {
	return time.Duration(c.Validation.MaxClockSkewMinutes) * time.Minute
}
