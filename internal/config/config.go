package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Ledger       LedgerConfig       `yaml:"ledger" mapstructure:"ledger"`
	Scoring      ScoringConfig      `yaml:"scoring" mapstructure:"scoring"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Events       EventsConfig       `yaml:"events" mapstructure:"events"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// LedgerConfig selects and configures the read-only ledger source.
// Driver is one of "fixture", "postgres" or "http".
type LedgerConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	FixturePath string        `yaml:"fixture_path" mapstructure:"fixture_path"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int           `yaml:"rate_burst" mapstructure:"rate_burst"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// CircuitConfig holds circuit breaker settings for the ledger gateway.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RetryConfig holds retry settings for ledger calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ScoringConfig holds the confidence model weights. Points are added, the
// dispute penalty is subtracted, caps bound each factor before summing.
type ScoringConfig struct {
	VerificationPoints      float64 `yaml:"verification_points" mapstructure:"verification_points"`
	TransferPoints          float64 `yaml:"transfer_points" mapstructure:"transfer_points"`
	TransferCap             float64 `yaml:"transfer_cap" mapstructure:"transfer_cap"`
	AgePointsPerDay         float64 `yaml:"age_points_per_day" mapstructure:"age_points_per_day"`
	AgeCap                  float64 `yaml:"age_cap" mapstructure:"age_cap"`
	StatusBonus             float64 `yaml:"status_bonus" mapstructure:"status_bonus"`
	DisputePenalty          float64 `yaml:"dispute_penalty" mapstructure:"dispute_penalty"`
	ReputationCap           float64 `yaml:"reputation_cap" mapstructure:"reputation_cap"`
	AttestationWeight       float64 `yaml:"attestation_weight" mapstructure:"attestation_weight"`
	AttestationHalfLifeDays int     `yaml:"attestation_half_life_days" mapstructure:"attestation_half_life_days"`
	AttestationFloor        float64 `yaml:"attestation_floor" mapstructure:"attestation_floor"`
	WeightsFile             string  `yaml:"weights_file" mapstructure:"weights_file"`
}

// VerificationConfig configures the request orchestrator and its store.
// StoreDriver is "sqlite", "postgres" or "memory". The postgres store shares
// ledger.database_url.
type VerificationConfig struct {
	ApproveThreshold int    `yaml:"approve_threshold" mapstructure:"approve_threshold"`
	RejectThreshold  int    `yaml:"reject_threshold" mapstructure:"reject_threshold"`
	TimeoutHours     int    `yaml:"timeout_hours" mapstructure:"timeout_hours"`
	StoreDriver      string `yaml:"store_driver" mapstructure:"store_driver"`
	StorePath        string `yaml:"store_path" mapstructure:"store_path"`
}

// EventsConfig configures request transition publishing. An empty NATSURL
// disables publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" mapstructure:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures request backlog alerting. An empty
// WebhookURL disables delivery; metrics are still collected.
type MonitoringConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ExpiryRateThreshold float64 `yaml:"expiry_rate_threshold" mapstructure:"expiry_rate_threshold"`
	OverdueThreshold    int     `yaml:"overdue_threshold" mapstructure:"overdue_threshold"`
	MaxPending          int     `yaml:"max_pending" mapstructure:"max_pending"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROVENANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ledger.driver", "fixture")
	v.SetDefault("ledger.base_url", "")
	v.SetDefault("ledger.api_key", "")
	v.SetDefault("ledger.database_url", "")
	v.SetDefault("ledger.fixture_path", "ledger.yaml")
	v.SetDefault("ledger.rate_limit", 10.0)
	v.SetDefault("ledger.rate_burst", 5)
	v.SetDefault("ledger.timeout_secs", 30)
	v.SetDefault("ledger.retry.max_attempts", 3)
	v.SetDefault("ledger.retry.initial_backoff_ms", 500)
	v.SetDefault("ledger.retry.max_backoff_ms", 10000)
	v.SetDefault("ledger.retry.multiplier", 2.0)
	v.SetDefault("ledger.retry.jitter_fraction", 0.25)
	v.SetDefault("ledger.circuit.failure_threshold", 5)
	v.SetDefault("ledger.circuit.reset_timeout_secs", 30)

	def := DefaultScoringConfig()
	v.SetDefault("scoring.verification_points", def.VerificationPoints)
	v.SetDefault("scoring.transfer_points", def.TransferPoints)
	v.SetDefault("scoring.transfer_cap", def.TransferCap)
	v.SetDefault("scoring.age_points_per_day", def.AgePointsPerDay)
	v.SetDefault("scoring.age_cap", def.AgeCap)
	v.SetDefault("scoring.status_bonus", def.StatusBonus)
	v.SetDefault("scoring.dispute_penalty", def.DisputePenalty)
	v.SetDefault("scoring.reputation_cap", def.ReputationCap)
	v.SetDefault("scoring.attestation_weight", def.AttestationWeight)
	v.SetDefault("scoring.attestation_half_life_days", def.AttestationHalfLifeDays)
	v.SetDefault("scoring.attestation_floor", def.AttestationFloor)
	v.SetDefault("scoring.weights_file", "")

	v.SetDefault("verification.approve_threshold", 2)
	v.SetDefault("verification.reject_threshold", 2)
	v.SetDefault("verification.timeout_hours", 72)
	v.SetDefault("verification.store_driver", "sqlite")
	v.SetDefault("verification.store_path", "provenance.db")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "provenance.request")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.expiry_rate_threshold", 0.5)
	v.SetDefault("monitoring.overdue_threshold", 10)
	v.SetDefault("monitoring.max_pending", 0)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Scoring.WeightsFile != "" {
		if err := cfg.Scoring.ApplyFile(cfg.Scoring.WeightsFile); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// DefaultScoringConfig returns the reference weights: +40 verified, +5 per
// transfer up to 20, +2 per day up to 15, +10 at retailer or sold, -30
// disputed, up to +15 for counterparty reputation. Oracle attestations are
// off by default.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		VerificationPoints:      40,
		TransferPoints:          5,
		TransferCap:             20,
		AgePointsPerDay:         2,
		AgeCap:                  15,
		StatusBonus:             10,
		DisputePenalty:          30,
		ReputationCap:           15,
		AttestationWeight:       0,
		AttestationHalfLifeDays: 30,
	}
}

// ApplyFile overlays weights from a YAML file. Keys missing from the file
// keep their current value.
func (s *ScoringConfig) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "config: read weights file %s", path)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return eris.Wrapf(err, "config: parse weights file %s", path)
	}
	return nil
}

// Validate checks that the fields a command needs are set. Mode is one of
// "assess", "request" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "assess":
		errs = append(errs, c.validateLedger()...)
	case "request":
		errs = append(errs, c.validateVerification()...)
	case "serve":
		errs = append(errs, c.validateLedger()...)
		errs = append(errs, c.validateVerification()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateLedger() []string {
	var errs []string
	switch c.Ledger.Driver {
	case "fixture":
		if c.Ledger.FixturePath == "" {
			errs = append(errs, "ledger.fixture_path is required for the fixture driver")
		}
	case "postgres":
		if c.Ledger.DatabaseURL == "" {
			errs = append(errs, "ledger.database_url is required for the postgres driver")
		}
	case "http":
		if c.Ledger.BaseURL == "" {
			errs = append(errs, "ledger.base_url is required for the http driver")
		}
		if c.Ledger.RateLimit < 0 {
			errs = append(errs, "ledger.rate_limit must be >= 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger.driver %q must be fixture, postgres or http", c.Ledger.Driver))
	}
	return errs
}

func (c *Config) validateVerification() []string {
	var errs []string
	v := c.Verification
	if v.ApproveThreshold < 1 {
		errs = append(errs, "verification.approve_threshold must be >= 1")
	}
	if v.RejectThreshold < 1 {
		errs = append(errs, "verification.reject_threshold must be >= 1")
	}
	if v.TimeoutHours < 1 {
		errs = append(errs, "verification.timeout_hours must be >= 1")
	}
	switch v.StoreDriver {
	case "memory":
	case "sqlite":
		if v.StorePath == "" {
			errs = append(errs, "verification.store_path is required for the sqlite store")
		}
	case "postgres":
		if c.Ledger.DatabaseURL == "" {
			errs = append(errs, "ledger.database_url is required for the postgres store")
		}
	default:
		errs = append(errs, fmt.Sprintf("verification.store_driver %q must be sqlite, postgres or memory", v.StoreDriver))
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
