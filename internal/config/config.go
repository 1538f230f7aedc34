// Package config loads service configuration from .env, an optional file and RECON_* variables.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/database"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/services/matching"
)

const EnvPrefix = "RECON"

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  database.Options `mapstructure:"database"`
	Log       logger.Config    `mapstructure:"log"`
	Matching  matching.Config  `mapstructure:"matching"`
	Payments  PaymentsConfig   `mapstructure:"payments"`
	Sweep     SweepConfig      `mapstructure:"sweep"`
	Dedup     DedupConfig      `mapstructure:"dedup"`
	Templates TemplatesConfig  `mapstructure:"templates"`
	Ingest    IngestConfig     `mapstructure:"ingest"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PaymentsConfig struct {
	// DefaultTTL is applied to new payment requests without an explicit expiry.
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type DedupConfig struct {
	// ResumeAfter lets a redelivered email resume matching a transaction whose
	// first run never finished.
	ResumeAfter time.Duration `mapstructure:"resume_after"`
}

type TemplatesConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

type IngestConfig struct {
	Workers int `mapstructure:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Database: database.Options{
			Driver: database.DriverPostgres,
			DSN:    "host=localhost user=postgres dbname=reconciliation sslmode=disable",
		},
		Log:       *logger.DefaultConfig(),
		Matching:  matching.DefaultConfig(),
		Payments:  PaymentsConfig{DefaultTTL: 30 * time.Minute},
		Sweep:     SweepConfig{Interval: time.Minute},
		Dedup:     DedupConfig{ResumeAfter: 5 * time.Minute},
		Ingest:    IngestConfig{Workers: 4},
		Templates: TemplatesConfig{},
	}
}

// SetDefaults registers every default with v so env overrides resolve.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.log_queries", false)
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("log.output", string(d.Log.Output))
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("matching.amount_tolerance", d.Matching.AmountTolerance.String())
	v.SetDefault("matching.exact_tolerance", d.Matching.ExactTolerance.String())
	v.SetDefault("matching.allow_overpayment", d.Matching.AllowOverpayment)
	v.SetDefault("matching.name_similarity_threshold", d.Matching.NameSimilarityThreshold)
	v.SetDefault("matching.neutral_name_score", d.Matching.NeutralNameScore)
	v.SetDefault("matching.clock_skew", d.Matching.ClockSkew)
	v.SetDefault("matching.time_window", d.Matching.TimeWindow)
	v.SetDefault("payments.default_ttl", d.Payments.DefaultTTL)
	v.SetDefault("sweep.interval", d.Sweep.Interval)
	v.SetDefault("dedup.resume_after", d.Dedup.ResumeAfter)
	v.SetDefault("templates.seed_file", d.Templates.SeedFile)
	v.SetDefault("ingest.workers", d.Ingest.Workers)
}

// NewViper prepares a viper instance reading RECON_* variables. A missing
// .env file is not an error.
func NewViper(envFiles ...string) *viper.Viper {
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load decodes and validates the configuration held by v, reading file first
// when one is given.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig,
				fmt.Sprintf("reading config file %s", file))
		}
	}

	cfg := Default()
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return apperrors.Newf(apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig, format, args...)
	}
	if c.Server.Addr == "" {
		return invalid("server.addr is required")
	}
	switch c.Database.Driver {
	case database.DriverPostgres, database.DriverSQLite:
	default:
		return invalid("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return invalid("database.dsn is required")
	}
	if err := c.Log.Validate(); err != nil {
		return invalid("log: %v", err)
	}
	if err := c.Matching.Validate(); err != nil {
		return invalid("matching: %v", err)
	}
	if c.Payments.DefaultTTL <= 0 {
		return invalid("payments.default_ttl must be positive")
	}
	if c.Sweep.Interval <= 0 {
		return invalid("sweep.interval must be positive")
	}
	if c.Dedup.ResumeAfter < 0 {
		return invalid("dedup.resume_after cannot be negative")
	}
	if c.Ingest.Workers <= 0 {
		return invalid("ingest.workers must be positive")
	}
	return nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case decimal.Decimal:
		return v, nil
	default:
		return nil, fmt.Errorf("cannot decode %T into decimal", data)
	}
}
