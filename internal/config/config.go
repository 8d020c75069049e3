package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mapping sources.
const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
)

type Config struct {
	Port              string `mapstructure:"PORT"`
	Env               string `mapstructure:"ENV"`
	MappingFile       string `mapstructure:"MAPPING_FILE"`
	MappingSource     string `mapstructure:"MAPPING_SOURCE"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32  `mapstructure:"DB_MIN_CONNS"`
	SendingApp        string `mapstructure:"SENDING_APP"`
	SendingFacility   string `mapstructure:"SENDING_FACILITY"`
	ReceivingApp      string `mapstructure:"RECEIVING_APP"`
	ReceivingFacility string `mapstructure:"RECEIVING_FACILITY"`
	ClinicTimezone    string `mapstructure:"CLINIC_TIMEZONE"`
	BatchWorkers      int    `mapstructure:"BATCH_WORKERS"`
	OutputDir         string `mapstructure:"OUTPUT_DIR"`
	OutputPrefix      string `mapstructure:"OUTPUT_PREFIX"`
	TrailerCount      int    `mapstructure:"TRAILER_COUNT"`
	CountTrailer      bool   `mapstructure:"TRAILER_COUNT_SEGMENTS"`

	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "MAPPING_FILE", "MAPPING_SOURCE", "DATABASE_URL",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "SENDING_APP", "SENDING_FACILITY",
	"RECEIVING_APP", "RECEIVING_FACILITY", "CLINIC_TIMEZONE", "BATCH_WORKERS",
	"OUTPUT_DIR", "OUTPUT_PREFIX", "TRAILER_COUNT", "TRAILER_COUNT_SEGMENTS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("MAPPING_FILE", "mapping.csv")
	v.SetDefault("MAPPING_SOURCE", SourceCSV)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SENDING_APP", "SENDING_APP")
	v.SetDefault("SENDING_FACILITY", "SENDING_FACILITY")
	v.SetDefault("RECEIVING_APP", "RECEIVING_APP")
	v.SetDefault("RECEIVING_FACILITY", "RECEIVING_FACILITY")
	v.SetDefault("CLINIC_TIMEZONE", "PST")
	v.SetDefault("BATCH_WORKERS", 0)
	v.SetDefault("OUTPUT_DIR", "output")
	v.SetDefault("OUTPUT_PREFIX", "hl7_message")
	v.SetDefault("TRAILER_COUNT", 100)
	v.SetDefault("TRAILER_COUNT_SEGMENTS", false)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.MappingSource = strings.ToLower(strings.TrimSpace(cfg.MappingSource))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UsesPostgres reports whether the mapping table is read from PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.MappingSource == SourcePostgres
}

// Validate checks that the configuration can drive an encoder.
func (c *Config) Validate() error {
	switch c.MappingSource {
	case SourceCSV:
		if c.MappingFile == "" {
			return fmt.Errorf("MAPPING_FILE is required when MAPPING_SOURCE is %q", SourceCSV)
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when MAPPING_SOURCE is %q", SourcePostgres)
		}
	default:
		return fmt.Errorf("MAPPING_SOURCE must be %q or %q, got %q", SourceCSV, SourcePostgres, c.MappingSource)
	}

	if c.BatchWorkers < 0 {
		return fmt.Errorf("BATCH_WORKERS must not be negative, got %d", c.BatchWorkers)
	}
	if c.TrailerCount < 0 {
		return fmt.Errorf("TRAILER_COUNT must not be negative, got %d", c.TrailerCount)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.OutputPrefix == "" || strings.ContainsAny(c.OutputPrefix, `/\`) {
		return fmt.Errorf("OUTPUT_PREFIX must be a non-empty file name prefix, got %q", c.OutputPrefix)
	}

	return nil
}

// ValidateServer checks the settings only the HTTP API uses. Outside
// development the API requires a token signing key.
func (c *Config) ValidateServer() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV is %q", c.Env)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	return nil
}
