package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/caregap/internal/domain/screening"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	AuthMode       string        `mapstructure:"AUTH_MODE"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	CacheTTL       time.Duration `mapstructure:"CACHE_TTL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	FHIRBaseURL string        `mapstructure:"FHIR_BASE_URL"`
	FHIRTimeout time.Duration `mapstructure:"FHIR_TIMEOUT"`
	FHIRRPS     float64       `mapstructure:"FHIR_RPS"`

	MeasureID          string        `mapstructure:"MEASURE_ID"`
	MeasurePeriodStart string        `mapstructure:"MEASURE_PERIOD_START"`
	MeasurePeriodEnd   string        `mapstructure:"MEASURE_PERIOD_END"`
	ReminderPlanID     string        `mapstructure:"REMINDER_PLAN_ID"`
	ScreeningCode      string        `mapstructure:"SCREENING_CODE"`
	ReferenceOffset    string        `mapstructure:"REFERENCE_OFFSET"`
	StaleAfterDays     int           `mapstructure:"STALE_AFTER_DAYS"`
	SessionTTL         time.Duration `mapstructure:"SESSION_TTL"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CACHE_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"FHIR_BASE_URL", "FHIR_TIMEOUT", "FHIR_RPS",
	"MEASURE_ID", "MEASURE_PERIOD_START", "MEASURE_PERIOD_END", "REMINDER_PLAN_ID",
	"SCREENING_CODE", "REFERENCE_OFFSET", "STALE_AFTER_DAYS", "SESSION_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("FHIR_BASE_URL", "http://localhost:8080/fhir")
	v.SetDefault("FHIR_TIMEOUT", "30s")
	v.SetDefault("FHIR_RPS", 10)
	v.SetDefault("MEASURE_ID", "CMS138FHIRPreventiveTobaccoCessation")
	v.SetDefault("MEASURE_PERIOD_START", "2025-01-01T00:00:00")
	v.SetDefault("MEASURE_PERIOD_END", "2025-12-31T23:59:59")
	v.SetDefault("REMINDER_PLAN_ID", "psa-reminder")
	v.SetDefault("SCREENING_CODE", "72166-2")
	v.SetDefault("REFERENCE_OFFSET", screening.DefaultReferenceOffset)
	v.SetDefault("STALE_AFTER_DAYS", 365)
	v.SetDefault("SESSION_TTL", "30m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments get "development" and everything else "external".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Zone is the fixed zone of REFERENCE_OFFSET.
func (c *Config) Zone() (*time.Location, error) {
	return screening.ParseOffset(c.ReferenceOffset)
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterDays) * 24 * time.Hour
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.ResolvedAuthMode() {
	case "development":
	case "external":
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf(
				"AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", c.AuthMode)
	}

	if c.FHIRBaseURL == "" {
		return fmt.Errorf("FHIR_BASE_URL is required")
	}
	if c.MeasureID == "" {
		return fmt.Errorf("MEASURE_ID is required")
	}
	if _, err := c.Zone(); err != nil {
		return fmt.Errorf("REFERENCE_OFFSET: %w", err)
	}
	if c.StaleAfterDays <= 0 {
		return fmt.Errorf("STALE_AFTER_DAYS must be positive, got %d", c.StaleAfterDays)
	}

	start, err := parsePeriodBound(c.MeasurePeriodStart)
	if err != nil {
		return fmt.Errorf("MEASURE_PERIOD_START: %w", err)
	}
	end, err := parsePeriodBound(c.MeasurePeriodEnd)
	if err != nil {
		return fmt.Errorf("MEASURE_PERIOD_END: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("MEASURE_PERIOD_END %s is before MEASURE_PERIOD_START %s", c.MeasurePeriodEnd, c.MeasurePeriodStart)
	}
	return nil
}

func parsePeriodBound(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid period bound %q: want YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS", s)
}
