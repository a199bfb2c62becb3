package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	TenantConfigDir     string        `mapstructure:"TENANT_CONFIG_DIR"`
	DefaultTenant       string        `mapstructure:"DEFAULT_TENANT"`
	TenantHeader        string        `mapstructure:"TENANT_HEADER"`
	JWTSecret           string        `mapstructure:"JWT_SECRET"`
	JWTIssuer           string        `mapstructure:"JWT_ISSUER"`
	JWTAudience         string        `mapstructure:"JWT_AUDIENCE"`
	DefaultPageSize     int           `mapstructure:"DEFAULT_PAGE_SIZE"`
	MaxPageSize         int           `mapstructure:"MAX_PAGE_SIZE"`
	MaxChainDepth       int           `mapstructure:"MAX_CHAIN_DEPTH"`
	NumberRangeFactor   string        `mapstructure:"NUMBER_RANGE_FACTOR"`
	QuantityRangeFactor string        `mapstructure:"QUANTITY_RANGE_FACTOR"`
	SearchLenient       bool          `mapstructure:"SEARCH_LENIENT_DEFAULT"`
	WatchTenantConfig   bool          `mapstructure:"WATCH_TENANT_CONFIG"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"TENANT_CONFIG_DIR", "DEFAULT_TENANT", "TENANT_HEADER",
	"JWT_SECRET", "JWT_ISSUER", "JWT_AUDIENCE",
	"DEFAULT_PAGE_SIZE", "MAX_PAGE_SIZE", "MAX_CHAIN_DEPTH",
	"NUMBER_RANGE_FACTOR", "QUANTITY_RANGE_FACTOR",
	"SEARCH_LENIENT_DEFAULT", "WATCH_TENANT_CONFIG", "REQUEST_TIMEOUT",
}

// Load reads configuration from the environment, falling back to a .env
// file in the working directory when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("TENANT_CONFIG_DIR", "./tenants")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("TENANT_HEADER", "X-FHIR-TENANT-ID")
	v.SetDefault("DEFAULT_PAGE_SIZE", 20)
	v.SetDefault("MAX_PAGE_SIZE", 1000)
	v.SetDefault("MAX_CHAIN_DEPTH", 3)
	v.SetDefault("NUMBER_RANGE_FACTOR", "0.5")
	v.SetDefault("QUANTITY_RANGE_FACTOR", "0.5")
	v.SetDefault("SEARCH_LENIENT_DEFAULT", true)
	v.SetDefault("WATCH_TENANT_CONFIG", true)
	v.SetDefault("REQUEST_TIMEOUT", "30s")

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
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UsesDatabase reports whether tenant configuration comes from Postgres
// rather than TENANT_CONFIG_DIR.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the configuration is usable before the server
// starts.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.DefaultTenant == "" {
		return fmt.Errorf("DEFAULT_TENANT must not be empty")
	}
	if !c.UsesDatabase() && c.TenantConfigDir == "" {
		return fmt.Errorf("TENANT_CONFIG_DIR is required when DATABASE_URL is not set")
	}
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be positive, got %d", c.DefaultPageSize)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("MAX_PAGE_SIZE (%d) must be at least DEFAULT_PAGE_SIZE (%d)", c.MaxPageSize, c.DefaultPageSize)
	}
	if c.MaxChainDepth < 1 {
		return fmt.Errorf("MAX_CHAIN_DEPTH must be at least 1, got %d", c.MaxChainDepth)
	}
	for name, f := range map[string]string{
		"NUMBER_RANGE_FACTOR":   c.NumberRangeFactor,
		"QUANTITY_RANGE_FACTOR": c.QuantityRangeFactor,
	} {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("%s must be a non-negative decimal, got %q", name, f)
		}
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	return nil
}
