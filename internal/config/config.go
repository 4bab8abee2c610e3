// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	DBURL           string        `mapstructure:"DB_URL"`
	GithubToken     string        `mapstructure:"GITHUB_TOKEN"`
	APIKey          string        `mapstructure:"API_KEY"`
	ListenAddr      string        `mapstructure:"LISTEN_ADDR"`
	Owners          []string      `mapstructure:"OWNERS"`
	Repos           []string      `mapstructure:"REPOS"`
	RefreshInterval time.Duration `mapstructure:"REFRESH_INTERVAL"`
	TimeRange       string        `mapstructure:"TIME_RANGE"`
	CacheMaxAgeDays int           `mapstructure:"CACHE_MAX_AGE_DAYS"`
	ForceRefresh    bool          `mapstructure:"FORCE_REFRESH"`
	FullHistory     bool          `mapstructure:"FULL_HISTORY"`
}

// MaxCacheAge converts the configured day count into a duration.
func (c *Config) MaxCacheAge() time.Duration {
	return time.Duration(c.CacheMaxAgeDays) * 24 * time.Hour
}

var validTimeRanges = map[string]bool{
	"6 months": true,
	"1 year":   true,
	"2 years":  true,
	"3 years":  true,
	"all":      true,
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("REFRESH_INTERVAL", "24h")
	viper.SetDefault("TIME_RANGE", "6 months")
	viper.SetDefault("CACHE_MAX_AGE_DAYS", 7)
	viper.SetDefault("FORCE_REFRESH", false)
	viper.SetDefault("FULL_HISTORY", true)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubToken == "" {
		return nil, errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if len(cfg.Owners) == 0 && len(cfg.Repos) == 0 {
		return nil, errors.New("at least one of OWNERS or REPOS must be set")
	}
	if !validTimeRanges[strings.ToLower(cfg.TimeRange)] {
		return nil, errors.New("TIME_RANGE must be one of '6 months', '1 year', '2 years', '3 years', 'all'")
	}
	if cfg.CacheMaxAgeDays <= 0 {
		return nil, errors.New("CACHE_MAX_AGE_DAYS must be positive")
	}

	return &cfg, nil
}
