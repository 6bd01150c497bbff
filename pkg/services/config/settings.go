package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/spf13/viper"
)

const EnvPrefix = "ATLAS"

type OutputSettings struct {
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Key      string `mapstructure:"s3_key"`
	DuckDBPath string `mapstructure:"duckdb_path"`
}

type CacheSettings struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Settings drive a single audit run. Zero values are replaced by defaults.
type Settings struct {
	StalenessDays  int            `mapstructure:"staleness_days"`
	Workers        int            `mapstructure:"workers"`
	CollectTimeout time.Duration  `mapstructure:"collect_timeout"`
	Rules          []string       `mapstructure:"rules"`
	Platform       string         `mapstructure:"platform"`
	Profile        string         `mapstructure:"profile"`
	Output         OutputSettings `mapstructure:"output"`
	Cache          CacheSettings  `mapstructure:"cache"`
}

func DefaultSettings() Settings {
	return Settings{
		StalenessDays:  90,
		Workers:        4,
		CollectTimeout: 60 * time.Second,
		Platform:       "fixture",
		Cache:          CacheSettings{TTL: 15 * time.Minute},
	}
}

// StalenessThreshold is the idle period after which a credential counts as stale.
func (s Settings) StalenessThreshold() time.Duration {
	return time.Duration(s.StalenessDays) * 24 * time.Hour
}

func (s Settings) Validate() error {
	switch {
	case s.StalenessDays <= 0:
		return fmt.Errorf("staleness_days must be positive, got %d", s.StalenessDays)
	case s.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", s.Workers)
	case s.CollectTimeout <= 0:
		return fmt.Errorf("collect_timeout must be positive, got %s", s.CollectTimeout)
	case s.Output.S3Key != "" && s.Output.S3Bucket == "":
		return fmt.Errorf("output.s3_key requires output.s3_bucket")
	}
	return nil
}

// LoadSettings reads the settings file at path (format chosen by extension)
// and applies ATLAS_* environment overrides, e.g. ATLAS_WORKERS or
// ATLAS_OUTPUT_PATH. An empty path only applies defaults and environment.
func LoadSettings(path string) (Settings, error) {
	v := viper.New()
	setDefaults(v, DefaultSettings())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, domain.NewConfigurationError("load settings", fmt.Errorf("failed to read config file: %w", err))
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, domain.NewConfigurationError("load settings", fmt.Errorf("failed to parse settings: %w", err))
	}
	if err := s.Validate(); err != nil {
		return Settings{}, domain.NewConfigurationError("load settings", err)
	}
	return s, nil
}

// Every key needs a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("staleness_days", d.StalenessDays)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("collect_timeout", d.CollectTimeout)
	v.SetDefault("rules", d.Rules)
	v.SetDefault("platform", d.Platform)
	v.SetDefault("profile", d.Profile)
	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("output.s3_bucket", d.Output.S3Bucket)
	v.SetDefault("output.s3_key", d.Output.S3Key)
	v.SetDefault("output.duckdb_path", d.Output.DuckDBPath)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.ttl", d.Cache.TTL)
}
