package snowflake

import (
	"database/sql"
	"fmt"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	sf "github.com/snowflakedb/gosnowflake"
	"github.com/spf13/viper"
)

type Config struct {
	Account   string `mapstructure:"account"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	Warehouse string `mapstructure:"warehouse"`
	Role      string `mapstructure:"role"`
}

// LoadConfig reads connection settings from a standalone YAML/JSON/TOML file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse snowflake config: %w", err)
	}
	return &cfg, nil
}

// Open connects to the account. ACCOUNT_USAGE views need a role with
// IMPORTED PRIVILEGES on the SNOWFLAKE database.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.Account == "" || cfg.User == "" {
		return nil, domain.NewConfigurationError("snowflake collector", fmt.Errorf("account and user are required"))
	}

	dsn, err := sf.DSN(&sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Warehouse: cfg.Warehouse,
		Role:      cfg.Role,
	})
	if err != nil {
		return nil, domain.NewConfigurationError("snowflake collector", fmt.Errorf("failed to create DSN: %w", err))
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, domain.NewConfigurationError("snowflake collector", fmt.Errorf("failed to connect: %w", err))
	}
	return db, nil
}
