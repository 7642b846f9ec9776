package main

import (
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type config struct {
	AppName string `mapstructure:"app_name"`
	Debug   bool   `mapstructure:"debug"`

	DB struct {
		ConnString      string        `mapstructure:"conn_string" validate:"required"`
		Schema          string        `mapstructure:"schema"`
		PoolSize        int           `mapstructure:"pool_size" validate:"gte=0"`
		MaxConnections  int           `mapstructure:"max_connections" validate:"gte=0"`
		MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
		MaxConnLifeTime time.Duration `mapstructure:"max_conn_life_time"`
		ConnectRetries  uint          `mapstructure:"connect_retries" validate:"lte=20"`
	} `mapstructure:"database"`

	EnableCamelcase bool `mapstructure:"enable_camelcase"`
	CacheSize       int  `mapstructure:"cache_size"`
}

// readInConfig loads combiql.yml from the config path, fills defaults
// from the environment and validates the result.
func readInConfig(cpath string) (*config, error) {
	vi := viper.New()
	vi.SetEnvPrefix("COMBIQL")
	vi.AutomaticEnv()

	vi.SetConfigName("combiql")
	vi.AddConfigPath(cpath)
	vi.AddConfigPath(".")

	vi.SetDefault("database.schema", "public")
	vi.SetDefault("database.pool_size", 10)
	vi.SetDefault("database.max_connections", 20)
	vi.SetDefault("database.connect_retries", 5)

	if err := vi.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrapf(err, "config %s", filepath.Join(cpath, "combiql.yml"))
		}
		// No file is fine; the connection string may come from the env.
		vi.SetDefault("database.conn_string", vi.GetString("database_url"))
	}

	c := &config{}
	if err := vi.Unmarshal(c); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, errors.Wrap(err, "config validation")
	}
	return c, nil
}
