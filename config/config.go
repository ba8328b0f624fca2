package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

/* Config é um pacote auxiliar. Poderia ser uma lib externa */

// Store engines accepted by STORE_ENGINE and LOG_ENGINE
const (
	EngineMemory   = "memory"
	EnginePostgres = "postgres"
	EngineRedis    = "redis"
)

type Config struct {
	Port string `mapstructure:"PORT"`

	// StoreEngine selects the subscription store backend: memory, redis or postgres
	StoreEngine string `mapstructure:"STORE_ENGINE"`
	// LogEngine selects the delivery log backend; defaults to StoreEngine
	LogEngine string `mapstructure:"LOG_ENGINE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	PostgresDSN string `mapstructure:"POSTGRES_DSN"`

	// SeedFile pre-registers subscriptions at boot; empty disables seeding
	SeedFile string `mapstructure:"SEED_FILE"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("STORE_ENGINE", EngineMemory)
	viper.SetDefault("LOG_ENGINE", "")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("POSTGRES_DSN", "")
	viper.SetDefault("SEED_FILE", "")
	viper.SetDefault("METRICS_ENABLED", true)

	// The .env file is optional; environment variables alone are enough
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}

	if config.LogEngine == "" {
		config.LogEngine = config.StoreEngine
	}
	if err := validateEngine(config.StoreEngine); err != nil {
		return nil, err
	}
	if err := validateEngine(config.LogEngine); err != nil {
		return nil, err
	}
	return &config, nil
}

func validateEngine(engine string) error {
	switch engine {
	case EngineMemory, EnginePostgres, EngineRedis:
		return nil
	default:
		return fmt.Errorf("unknown storage engine: %s", engine)
	}
}
