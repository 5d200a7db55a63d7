package main

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config is the process configuration: a snakesaas.yaml in the working
// directory (or under /etc/snakesaas), overridable through SNAKESAAS_* env
// vars. Passwords may instead name a Secret Manager resource.
type Config struct {
	Port int `mapstructure:"port"`

	DBHost           string `mapstructure:"db_host"`
	DBUser           string `mapstructure:"db_user"`
	DBPassword       string `mapstructure:"db_password"`
	DBName           string `mapstructure:"db_name"`
	DBPasswordSecret string `mapstructure:"db_password_secret"`

	RedisAddr           string `mapstructure:"redis_addr"`
	RedisPassword       string `mapstructure:"redis_password"`
	RedisDB             int    `mapstructure:"redis_db"`
	RedisPasswordSecret string `mapstructure:"redis_password_secret"`

	MaxConcurrentGames int `mapstructure:"max_concurrent_games"`
}

// DSN renders the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName,
	)
}

func LoadConfig() (*Config, error) {
	vp := viper.New()
	vp.SetConfigName("snakesaas")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/snakesaas")
	vp.SetEnvPrefix("snakesaas")
	vp.AutomaticEnv()

	vp.SetDefault("port", 3001)
	vp.SetDefault("db_host", "localhost")
	vp.SetDefault("db_user", "snakesaas")
	vp.SetDefault("db_name", "snakesaas")
	vp.SetDefault("redis_addr", "localhost:6379")
	vp.SetDefault("redis_db", 0)
	vp.SetDefault("max_concurrent_games", DefaultMaximumConcurrentGames)

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No file is fine; env and defaults carry it.
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
