// Package config loads server configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Store struct {
		// Driver is one of postgres, sqlite, memory.
		Driver         string `yaml:"driver"`
		Path           string `yaml:"path"` // sqlite file path
		TimeoutSeconds int    `yaml:"timeout_seconds"`

		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"store"`

	LogLevel string `yaml:"log_level"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// StoreTimeout returns the bounded timeout applied to every store call.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

// DSN returns the Postgres connection URL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Load reads the config file at path (if it exists) and applies environment
// overrides on top of defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":10000"
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "timehub.db"
	cfg.Store.TimeoutSeconds = 5
	cfg.Store.Postgres = PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "timehub",
		SSLMode:  "disable",
	}
	cfg.LogLevel = "info"
	return cfg
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("ADDR", c.Server.Addr)
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnv("SQLITE_PATH", c.Store.Path)
	c.Store.TimeoutSeconds = getEnvAsInt("STORE_TIMEOUT_SECONDS", c.Store.TimeoutSeconds)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Store.Postgres.Host = getEnv("DB_HOST", c.Store.Postgres.Host)
	c.Store.Postgres.Port = getEnvAsInt("DB_PORT", c.Store.Postgres.Port)
	c.Store.Postgres.User = getEnv("DB_USER", c.Store.Postgres.User)
	c.Store.Postgres.Password = getEnv("DB_PASSWORD", c.Store.Postgres.Password)
	c.Store.Postgres.Database = getEnv("DB_NAME", c.Store.Postgres.Database)
	c.Store.Postgres.SSLMode = getEnv("DB_SSLMODE", c.Store.Postgres.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
