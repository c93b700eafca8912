package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the complete service configuration, loaded from a TOML file
// with environment variable overrides for secrets.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Auth     AuthConfig     `toml:"auth"`
	YooKassa YooKassaConfig `toml:"yookassa"`
	Billing  BillingConfig  `toml:"billing"`
}

type ServerConfig struct {
	Port int `toml:"port"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	JWKSURL   string `toml:"jwks_url"`
}

type YooKassaConfig struct {
	ShopID    string `toml:"shop_id"`
	SecretKey string `toml:"secret_key"`
	BaseURL   string `toml:"base_url"`
	ReturnURL string `toml:"return_url"`
}

// BillingConfig tunes the recurring billing sweep.
type BillingConfig struct {
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
	SweepBatchSize       int `toml:"sweep_batch_size"`
	WorkerConcurrency    int `toml:"worker_concurrency"`
	RetryBaseHours       int `toml:"retry_base_hours"`
	RetryCapHours        int `toml:"retry_cap_hours"`
}

func (b BillingConfig) SweepInterval() time.Duration {
	return time.Duration(b.SweepIntervalMinutes) * time.Minute
}

func (b BillingConfig) RetryBase() time.Duration {
	return time.Duration(b.RetryBaseHours) * time.Hour
}

func (b BillingConfig) RetryCap() time.Duration {
	return time.Duration(b.RetryCapHours) * time.Hour
}

// Load reads the TOML config file, applies environment overrides and fills
// defaults. A missing file is fine when everything comes from the
// environment.
func Load(filename string) (*Config, error) {
	cfg := &Config{}
	if filename != "" {
		if _, err := toml.DecodeFile(filename, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (set DATABASE_URL or [database] url)")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWKS_URL"); v != "" {
		cfg.Auth.JWKSURL = v
	}
	if v := os.Getenv("YOOKASSA_SHOP_ID"); v != "" {
		cfg.YooKassa.ShopID = v
	}
	if v := os.Getenv("YOOKASSA_SECRET_KEY"); v != "" {
		cfg.YooKassa.SecretKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Billing.SweepIntervalMinutes <= 0 {
		cfg.Billing.SweepIntervalMinutes = 15
	}
	if cfg.Billing.SweepBatchSize <= 0 {
		cfg.Billing.SweepBatchSize = 500
	}
	if cfg.Billing.WorkerConcurrency <= 0 {
		cfg.Billing.WorkerConcurrency = 8
	}
	if cfg.Billing.RetryBaseHours <= 0 {
		cfg.Billing.RetryBaseHours = 6
	}
	if cfg.Billing.RetryCapHours <= 0 {
		cfg.Billing.RetryCapHours = 48
	}
}
