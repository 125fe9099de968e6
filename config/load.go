package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read on top of the file.
const (
	EnvWindowMs      = "RATE_LIMIT_WINDOW_MS"
	EnvMaxRequests   = "RATE_LIMIT_MAX_REQUESTS"
	EnvRedisHost     = "REDIS_HOST"
	EnvRedisPort     = "REDIS_PORT"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvPort          = "PORT"
	EnvStoreBackend  = "RATELIMIT_STORE_BACKEND"
	EnvAdminToken    = "RATELIMIT_ADMIN_TOKEN"
	EnvLogLevel      = "RATELIMIT_LOG_LEVEL"
)

// Load builds the configuration. A .env file in the working directory is
// loaded first if present; it never overrides variables already set. An
// empty path means defaults plus environment.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("configuration file %q: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// Parse builds the configuration from YAML data and the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
		// a configured Redis host selects Redis unless a backend was chosen
		if os.Getenv(EnvRedisHost) != "" {
			cfg.Store.Backend = BackendRedis
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv(EnvWindowMs); val != "" {
		ms, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWindowMs, err)
		}
		cfg.Limits.WindowLengthMs = &ms
	}
	if val := os.Getenv(EnvMaxRequests); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxRequests, err)
		}
		cfg.Limits.BaseMaxRequests = &n
	}

	if val := os.Getenv(EnvRedisHost); val != "" {
		cfg.Store.Redis.Host = val
	}
	if val := os.Getenv(EnvRedisPort); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRedisPort, err)
		}
		cfg.Store.Redis.Port = port
	}
	if val := os.Getenv(EnvRedisPassword); val != "" {
		cfg.Store.Redis.Password = val
	}
	if val := os.Getenv(EnvStoreBackend); val != "" {
		cfg.Store.Backend = strings.ToLower(val)
	}

	if val := os.Getenv(EnvPort); val != "" {
		if _, err := strconv.Atoi(val); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		cfg.Server.ListenAddress = ":" + val
	}
	if val := os.Getenv(EnvAdminToken); val != "" {
		cfg.Server.AdminToken = val
	}
	if val := os.Getenv(EnvLogLevel); val != "" {
		cfg.Logging.Level = strings.ToLower(val)
	}
	return nil
}
