package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "WHERE2SKATE_"
	envConfig  = "WHERE2SKATE_CONFIG"
	BackendSQL = "sqlite"
	BackendFS  = "firestore"
)

type Config struct {
	ListenAddr string `koanf:"listen_addr" validate:"required"`

	StoreBackend     string `koanf:"store_backend" validate:"required|in:sqlite,firestore"`
	DBPath           string `koanf:"db_path"`
	FirestoreProject string `koanf:"firestore_project"`

	TokenSecret       string        `koanf:"token_secret" validate:"required|min_len:16"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	RevocationCacheMB int           `koanf:"revocation_cache_mb" validate:"min:1"`
	BcryptCost        int           `koanf:"bcrypt_cost" validate:"min:0|max:31"`

	LogLevel  string `koanf:"log_level" validate:"in:debug,info,warn,error"`
	LogFormat string `koanf:"log_format" validate:"in:json,text"`
	LogFile   string `koanf:"log_file"`

	MetricsEnabled bool      `koanf:"metrics_enabled"`
	MetricsBuckets []float64 `koanf:"metrics_buckets"`
}

func defaults() Config {
	return Config{
		ListenAddr:        ":8080",
		StoreBackend:      BackendSQL,
		DBPath:            "/data/where2skate.db",
		TokenTTL:          24 * time.Hour,
		RevocationCacheMB: 1,
		LogLevel:          "info",
		LogFormat:         "json",
		MetricsEnabled:    true,
	}
}

// Load layers the defaults, the YAML file named by path (or by
// WHERE2SKATE_CONFIG when path is empty) and WHERE2SKATE_* environment
// variables, in that order, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envConfig)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// WHERE2SKATE_TOKEN_TTL -> token_ttl
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("invalid config: %s", v.Errors.One())
	}
	if c.TokenTTL <= 0 {
		return errors.New("invalid config: token_ttl must be positive")
	}
	for i := 1; i < len(c.MetricsBuckets); i++ {
		if c.MetricsBuckets[i] <= c.MetricsBuckets[i-1] {
			return errors.New("invalid config: metrics_buckets must be increasing")
		}
	}
	switch c.StoreBackend {
	case BackendSQL:
		if c.DBPath == "" {
			return errors.New("invalid config: db_path is required for the sqlite backend")
		}
	case BackendFS:
		if c.FirestoreProject == "" {
			return errors.New("invalid config: firestore_project is required for the firestore backend")
		}
	}
	return nil
}

// RevocationCacheBytes is the size handed to the token revocation cache.
func (c *Config) RevocationCacheBytes() int {
	return c.RevocationCacheMB * 1024 * 1024
}
