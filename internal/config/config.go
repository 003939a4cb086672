// Package config loads service settings from defaults, an optional YAML
// file, a .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/incentives/registry"
)

// Rule backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Cache modes.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// FileEnvVar names the optional YAML config file.
const FileEnvVar = "INCENTIVES_CONFIG"

// Config holds everything the server needs to wire itself.
type Config struct {
	Addr               string        `yaml:"addr"`
	InstallRoot        string        `yaml:"install_root"`
	RulesDir           string        `yaml:"rules_dir"`
	RulesBackend       string        `yaml:"rules_backend"`
	DatabaseURL        string        `yaml:"database_url"`
	S3Bucket           string        `yaml:"s3_bucket"`
	S3Prefix           string        `yaml:"s3_prefix"`
	CacheMode          string        `yaml:"cache"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	RedisURL           string        `yaml:"redis_url"`
	CompareConcurrency int           `yaml:"compare_concurrency"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:               ":8080",
		InstallRoot:        ".",
		RulesBackend:       BackendFile,
		CacheMode:          CacheNone,
		CompareConcurrency: 4,
		RequestTimeout:     60 * time.Second,
	}
}

// Load builds the configuration. A missing .env file is ignored; a named
// YAML file that cannot be read is an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv(FileEnvVar)); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	cfg.RulesBackend = strings.ToLower(strings.TrimSpace(cfg.RulesBackend))
	cfg.CacheMode = strings.ToLower(strings.TrimSpace(cfg.CacheMode))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		c.Addr = ":" + port
	}
	setString(&c.InstallRoot, "INCENTIVES_HOME")
	setString(&c.RulesDir, registry.RootEnvVar)
	setString(&c.RulesBackend, "RULES_BACKEND")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.S3Bucket, "RULES_S3_BUCKET")
	setString(&c.S3Prefix, "RULES_S3_PREFIX")
	setString(&c.CacheMode, "RULE_CACHE")
	setString(&c.RedisURL, "REDIS_URL")

	if err := setDuration(&c.CacheTTL, "RULE_CACHE_TTL"); err != nil {
		return err
	}
	if err := setDuration(&c.RequestTimeout, "REQUEST_TIMEOUT"); err != nil {
		return err
	}

	if v := os.Getenv("COMPARE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid COMPARE_CONCURRENCY %q: %w", v, err)
		}
		c.CompareConcurrency = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// Validate rejects unknown modes and backends missing their connection settings.
func (c Config) Validate() error {
	var problems []string

	switch c.RulesBackend {
	case BackendFile:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			problems = append(problems, "RULES_S3_BUCKET is required for the s3 backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown rules backend %q", c.RulesBackend))
	}

	switch c.CacheMode {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required for the redis cache")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown rule cache %q", c.CacheMode))
	}

	if c.CacheTTL < 0 {
		problems = append(problems, "cache TTL must not be negative")
	}
	if c.CompareConcurrency < 1 {
		problems = append(problems, "compare concurrency must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "request timeout must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RulesRoot resolves the rules directory for the file backend.
func (c Config) RulesRoot() string {
	return registry.ResolveRoot(c.InstallRoot, c.RulesDir)
}
