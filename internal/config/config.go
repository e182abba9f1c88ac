// Package config loads gateway settings from config.yaml and TWIN_ environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. TWIN_DIFY__API_KEY.
const EnvPrefix = "TWIN_"

// DevAPIKey is used when no API key is configured. Only suitable for local development.
const DevAPIKey = "app-development-key"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Dify      DifyConfig      `koanf:"dify"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type DifyConfig struct {
	BaseURL        string         `koanf:"base_url"`
	Version        string         `koanf:"version"`
	ChatEndpoint   string         `koanf:"chat_endpoint"`
	APIKey         string         `koanf:"api_key"`
	ServiceName    string         `koanf:"service_name"`
	ResponseMode   string         `koanf:"response_mode"`
	ConnectTimeout time.Duration  `koanf:"connect_timeout"`
	ReadTimeout    time.Duration  `koanf:"read_timeout"`
	HMAC           HMACConfig     `koanf:"hmac"`
	Fallback       FallbackConfig `koanf:"fallback"`
}

// ChatMessagesURL joins base URL, version and endpoint.
func (d DifyConfig) ChatMessagesURL() string {
	endpoint := d.ChatEndpoint
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return fmt.Sprintf("%s/%s%s", strings.TrimRight(d.BaseURL, "/"), strings.Trim(d.Version, "/"), endpoint)
}

// UsingDevAPIKey reports whether the built-in development key is in use.
func (d DifyConfig) UsingDevAPIKey() bool {
	return d.APIKey == DevAPIKey
}

// TurnTimeout is the deadline for an API request. It is never shorter than
// the slowest turn: a local action that fails, the chat service read, then the
// remote or fallback action. Each outbound read timeout already spans its
// connect phase.
func (c *Config) TurnTimeout() time.Duration {
	slowest := c.Dify.ReadTimeout + 2*c.Executor.ReadTimeout
	return max(c.Server.RequestTimeout, slowest)
}

type HMACConfig struct {
	Enabled   bool   `koanf:"enabled"`
	SecretKey string `koanf:"secret_key"`
}

type FallbackConfig struct {
	Enabled            bool `koanf:"enabled"`
	AutoRetryOnFailure bool `koanf:"auto_retry_on_failure"`
}

type ExecutorConfig struct {
	URL            string        `koanf:"url"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":                         8080,
	"server.request_timeout":              "120s",
	"dify.base_url":                       "https://api.dify.ai",
	"dify.version":                        "v1",
	"dify.chat_endpoint":                  "/chat-messages",
	"dify.service_name":                   "digital-twin",
	"dify.response_mode":                  "streaming",
	"dify.connect_timeout":                "30s",
	"dify.read_timeout":                   "60s",
	"dify.hmac.enabled":                   false,
	"dify.fallback.enabled":               true,
	"dify.fallback.auto_retry_on_failure": true,
	"executor.url":                        "http://localhost:9000",
	"executor.connect_timeout":            "10s",
	"executor.read_timeout":               "30s",
	"storage.type":                        "sqlite",
	"storage.sqlite.path":                 "./data/twin.db",
	"telemetry.enabled":                   false,
	"telemetry.service_name":              "twin-gateway",
}

var durationKeys = []string{
	"server.request_timeout",
	"dify.connect_timeout",
	"dify.read_timeout",
	"executor.connect_timeout",
	"executor.read_timeout",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory, then environment overrides.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile reads path (optional) and environment overrides, then applies defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	for _, key := range durationKeys {
		if err := normalizeDuration(k, key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Dify.APIKey = substituteEnvVars(cfg.Dify.APIKey)
	cfg.Dify.HMAC.SecretKey = substituteEnvVars(cfg.Dify.HMAC.SecretKey)
	if strings.TrimSpace(cfg.Dify.APIKey) == "" {
		cfg.Dify.APIKey = DevAPIKey
	}
	if strings.TrimSpace(cfg.Dify.ServiceName) == "" {
		cfg.Dify.ServiceName = "digital-twin"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Dify.ResponseMode {
	case "streaming", "blocking":
	default:
		return fmt.Errorf("dify.response_mode must be streaming or blocking, got %q", c.Dify.ResponseMode)
	}
	switch c.Storage.Type {
	case "sqlite", "memory", "none":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Dify.HMAC.Enabled && c.Dify.HMAC.SecretKey == "" {
		return errors.New("dify.hmac.secret_key is required when hmac is enabled")
	}
	return nil
}

// normalizeDuration rewrites a bare integer value at key as milliseconds.
func normalizeDuration(k *koanf.Koanf, key string) error {
	switch v := k.Get(key).(type) {
	case int:
		k.Set(key, (time.Duration(v) * time.Millisecond).String())
	case int64:
		k.Set(key, (time.Duration(v) * time.Millisecond).String())
	case float64:
		k.Set(key, (time.Duration(v) * time.Millisecond).String())
	case string:
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			k.Set(key, (time.Duration(ms) * time.Millisecond).String())
			return nil
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
