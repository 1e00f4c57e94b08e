// Package config provides configuration management for the gateway.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the full gateway configuration.
type Config struct {
	Env           string                    `mapstructure:"env"`
	Server        ServerConfig              `mapstructure:"server"`
	Providers     map[string]ProviderConfig `mapstructure:"providers"`
	Fallbacks     map[string][]string       `mapstructure:"fallbacks"`
	PII           PIIConfig                 `mapstructure:"pii"`
	Injection     InjectionConfig           `mapstructure:"injection"`
	Retry         RetryConfig               `mapstructure:"retry"`
	RateLimit     RateLimitConfig           `mapstructure:"rate_limit"`
	KV            KVConfig                  `mapstructure:"kv"`
	Cache         CacheConfig               `mapstructure:"cache"`
	SemanticCache SemanticCacheConfig       `mapstructure:"semantic_cache"`
	Judge         JudgeConfig               `mapstructure:"judge"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      string `mapstructure:"port"`
	MasterKey string `mapstructure:"master_key"` // Optional: master key for authentication
}

// ProviderConfig holds generic provider configuration.
type ProviderConfig struct {
	Type             string `mapstructure:"type"`              // "openai", "anthropic", "groq"
	APIKey           string `mapstructure:"api_key"`           // API key for authentication
	BaseURL          string `mapstructure:"base_url"`          // Optional: override default base URL
	Version          string `mapstructure:"version"`           // Optional: vendor API version header
	MaxRetries       int    `mapstructure:"max_retries"`       // Optional: retry attempts per call
	FailureThreshold int    `mapstructure:"failure_threshold"` // Optional: breaker trip threshold
	RecoverySeconds  int    `mapstructure:"recovery_seconds"`  // Optional: breaker recovery timeout
}

// PIIConfig controls the PII shield policy.
type PIIConfig struct {
	Action string `mapstructure:"action"` // "block", "redact", or "warn"
}

// InjectionConfig holds prompt-injection scan thresholds.
type InjectionConfig struct {
	BlockThreshold float64 `mapstructure:"block_threshold"`
	WarnThreshold  float64 `mapstructure:"warn_threshold"`
}

// RetryConfig holds retry policy defaults for provider calls.
type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelay   float64 `mapstructure:"base_delay"` // seconds
	MaxDelay    float64 `mapstructure:"max_delay"`  // seconds
}

// RateLimitConfig holds the sliding-window rate limit.
type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// KVConfig holds the shared key-value store connection settings.
type KVConfig struct {
	Host          string  `mapstructure:"host"`
	Port          int     `mapstructure:"port"`
	SocketTimeout float64 `mapstructure:"socket_timeout"` // seconds
}

// Addr returns the host:port address of the KV store.
func (k KVConfig) Addr() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

// Timeout returns the socket timeout as a duration.
func (k KVConfig) Timeout() time.Duration {
	return time.Duration(k.SocketTimeout * float64(time.Second))
}

// CacheConfig holds exact-cache settings.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// SemanticCacheConfig holds semantic cache and embedding settings.
type SemanticCacheConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Threshold float64         `mapstructure:"threshold"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
}

// EmbeddingConfig points at the external embedding service.
type EmbeddingConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// JudgeConfig controls asynchronous response evaluation.
type JudgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	// Load .env directly into environment variables so os.Getenv works
	// for values defined there.
	_ = godotenv.Load()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig()

	setDefaults()

	viper.AutomaticEnv()

	// Try to read config.yaml
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	var cfg Config
	if err := viper.ReadInConfig(); err == nil {
		if err := viper.Unmarshal(&cfg); err != nil {
			return nil, err
		}
		cfg = expandEnvVars(cfg)
	} else {
		// No config file: build from environment variables alone.
		if err := viper.Unmarshal(&cfg); err != nil {
			return nil, err
		}
		cfg.Env = viper.GetString("SENTINEL_ENV")
		cfg.Server.Host = viper.GetString("HOST")
		cfg.Server.Port = viper.GetString("PORT")
		cfg.Server.MasterKey = viper.GetString("SENTINEL_MASTER_KEY")
		cfg.Providers = providersFromEnv()
	}

	cfg = applyFallbackDefaults(cfg)
	cfg = removeEmptyProviders(cfg)
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8000")

	viper.SetDefault("pii.action", "redact")
	viper.SetDefault("injection.block_threshold", 0.9)
	viper.SetDefault("injection.warn_threshold", 0.3)

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.base_delay", 1.0)
	viper.SetDefault("retry.max_delay", 40.0)

	viper.SetDefault("rate_limit.max_requests", 100)
	viper.SetDefault("rate_limit.window_seconds", 60)

	viper.SetDefault("kv.host", "localhost")
	viper.SetDefault("kv.port", 6379)
	viper.SetDefault("kv.socket_timeout", 5.0)

	viper.SetDefault("cache.ttl_seconds", 3600)

	viper.SetDefault("semantic_cache.enabled", false)
	viper.SetDefault("semantic_cache.threshold", 0.95)
	viper.SetDefault("semantic_cache.embedding.model", "text-embedding-3-small")
	viper.SetDefault("semantic_cache.embedding.dimension", 1536)

	viper.SetDefault("judge.enabled", false)
	viper.SetDefault("judge.model", "gpt-4o-mini")
}

// providersFromEnv builds the provider map from conventional environment
// variables when no config file is present.
func providersFromEnv() map[string]ProviderConfig {
	providers := make(map[string]ProviderConfig)
	if apiKey := viper.GetString("OPENAI_API_KEY"); apiKey != "" {
		providers["openai"] = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: viper.GetString("OPENAI_BASE_URL"),
		}
	}
	if apiKey := viper.GetString("ANTHROPIC_API_KEY"); apiKey != "" {
		providers["anthropic"] = ProviderConfig{
			Type:    "anthropic",
			APIKey:  apiKey,
			BaseURL: viper.GetString("ANTHROPIC_BASE_URL"),
			Version: viper.GetString("ANTHROPIC_VERSION"),
		}
	}
	if apiKey := viper.GetString("GROQ_API_KEY"); apiKey != "" {
		providers["groq"] = ProviderConfig{
			Type:    "groq",
			APIKey:  apiKey,
			BaseURL: viper.GetString("GROQ_BASE_URL"),
		}
	}
	return providers
}

// applyFallbackDefaults gives the semantic cache embedder the openai key
// when it has none of its own.
func applyFallbackDefaults(cfg Config) Config {
	if cfg.SemanticCache.Embedding.APIKey == "" {
		for _, p := range cfg.Providers {
			if p.Type == "openai" {
				cfg.SemanticCache.Embedding.APIKey = p.APIKey
				break
			}
		}
	}
	return cfg
}

// expandEnvVars expands environment variable references in configuration values.
func expandEnvVars(cfg Config) Config {
	cfg.Env = expandString(cfg.Env)
	cfg.Server.Host = expandString(cfg.Server.Host)
	cfg.Server.Port = expandString(cfg.Server.Port)
	cfg.Server.MasterKey = expandString(cfg.Server.MasterKey)
	cfg.KV.Host = expandString(cfg.KV.Host)
	cfg.SemanticCache.Embedding.BaseURL = expandString(cfg.SemanticCache.Embedding.BaseURL)
	cfg.SemanticCache.Embedding.APIKey = expandString(cfg.SemanticCache.Embedding.APIKey)

	for name, pCfg := range cfg.Providers {
		pCfg.APIKey = expandString(pCfg.APIKey)
		pCfg.BaseURL = expandString(pCfg.BaseURL)
		pCfg.Version = expandString(pCfg.Version)
		cfg.Providers[name] = pCfg
	}
	return cfg
}

// expandString expands references like ${VAR_NAME} or ${VAR_NAME:-default}.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return os.Expand(s, func(key string) string {
		varname := key
		defaultValue := ""
		hasDefault := false
		if strings.Contains(key, ":-") {
			parts := strings.SplitN(key, ":-", 2)
			varname = parts[0]
			defaultValue = parts[1]
			hasDefault = true
		}

		value := os.Getenv(varname)
		if value == "" {
			if hasDefault {
				return defaultValue
			}
			// Keep the placeholder so unresolved providers can be
			// filtered out downstream.
			return "${" + key + "}"
		}
		return value
	})
}

// removeEmptyProviders drops providers whose API key is missing or still
// holds an unexpanded placeholder, and prunes fallback chains pointing at
// dropped providers.
func removeEmptyProviders(cfg Config) Config {
	filtered := make(map[string]ProviderConfig)
	for name, pCfg := range cfg.Providers {
		if pCfg.APIKey != "" && !strings.Contains(pCfg.APIKey, "${") {
			filtered[name] = pCfg
		}
	}
	cfg.Providers = filtered

	for model, chain := range cfg.Fallbacks {
		kept := make([]string, 0, len(chain))
		for _, name := range chain {
			if _, ok := cfg.Providers[name]; ok {
				kept = append(kept, name)
			}
		}
		cfg.Fallbacks[model] = kept
	}
	return cfg
}
