// Package config provides the configuration schema, loader, and provider
// registry for the talespin server.
package config

import (
	"time"

	"github.com/MrWong99/talespin/internal/session"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// NarratorBackend selects how story passages are generated.
type NarratorBackend string

const (
	// NarratorLLM prompts the configured completion provider directly.
	NarratorLLM NarratorBackend = "llm"

	// NarratorHTTP delegates to a remote narrative generation service.
	NarratorHTTP NarratorBackend = "http"
)

// IsValid reports whether b is a recognised narrator backend.
func (b NarratorBackend) IsValid() bool {
	return b == NarratorLLM || b == NarratorHTTP
}

// StoreBackend selects the session persistence layer.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
	StoreSQLite   StoreBackend = "sqlite"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StorePostgres, StoreRedis, StoreSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Store     StoreConfig     `yaml:"store"`
	Session   SessionConfig   `yaml:"session"`
	Recall    RecallConfig    `yaml:"recall"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown, including the final flush of
	// every open session. Defaults to 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares the provider implementations used by sessions.
// Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Narrator NarratorConfig `yaml:"narrator"`

	// LLM is the completion provider used by the llm narrator backend.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails or its circuit is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// Image generates scene illustrations. Leave empty to disable them.
	Image ProviderEntry `yaml:"image"`

	// ImageFallbacks are tried in order when Image fails.
	ImageFallbacks []ProviderEntry `yaml:"image_fallbacks"`

	// Embeddings backs long-history recall.
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "pollinations").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// NarratorConfig selects and tunes the narrator backend.
type NarratorConfig struct {
	// Backend is "llm" (default) or "http".
	Backend NarratorBackend `yaml:"backend"`

	// Endpoint is the URL of the remote service for the http backend.
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as a bearer token to the remote service.
	APIKey string `yaml:"api_key"`

	// Temperature and MaxTokens tune the llm backend. Zero keeps the defaults.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// StoreConfig selects the session store.
type StoreConfig struct {
	// Backend is one of memory (default), postgres, redis or sqlite.
	Backend StoreBackend `yaml:"backend"`

	// PostgresDSN is the connection string for the postgres backend and the
	// pgvector recall index.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector size of the recall index. It must
	// match the configured embeddings model.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

// SessionConfig carries the session tuning knobs. Zero values take the
// session package defaults.
type SessionConfig struct {
	RolloverThreshold          int           `yaml:"rollover_threshold"`
	RolloverLimit              int           `yaml:"rollover_limit"`
	MaxIllustrations           int           `yaml:"max_illustrations"`
	GenerationTimeout          time.Duration `yaml:"generation_timeout"`
	IllustrationTimeout        time.Duration `yaml:"illustration_timeout"`
	AutosaveDelay              time.Duration `yaml:"autosave_delay"`
	SaveTimeout                time.Duration `yaml:"save_timeout"`
	MaxConcurrentIllustrations int           `yaml:"max_concurrent_illustrations"`
	HistoryLimit               int           `yaml:"history_limit"`
	ConsequenceLength          int           `yaml:"consequence_length"`
	KeyMomentLimit             int           `yaml:"key_moment_limit"`
}

// RecallConfig controls long-history recall.
type RecallConfig struct {
	// Enabled turns on embedding and retrieval of earlier turns. It only has
	// an effect when session.history_limit is positive.
	Enabled bool `yaml:"enabled"`

	// Limit is the maximum number of recalled turns per action.
	Limit int `yaml:"limit"`

	// Timeout bounds one recall lookup. Zero selects the default.
	Timeout time.Duration `yaml:"timeout"`
}

// Tuning converts the session and recall sections to normalised session
// tuning.
func (c *Config) Tuning() session.Tuning {
	s := c.Session
	return session.Tuning{
		RolloverThreshold:          s.RolloverThreshold,
		RolloverLimit:              s.RolloverLimit,
		MaxIllustrations:           s.MaxIllustrations,
		GenerationTimeout:          s.GenerationTimeout,
		IllustrationTimeout:        s.IllustrationTimeout,
		AutosaveDelay:              s.AutosaveDelay,
		SaveTimeout:                s.SaveTimeout,
		MaxConcurrentIllustrations: s.MaxConcurrentIllustrations,
		HistoryLimit:               s.HistoryLimit,
		RecallLimit:                c.Recall.Limit,
		RecallTimeout:              c.Recall.Timeout,
		ConsequenceLength:          s.ConsequenceLength,
		KeyMomentLimit:             s.KeyMomentLimit,
	}.Normalize()
}

// NarratorBackendOrDefault returns the configured narrator backend, or
// [NarratorLLM] when none is set.
func (c *Config) NarratorBackendOrDefault() NarratorBackend {
	if c.Providers.Narrator.Backend == "" {
		return NarratorLLM
	}
	return c.Providers.Narrator.Backend
}

// StoreBackendOrDefault returns the configured store backend, or
// [StoreMemory] when none is set.
func (c *Config) StoreBackendOrDefault() StoreBackend {
	if c.Store.Backend == "" {
		return StoreMemory
	}
	return c.Store.Backend
}
