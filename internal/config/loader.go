package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"image":      {"openai", "pollinations"},
	"embeddings": {"openai"},
}

// Secrets holds values that may be supplied through the environment instead
// of the config file. Non-empty variables override the file.
type Secrets struct {
	LLMAPIKey        string   `env:"TALESPIN_LLM_API_KEY"`
	ImageAPIKey      string   `env:"TALESPIN_IMAGE_API_KEY"`
	EmbeddingsAPIKey string   `env:"TALESPIN_EMBEDDINGS_API_KEY"`
	NarratorAPIKey   string   `env:"TALESPIN_NARRATOR_API_KEY"`
	PostgresDSN      string   `env:"TALESPIN_POSTGRES_DSN"`
	RedisAddr        string   `env:"TALESPIN_REDIS_ADDR"`
	RedisPassword    string   `env:"TALESPIN_REDIS_PASSWORD"`
	LogLevel         LogLevel `env:"TALESPIN_LOG_LEVEL"`
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets in cfg with the TALESPIN_* environment variables
// that are set.
func ApplyEnv(cfg *Config) error {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	override(&cfg.Providers.LLM.APIKey, s.LLMAPIKey)
	for i := range cfg.Providers.LLMFallbacks {
		if cfg.Providers.LLMFallbacks[i].Name == cfg.Providers.LLM.Name {
			override(&cfg.Providers.LLMFallbacks[i].APIKey, s.LLMAPIKey)
		}
	}
	override(&cfg.Providers.Image.APIKey, s.ImageAPIKey)
	override(&cfg.Providers.Embeddings.APIKey, s.EmbeddingsAPIKey)
	override(&cfg.Providers.Narrator.APIKey, s.NarratorAPIKey)
	override(&cfg.Store.PostgresDSN, s.PostgresDSN)
	override(&cfg.Store.RedisAddr, s.RedisAddr)
	override(&cfg.Store.RedisPassword, s.RedisPassword)
	if s.LogLevel != "" {
		cfg.Server.LogLevel = s.LogLevel
	}
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("llm", p.LLM.Name)
	validateProviderName("image", p.Image.Name)
	validateProviderName("embeddings", p.Embeddings.Name)
	for i, fb := range p.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range p.ImageFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.image_fallbacks[%d].name is required", i))
		}
		validateProviderName("image", fb.Name)
	}
	if len(p.ImageFallbacks) > 0 && p.Image.Name == "" {
		errs = append(errs, errors.New("providers.image_fallbacks requires providers.image"))
	}

	switch backend := p.Narrator.Backend; {
	case backend != "" && !backend.IsValid():
		errs = append(errs, fmt.Errorf("providers.narrator.backend %q is invalid; valid values: llm, http", backend))
	case backend == NarratorHTTP:
		if p.Narrator.Endpoint == "" {
			errs = append(errs, errors.New("providers.narrator.endpoint is required when backend is http"))
		}
	default:
		if p.LLM.Name == "" {
			errs = append(errs, errors.New("providers.llm is required when the narrator backend is llm"))
		}
	}
	if t := p.Narrator.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("providers.narrator.temperature %.2f is out of range [0, 2]", t))
	}
	if p.Narrator.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("providers.narrator.max_tokens %d must not be negative", p.Narrator.MaxTokens))
	}
	if p.Image.Name == "" {
		slog.Warn("providers.image is not configured; illustrations are disabled")
	}

	// Store
	switch s := cfg.Store; s.Backend {
	case "", StoreMemory:
		slog.Warn("store.backend is memory; sessions are lost on restart")
	case StorePostgres:
		if s.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required when backend is postgres"))
		}
	case StoreRedis:
		if s.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required when backend is redis"))
		}
		if s.RedisTTL < 0 {
			errs = append(errs, fmt.Errorf("store.redis_ttl %s must not be negative", s.RedisTTL))
		}
	case StoreSQLite:
		if s.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required when backend is sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, redis, sqlite", s.Backend))
	}

	// Session tuning
	s := cfg.Session
	for _, f := range []struct {
		name  string
		value int
	}{
		{"rollover_threshold", s.RolloverThreshold},
		{"rollover_limit", s.RolloverLimit},
		{"max_illustrations", s.MaxIllustrations},
		{"max_concurrent_illustrations", s.MaxConcurrentIllustrations},
		{"history_limit", s.HistoryLimit},
		{"consequence_length", s.ConsequenceLength},
		{"key_moment_limit", s.KeyMomentLimit},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("session.%s %d must not be negative", f.name, f.value))
		}
	}
	for _, f := range []struct {
		name  string
		value time.Duration
	}{
		{"generation_timeout", s.GenerationTimeout},
		{"illustration_timeout", s.IllustrationTimeout},
		{"autosave_delay", s.AutosaveDelay},
		{"save_timeout", s.SaveTimeout},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("session.%s %s must not be negative", f.name, f.value))
		}
	}

	// Recall
	if cfg.Recall.Limit < 0 {
		errs = append(errs, fmt.Errorf("recall.limit %d must not be negative", cfg.Recall.Limit))
	}
	if cfg.Recall.Timeout < 0 {
		errs = append(errs, fmt.Errorf("recall.timeout %s must not be negative", cfg.Recall.Timeout))
	}
	if cfg.Recall.Enabled {
		if p.Embeddings.Name == "" {
			errs = append(errs, errors.New("recall.enabled requires providers.embeddings"))
		}
		if s.HistoryLimit == 0 {
			slog.Warn("recall is enabled but session.history_limit is 0; the full history is always sent and recall is unused")
		}
		if cfg.Store.Backend == StorePostgres && cfg.Store.EmbeddingDimensions <= 0 {
			errs = append(errs, errors.New("store.embedding_dimensions is required for recall with the postgres backend"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
