package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talespin/internal/app"
	"github.com/MrWong99/talespin/internal/config"
	"github.com/MrWong99/talespin/internal/observe"
	"github.com/MrWong99/talespin/internal/recall"
	"github.com/MrWong99/talespin/internal/resilience"
	"github.com/MrWong99/talespin/pkg/narrator"
	"github.com/MrWong99/talespin/pkg/narrator/httpnarrator"
	"github.com/MrWong99/talespin/pkg/narrator/llmnarrator"
	"github.com/MrWong99/talespin/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/talespin/pkg/provider/embeddings/openai"
	"github.com/MrWong99/talespin/pkg/provider/image"
	oaimage "github.com/MrWong99/talespin/pkg/provider/image/openai"
	"github.com/MrWong99/talespin/pkg/provider/image/pollinations"
	"github.com/MrWong99/talespin/pkg/provider/llm"
	"github.com/MrWong99/talespin/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/talespin/pkg/provider/llm/openai"
	"github.com/MrWong99/talespin/pkg/store"
	"github.com/MrWong99/talespin/pkg/store/postgres"
	"github.com/MrWong99/talespin/pkg/store/redis"
	"github.com/MrWong99/talespin/pkg/store/sqlite"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted backends go through any-llm and share the same
	// shape: optional APIKey plus optional BaseURL.
	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Image ─────────────────────────────────────────────────────────────────
	reg.RegisterImage("openai", func(entry config.ProviderEntry) (image.Provider, error) {
		var opts []oaimage.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaimage.WithBaseURL(entry.BaseURL))
		}
		if size := optString(entry.Options, "size"); size != "" {
			opts = append(opts, oaimage.WithSize(size))
		}
		return oaimage.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterImage("pollinations", func(entry config.ProviderEntry) (image.Provider, error) {
		var opts []pollinations.Option
		if entry.Model != "" {
			opts = append(opts, pollinations.WithModel(entry.Model))
		}
		if w, h := optInt(entry.Options, "width"), optInt(entry.Options, "height"); w > 0 && h > 0 {
			opts = append(opts, pollinations.WithSize(w, h))
		}
		if optBool(entry.Options, "link_only") {
			opts = append(opts, pollinations.WithLinkOnly())
		}
		return pollinations.New(entry.BaseURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the narrator and image providers named in cfg.
// Fallback entries are placed behind per-backend circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	n, err := buildNarrator(cfg, reg)
	if err != nil {
		return nil, err
	}
	ps.Narrator = n

	if name := cfg.Providers.Image.Name; name != "" {
		primary, err := reg.CreateImage(cfg.Providers.Image)
		if err != nil {
			return nil, fmt.Errorf("create image provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "image", "name", name)
		if len(cfg.Providers.ImageFallbacks) == 0 {
			ps.Images = primary
		} else {
			fb := resilience.NewImageFallback(primary, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.ImageFallbacks {
				p, err := reg.CreateImage(entry)
				if err != nil {
					return nil, fmt.Errorf("create image fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, p)
				slog.Info("fallback provider created", "kind", "image", "name", entry.Name)
			}
			ps.Images = fb
		}
	}
	return ps, nil
}

func buildNarrator(cfg *config.Config, reg *config.Registry) (narrator.Narrator, error) {
	nc := cfg.Providers.Narrator
	if cfg.NarratorBackendOrDefault() == config.NarratorHTTP {
		var opts []httpnarrator.Option
		if nc.APIKey != "" {
			opts = append(opts, httpnarrator.WithAPIKey(nc.APIKey))
		}
		n, err := httpnarrator.New(nc.Endpoint, opts...)
		if err != nil {
			return nil, fmt.Errorf("create http narrator: %w", err)
		}
		slog.Info("narrator created", "backend", "http", "endpoint", nc.Endpoint)
		return n, nil
	}

	name := cfg.Providers.LLM.Name
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", name)

	completion := primary
	if len(cfg.Providers.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(primary, name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
			slog.Info("fallback provider created", "kind", "llm", "name", entry.Name)
		}
		completion = fb
	}

	var opts []llmnarrator.Option
	if nc.Temperature > 0 {
		opts = append(opts, llmnarrator.WithTemperature(nc.Temperature))
	}
	if nc.MaxTokens > 0 {
		opts = append(opts, llmnarrator.WithMaxTokens(nc.MaxTokens))
	}
	n, err := llmnarrator.New(completion, opts...)
	if err != nil {
		return nil, fmt.Errorf("create llm narrator: %w", err)
	}
	return n, nil
}

// ── Storage ───────────────────────────────────────────────────────────────────

// storeBackend is an opened session store plus what else the backend offers.
type storeBackend struct {
	store store.SessionStore
	// turns is set by backends that can also index turn embeddings.
	turns recall.Index
	close func() error
}

func openStore(ctx context.Context, cfg *config.Config) (*storeBackend, error) {
	sc := cfg.Store
	switch b := cfg.StoreBackendOrDefault(); b {
	case config.StorePostgres:
		s, err := postgres.NewStore(ctx, sc.PostgresDSN, sc.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		slog.Info("session store opened", "backend", b)
		return &storeBackend{
			store: s,
			turns: s.Turns(),
			close: func() error { s.Close(); return nil },
		}, nil
	case config.StoreRedis:
		s, err := redis.Dial(ctx, sc.RedisAddr, sc.RedisPassword, redis.Config{Prefix: sc.RedisPrefix, TTL: sc.RedisTTL})
		if err != nil {
			return nil, err
		}
		slog.Info("session store opened", "backend", b, "addr", sc.RedisAddr)
		return &storeBackend{store: s, close: s.Close}, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("session store opened", "backend", b, "path", sc.SQLitePath)
		return &storeBackend{store: s, close: s.Close}, nil
	default:
		return &storeBackend{
			store: store.NewMemStore(),
			close: func() error { return nil },
		}, nil
	}
}

// wireRecall attaches semantic recall to providers when it is enabled.
// Postgres indexes turns next to the snapshots; every other backend keeps the
// index in process memory.
func wireRecall(cfg *config.Config, reg *config.Registry, backend *storeBackend, providers *app.Providers, m *observe.Metrics) error {
	if !cfg.Recall.Enabled {
		return nil
	}
	embedder, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}

	index := backend.turns
	if index == nil {
		index = recall.NewMemIndex()
	}
	purger, ok := index.(app.IndexPurger)
	if !ok {
		return errors.New("recall index cannot delete sessions")
	}
	r, err := recall.New(embedder, index, m)
	if err != nil {
		return err
	}
	providers.Recaller = r
	providers.RecallIndex = purger
	slog.Info("recall enabled", "embeddings", cfg.Providers.Embeddings.Name, "limit", cfg.Recall.Limit)
	return nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the key is absent or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int; floats are truncated.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}
