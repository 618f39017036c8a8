package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"clip-demo/internal/cache"
	"clip-demo/internal/config"
	"clip-demo/internal/embeddings"
	"clip-demo/internal/logger"
	"clip-demo/internal/model"
	"clip-demo/internal/session"
)

// ProviderRemote is the manifest provider name for OpenAI-compatible endpoints.
const ProviderRemote = "remote"

// Deps bundles common runtime dependencies for the server and the CLI.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Cache    cache.Cache
	Loader   *model.Loader
	Sessions *session.Manager
}

// Build loads env, config, and shared components for the HTTP server.
func Build() (Deps, error) {
	return build(func(cfg config.Config) *slog.Logger { return logger.New(cfg.LogLevel) })
}

// BuildCLI is Build with logs on stderr so command output stays parseable.
func BuildCLI(level string) (Deps, error) {
	return build(func(cfg config.Config) *slog.Logger {
		if level == "" {
			level = cfg.LogLevel
		}
		return logger.NewWithWriter(os.Stderr, level)
	})
}

func build(newLog func(config.Config) *slog.Logger) (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	log := newLog(cfg)

	c, err := buildCache(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}
	loader := model.NewLoader(log, Providers(cfg), model.LoaderOptions{ProbeAttempts: cfg.ProbeAttempts})
	opts := session.Options{Cache: c, CacheTTL: cfg.CacheTTL}

	return Deps{
		Config:   cfg,
		Log:      log,
		Cache:    c,
		Loader:   loader,
		Sessions: session.NewManager(loader, opts, cfg.SessionTTL, log),
	}, nil
}

// Close releases sessions and the cache connection.
func (d Deps) Close() error {
	var errs []error
	if d.Sessions != nil {
		errs = append(errs, d.Sessions.Close())
	}
	if d.Cache != nil {
		errs = append(errs, d.Cache.Close())
	}
	return errors.Join(errs...)
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required when CACHE_PROVIDER=redis")
		}
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, embedding cache disabled", "addr", cfg.RedisAddr, "err", err)
			return cache.NewNoOpCache(), nil
		}
		log.Info("using Redis embedding cache", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
		return rc, nil
	case "none", "":
		log.Info("embedding cache disabled")
		return cache.NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: redis, none)", cfg.CacheProvider)
	}
}

// Providers returns the model providers available to bundle manifests.
func Providers(cfg config.Config) model.Registry {
	return model.Registry{
		ProviderRemote: model.ProviderFunc(func(_ context.Context, m model.Manifest) (model.Encoders, error) {
			if m.Endpoint == "" {
				return model.Encoders{}, fmt.Errorf("manifest %s: endpoint is required for provider %s", m.Name, ProviderRemote)
			}
			enc, err := embeddings.NewRemoteEncoder(embeddings.RemoteOptions{
				BaseURL: m.Endpoint,
				APIKey:  cfg.EncoderAPIKey,
				Model:   m.Model,
				Timeout: cfg.EncoderTimeout,
			})
			if err != nil {
				return model.Encoders{}, fmt.Errorf("failed to initialize remote encoder: %w", err)
			}
			return model.Encoders{Image: enc, Text: enc}, nil
		}),
	}
}
