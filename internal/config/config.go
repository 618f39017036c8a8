package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds minimal runtime configuration. Extend as needed.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits
	MaxUploadSize  int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"`  // 10MB in bytes
	MaxImagePixels int64 `env:"MAX_IMAGE_PIXELS" envDefault:"40000000"` // checked from the header before decoding

	// Cache
	CacheProvider string        `env:"CACHE_PROVIDER" envDefault:"none"` // "redis" or "none"
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"24h"`

	// Encoders
	EncoderAPIKey  string        `env:"ENCODER_API_KEY"`
	EncoderTimeout time.Duration `env:"ENCODER_TIMEOUT" envDefault:"30s"`
	ProbeAttempts  int           `env:"PROBE_ATTEMPTS" envDefault:"3"`

	// Model bundles. Paths sent by clients resolve under ModelsDir and may not leave it.
	ModelsDir      string `env:"MODELS_DIR" envDefault:"./models"`
	ImageModelPath string `env:"IMAGE_MODEL_PATH" envDefault:"./models/ImageEncoder_float32.bundle"`
	TextModelPath  string `env:"TEXT_MODEL_PATH" envDefault:"./models/TextEncoder_float32.bundle"`

	// Sessions
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"1h"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
