package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
)

type Config struct {
	AppEnv string

	// Engine
	PageSize             int
	MinSpacing           int
	SponsoredCadence     int
	VisibilityThreshold  float64
	PrefetchTailDistance int
	BatchFlushInterval   time.Duration
	BatchSoftCap         int
	RequestDeadline      time.Duration
	TelemetryMaxAttempts int

	// Remote endpoints
	RankerURL    string
	TelemetryURL string
	AuthToken    string

	// rankersim server
	HTTPAddr       string
	DatabaseURL    string
	RedisURL       string
	RabbitURL      string
	RabbitExchange string
	JWTSecret      string
	JWTIssuer      string
	RLLimit        int
	RLWindow       time.Duration
	DedupeTTL      time.Duration
	PoolSize       int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.AppEnv = getEnv("APP_ENV", "dev")

	cfg.PageSize = getIntEnv("FEED_PAGE_SIZE", 20)
	cfg.MinSpacing = getIntEnv("FEED_MIN_SPACING", 3)
	cfg.SponsoredCadence = getIntEnv("FEED_SPONSORED_CADENCE", 10)
	cfg.VisibilityThreshold = getFloatEnv("FEED_VISIBILITY_THRESHOLD", 0.5)
	cfg.PrefetchTailDistance = getIntEnv("FEED_PREFETCH_TAIL_DISTANCE", 3)
	cfg.BatchFlushInterval = getDuration("TELEMETRY_FLUSH_INTERVAL", 2*time.Second)
	cfg.BatchSoftCap = getIntEnv("TELEMETRY_BATCH_SOFT_CAP", 32)
	cfg.RequestDeadline = getDuration("RANKER_REQUEST_DEADLINE", 10*time.Second)
	cfg.TelemetryMaxAttempts = getIntEnv("TELEMETRY_MAX_ATTEMPTS", 5)

	cfg.RankerURL = getEnv("RANKER_URL", "http://localhost:8086")
	cfg.TelemetryURL = getEnv("TELEMETRY_URL", cfg.RankerURL)
	cfg.AuthToken = getEnv("AUTH_TOKEN", "")

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8086")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.RabbitURL = getEnv("RABBIT_URL", "")
	cfg.RabbitExchange = getEnv("RABBIT_EXCHANGE", "vroom.engagement")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.JWTIssuer = getEnv("JWT_ISSUER", "vroom")
	cfg.RLLimit = getIntEnv("RL_IP_LIMIT", 100)
	cfg.RLWindow = getDuration("RL_IP_WINDOW", time.Minute)
	cfg.DedupeTTL = getDuration("DEDUPE_TTL", 24*time.Hour)
	cfg.PoolSize = getIntEnv("RANKER_POOL_SIZE", 500)

	cfg.HTTPReadTimeout = getDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	cfg.HTTPWriteTimeout = getDuration("HTTP_WRITE_TIMEOUT", 20*time.Second)
	cfg.HTTPIdleTimeout = getDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PageSize < 1 || c.PageSize > 100 {
		return domain.ErrInvalidConfig("FEED_PAGE_SIZE must be in [1,100]")
	}
	if c.MinSpacing < 0 {
		return domain.ErrInvalidConfig("FEED_MIN_SPACING must be non-negative")
	}
	if c.SponsoredCadence < 0 {
		return domain.ErrInvalidConfig("FEED_SPONSORED_CADENCE must be non-negative")
	}
	if c.VisibilityThreshold <= 0 || c.VisibilityThreshold > 1 {
		return domain.ErrInvalidConfig("FEED_VISIBILITY_THRESHOLD must be in (0,1]")
	}
	if c.PrefetchTailDistance < 0 {
		return domain.ErrInvalidConfig("FEED_PREFETCH_TAIL_DISTANCE must be non-negative")
	}
	if c.BatchSoftCap < 1 {
		return domain.ErrInvalidConfig("TELEMETRY_BATCH_SOFT_CAP must be at least 1")
	}
	if c.TelemetryMaxAttempts < 1 {
		return domain.ErrInvalidConfig("TELEMETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.RequestDeadline <= 0 {
		return domain.ErrInvalidConfig("RANKER_REQUEST_DEADLINE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
