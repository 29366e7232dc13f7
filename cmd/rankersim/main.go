package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	zlog "github.com/rs/zerolog/log"

	"github.com/vroomapp/vroom/services/feed-engine/internal/config"
	"github.com/vroomapp/vroom/services/feed-engine/internal/logger"
	"github.com/vroomapp/vroom/services/feed-engine/internal/rankersim"
	"github.com/vroomapp/vroom/services/feed-engine/internal/rankersim/handlers"
	"github.com/vroomapp/vroom/services/feed-engine/internal/rankersim/middleware"
	"github.com/vroomapp/vroom/services/feed-engine/internal/rankersim/notify"
	"github.com/vroomapp/vroom/services/feed-engine/internal/rankersim/store"
	pgstore "github.com/vroomapp/vroom/services/feed-engine/internal/rankersim/store/postgres"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config load failed")
	}

	// Dedupe: redis when configured, memory otherwise.
	var dedupe store.Deduper = store.NewMemoryDeduper()
	if cfg.RedisURL != "" {
		rd, err := store.NewRedisDeduper(cfg.RedisURL, cfg.DedupeTTL)
		if err != nil {
			zlog.Fatal().Err(err).Msg("redis deduper init failed")
		}
		defer rd.Close()
		dedupe = rd
		zlog.Info().Msg("redis deduper ready")
	} else {
		zlog.Warn().Msg("REDIS_URL empty: impression dedupe is process local")
	}

	// Persistence: optional.
	var repo handlers.Repo
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			cancel()
			zlog.Fatal().Err(err).Msg("db pool init failed")
		}
		if err := pool.Ping(ctx); err != nil {
			cancel()
			zlog.Fatal().Err(err).Msg("db ping failed")
		}
		cancel()
		defer pool.Close()
		repo = pgstore.NewRepo(pool)
		zlog.Info().Msg("postgres telemetry store ready")
	} else {
		zlog.Warn().Msg("DATABASE_URL empty: telemetry will not be persisted")
	}

	// Engagement fan-out: optional.
	var pub handlers.Publisher
	if cfg.RabbitURL != "" {
		p, err := notify.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			zlog.Fatal().Err(err).Msg("rabbit publisher init failed")
		}
		defer p.Close()
		pub = p
		zlog.Info().Str("exchange", cfg.RabbitExchange).Msg("rabbit publisher ready")
	} else {
		zlog.Warn().Msg("RABBIT_URL empty: engagement signals will not be published")
	}

	ranker := rankersim.NewRanker(rankersim.SeedPool(cfg.PoolSize))
	feedHandler := handlers.NewFeedHandler(ranker)
	ingestHandler := handlers.NewIngestHandler(dedupe, repo, pub)

	auth := middleware.NewAuth(cfg.JWTSecret, cfg.JWTIssuer)
	router := rankersim.NewRouter(feedHandler, ingestHandler, rankersim.RouterOptions{
		Auth:      auth.Require,
		AccessLog: middleware.AccessLog,
		RateLimit: cfg.RLLimit,
		RateWin:   cfg.RLWindow,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	zlog.Info().Str("addr", cfg.HTTPAddr).Int("pool", cfg.PoolSize).Msg("rankersim listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Fatal().Err(err).Msg("server crashed")
	}
}
