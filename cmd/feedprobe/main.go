// feedprobe drives the feed engine against a running ranker: it opens a
// session, pages through the feed while simulating viewability, and sends
// the resulting telemetry. Useful for poking at rankersim locally.
package main

import (
	"context"
	"flag"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/vroomapp/vroom/services/feed-engine/internal/config"
	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
	"github.com/vroomapp/vroom/services/feed-engine/internal/feed"
	"github.com/vroomapp/vroom/services/feed-engine/internal/logger"
	"github.com/vroomapp/vroom/services/feed-engine/internal/ranker"
	"github.com/vroomapp/vroom/services/feed-engine/internal/session"
	"github.com/vroomapp/vroom/services/feed-engine/internal/telemetry"
	"github.com/vroomapp/vroom/services/feed-engine/internal/telemetry/sinkhttp"
	"github.com/vroomapp/vroom/services/feed-engine/internal/visibility"
)

func main() {
	logger.Init()

	userID := flag.String("user", "probe-user", "user id to open the session as")
	pages := flag.Int("pages", 3, "number of pages to pull")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config load failed")
	}

	sessions := session.New(nil)
	fetcher := ranker.NewClient(cfg.RankerURL,
		ranker.WithDeadline(cfg.RequestDeadline),
		ranker.WithAuthToken(cfg.AuthToken),
	)
	sink := sinkhttp.New(cfg.TelemetryURL, sinkhttp.WithAuthToken(cfg.AuthToken))
	batcher := telemetry.NewBatcher(sink, telemetry.Options{
		FlushInterval: cfg.BatchFlushInterval,
		SoftCap:       cfg.BatchSoftCap,
		MaxAttempts:   cfg.TelemetryMaxAttempts,
	})
	coord := visibility.New(batcher, cfg.VisibilityThreshold, nil)

	ctrl := feed.NewController(sessions, fetcher, batcher, coord, feed.Options{
		PageSize:             cfg.PageSize,
		MinSpacing:           cfg.MinSpacing,
		SponsoredCadence:     cfg.SponsoredCadence,
		PrefetchTailDistance: cfg.PrefetchTailDistance,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	batcher.Start(ctx)

	if err := ctrl.ResetAndLoadFresh(ctx, *userID); err != nil {
		zlog.Fatal().Err(err).Msg("head load failed")
	}
	for i := 1; i < *pages; i++ {
		if err := ctrl.LoadOlder(ctx); err != nil {
			zlog.Error().Err(err).Int("page", i).Msg("tail load failed")
			break
		}
	}

	items := ctrl.Items()
	zlog.Info().Int("items", len(items)).Msg("feed loaded")

	// Scrub through the buffer as a viewer would: each post fully visible
	// for a beat, then gone.
	for i, it := range items {
		ctrl.OnViewable([]visibility.Viewable{{Index: i, Item: it, Fraction: 1.0}})
		if it.Kind == domain.KindSponsored {
			zlog.Info().Int("index", i).Str("id", it.SponsoredID).Msg("sponsored slot")
			continue
		}
		zlog.Info().
			Int("index", i).
			Str("post", it.Post.ID).
			Str("author", it.Post.AuthorID).
			Str("kind", string(it.Post.MediaKind)).
			Msg("viewed")
		time.Sleep(50 * time.Millisecond)
	}

	if len(items) > 0 && items[0].Kind == domain.KindPost {
		if err := ctrl.RecordEngagement(items[0].PostID(), domain.SignalLike, 1.0); err != nil {
			zlog.Warn().Err(err).Msg("engagement record failed")
		}
	}

	ctrl.Close()
	if err := batcher.Close(); err != nil {
		zlog.Warn().Err(err).Msg("telemetry drain incomplete")
	}
	zlog.Info().Msg("done")
}
