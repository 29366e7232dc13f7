package rankersim

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	Auth      func(http.Handler) http.Handler
	AccessLog func(http.Handler) http.Handler
	RateLimit int
	RateWin   time.Duration
}

// FeedRanker is the handler slice for /v1/feed.
type FeedRanker interface {
	Rank(w http.ResponseWriter, r *http.Request)
}

// Ingester is the handler slice for the telemetry sinks.
type Ingester interface {
	Impressions(w http.ResponseWriter, r *http.Request)
	Engagements(w http.ResponseWriter, r *http.Request)
}

func NewRouter(feed FeedRanker, ingest Ingester, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if opts.AccessLog != nil {
		r.Use(opts.AccessLog)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit > 0 {
			win := opts.RateWin
			if win <= 0 {
				win = time.Minute
			}
			r.Use(httprate.LimitByIP(opts.RateLimit, win))
		}
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}

		r.Post("/feed", feed.Rank)
		r.Post("/impressions", ingest.Impressions)
		r.Post("/engagements", ingest.Engagements)
	})

	return r
}
