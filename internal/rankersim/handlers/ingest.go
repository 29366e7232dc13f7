package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
	"github.com/vroomapp/vroom/services/feed-engine/internal/rankersim/store"
)

// Repo persists accepted telemetry. Optional; nil skips persistence.
type Repo interface {
	InsertImpressions(ctx context.Context, imps []domain.Impression) error
	InsertEngagements(ctx context.Context, sigs []domain.EngagementSignal) error
}

// Publisher fans engagement signals out to messaging. Optional.
type Publisher interface {
	PublishEngagement(ctx context.Context, sig domain.EngagementSignal) error
}

type impressionsRequest struct {
	Impressions []domain.Impression `json:"impressions"`
}

type engagementsRequest struct {
	Engagements []domain.EngagementSignal `json:"engagements"`
}

// IngestHandler serves the impression and engagement sinks. Delivery from
// clients is at-least-once, so impressions are deduplicated by
// (session_id, post_id, visible_at) before persistence.
type IngestHandler struct {
	dedupe store.Deduper
	repo   Repo
	pub    Publisher
}

func NewIngestHandler(dedupe store.Deduper, repo Repo, pub Publisher) *IngestHandler {
	if dedupe == nil {
		dedupe = store.NewMemoryDeduper()
	}
	return &IngestHandler{dedupe: dedupe, repo: repo, pub: pub}
}

// Impressions handles POST /v1/impressions.
func (h *IngestHandler) Impressions(w http.ResponseWriter, r *http.Request) {
	var req impressionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	fresh := make([]domain.Impression, 0, len(req.Impressions))
	for _, imp := range req.Impressions {
		if imp.PostID == "" || imp.SessionID == "" {
			http.Error(w, "impression missing post_id or session_id", http.StatusBadRequest)
			return
		}
		if imp.WatchDuration < 0 {
			http.Error(w, "negative watch_duration_ms", http.StatusBadRequest)
			return
		}
		key := fmt.Sprintf("imp:%s:%s:%d", imp.SessionID, imp.PostID, imp.VisibleAt.UnixNano())
		first, err := h.dedupe.FirstSeen(r.Context(), key)
		if err != nil {
			zlog.Warn().Err(err).Msg("impression dedupe unavailable, accepting")
			first = true
		}
		if first {
			fresh = append(fresh, imp)
		}
	}

	if h.repo != nil && len(fresh) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := h.repo.InsertImpressions(ctx, fresh); err != nil {
			zlog.Error().Err(err).Int("count", len(fresh)).Msg("impression insert failed")
			http.Error(w, "impression store unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

// Engagements handles POST /v1/engagements.
func (h *IngestHandler) Engagements(w http.ResponseWriter, r *http.Request) {
	var req engagementsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	for _, sig := range req.Engagements {
		if !domain.ValidSignal(sig.SignalType) {
			http.Error(w, "unknown signal_type "+string(sig.SignalType), http.StatusBadRequest)
			return
		}
		if sig.Strength < 0 || sig.Strength > 1 {
			http.Error(w, "signal_strength out of [0,1]", http.StatusBadRequest)
			return
		}
	}

	if h.repo != nil && len(req.Engagements) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := h.repo.InsertEngagements(ctx, req.Engagements); err != nil {
			zlog.Error().Err(err).Msg("engagement insert failed")
			http.Error(w, "engagement store unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	if h.pub != nil {
		for _, sig := range req.Engagements {
			if err := h.pub.PublishEngagement(r.Context(), sig); err != nil {
				// Best effort: ingestion already succeeded.
				zlog.Warn().Err(err).Str("signal", string(sig.SignalType)).Msg("engagement publish failed")
			}
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
