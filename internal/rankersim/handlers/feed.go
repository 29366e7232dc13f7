package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	"github.com/vroomapp/vroom/services/feed-engine/internal/rankersim"
)

// FeedHandler serves the ranker contract at POST /v1/feed.
type FeedHandler struct {
	ranker *rankersim.Ranker
}

func NewFeedHandler(r *rankersim.Ranker) *FeedHandler {
	return &FeedHandler{ranker: r}
}

func (h *FeedHandler) Rank(w http.ResponseWriter, r *http.Request) {
	var req rankersim.RankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.ranker.Page(req)
	if err != nil {
		switch {
		case errors.Is(err, rankersim.ErrCursorMismatch):
			// Cursor belongs to another epoch; clients reopen their session.
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, rankersim.ErrBadRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			zlog.Error().Err(err).Msg("rank failed")
			http.Error(w, "rank failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
