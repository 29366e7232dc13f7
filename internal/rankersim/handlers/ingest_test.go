package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
	"github.com/vroomapp/vroom/services/feed-engine/internal/rankersim/store"
)

type memRepo struct {
	mu          sync.Mutex
	impressions []domain.Impression
	engagements []domain.EngagementSignal
}

func (m *memRepo) InsertImpressions(_ context.Context, imps []domain.Impression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.impressions = append(m.impressions, imps...)
	return nil
}

func (m *memRepo) InsertEngagements(_ context.Context, sigs []domain.EngagementSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engagements = append(m.engagements, sigs...)
	return nil
}

type capturePublisher struct {
	mu   sync.Mutex
	sigs []domain.EngagementSignal
}

func (p *capturePublisher) PublishEngagement(_ context.Context, sig domain.EngagementSignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sigs = append(p.sigs, sig)
	return nil
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func newRedisDeduper(t *testing.T) store.Deduper {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.NewRedisDeduperFromClient(rdb, time.Hour)
}

func impression(postID string, visibleAt time.Time) domain.Impression {
	return domain.Impression{
		UserID:        "u1",
		PostID:        postID,
		SessionID:     "s1",
		Source:        domain.SourcePersonalized,
		VisibleAt:     visibleAt,
		WatchDuration: 1500,
	}
}

func TestImpressions(t *testing.T) {
	visibleAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should_accept_and_persist_a_batch", func(t *testing.T) {
		repo := &memRepo{}
		h := NewIngestHandler(newRedisDeduper(t), repo, nil)

		rec := postJSON(t, h.Impressions, "/v1/impressions", map[string]any{
			"impressions": []domain.Impression{
				impression("p1", visibleAt),
				impression("p2", visibleAt.Add(time.Second)),
			},
		})
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Len(t, repo.impressions, 2)
	})

	t.Run("should_deduplicate_redelivered_impressions", func(t *testing.T) {
		// At-least-once clients resend; the idempotency key is
		// (session_id, post_id, visible_at).
		repo := &memRepo{}
		h := NewIngestHandler(newRedisDeduper(t), repo, nil)

		body := map[string]any{"impressions": []domain.Impression{impression("p1", visibleAt)}}
		rec := postJSON(t, h.Impressions, "/v1/impressions", body)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		rec = postJSON(t, h.Impressions, "/v1/impressions", body)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		assert.Len(t, repo.impressions, 1)
	})

	t.Run("should_keep_distinct_intervals_of_the_same_post", func(t *testing.T) {
		repo := &memRepo{}
		h := NewIngestHandler(newRedisDeduper(t), repo, nil)

		rec := postJSON(t, h.Impressions, "/v1/impressions", map[string]any{
			"impressions": []domain.Impression{
				impression("p1", visibleAt),
				impression("p1", visibleAt.Add(10*time.Second)),
			},
		})
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Len(t, repo.impressions, 2)
	})

	t.Run("should_reject_negative_watch_duration", func(t *testing.T) {
		h := NewIngestHandler(store.NewMemoryDeduper(), nil, nil)
		imp := impression("p1", visibleAt)
		imp.WatchDuration = -1
		rec := postJSON(t, h.Impressions, "/v1/impressions", map[string]any{
			"impressions": []domain.Impression{imp},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should_reject_missing_identity", func(t *testing.T) {
		h := NewIngestHandler(store.NewMemoryDeduper(), nil, nil)
		rec := postJSON(t, h.Impressions, "/v1/impressions", map[string]any{
			"impressions": []domain.Impression{{PostID: "p1"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEngagements(t *testing.T) {
	t.Run("should_persist_and_publish_signals", func(t *testing.T) {
		repo := &memRepo{}
		pub := &capturePublisher{}
		h := NewIngestHandler(store.NewMemoryDeduper(), repo, pub)

		rec := postJSON(t, h.Engagements, "/v1/engagements", map[string]any{
			"engagements": []domain.EngagementSignal{
				{UserID: "u1", PostID: "p1", SignalType: domain.SignalLike, Strength: 1},
				{UserID: "u1", PostID: "p1", SignalType: domain.SignalSave, Strength: 0.8},
			},
		})
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Len(t, repo.engagements, 2)
		assert.Len(t, pub.sigs, 2)
	})

	t.Run("should_reject_unknown_signal_type", func(t *testing.T) {
		h := NewIngestHandler(store.NewMemoryDeduper(), nil, nil)
		rec := postJSON(t, h.Engagements, "/v1/engagements", map[string]any{
			"engagements": []domain.EngagementSignal{
				{UserID: "u1", PostID: "p1", SignalType: "superlike", Strength: 1},
			},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should_reject_strength_out_of_range", func(t *testing.T) {
		h := NewIngestHandler(store.NewMemoryDeduper(), nil, nil)
		rec := postJSON(t, h.Engagements, "/v1/engagements", map[string]any{
			"engagements": []domain.EngagementSignal{
				{UserID: "u1", PostID: "p1", SignalType: domain.SignalLike, Strength: 1.5},
			},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
