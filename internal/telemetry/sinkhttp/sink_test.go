package sinkhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
	"github.com/vroomapp/vroom/services/feed-engine/internal/telemetry"
)

func TestSendImpressions(t *testing.T) {
	t.Run("should_post_batch_as_json", func(t *testing.T) {
		var got struct {
			Impressions []domain.Impression `json:"impressions"`
		}
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/impressions", r.URL.Path)
			auth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		s := New(srv.URL, WithAuthToken("tok"))
		err := s.SendImpressions(context.Background(), []domain.Impression{{
			UserID:        "u1",
			PostID:        "p1",
			SessionID:     "s1",
			Source:        domain.SourcePersonalized,
			VisibleAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			WatchDuration: 2500,
		}})
		require.NoError(t, err)
		require.Len(t, got.Impressions, 1)
		assert.Equal(t, "p1", got.Impressions[0].PostID)
		assert.Equal(t, int64(2500), got.Impressions[0].WatchDuration)
		assert.Equal(t, "Bearer tok", auth)
	})

	t.Run("should_return_network_error_on_5xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		s := New(srv.URL)
		err := s.SendImpressions(context.Background(), []domain.Impression{{PostID: "p1"}})
		assert.Equal(t, domain.CodeNetwork, domain.CodeOf(err))
		assert.False(t, errors.Is(err, telemetry.ErrPermanent))
	})

	t.Run("should_return_permanent_error_on_4xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		s := New(srv.URL)
		err := s.SendEngagements(context.Background(), []domain.EngagementSignal{{PostID: "p1"}})
		assert.True(t, errors.Is(err, telemetry.ErrPermanent))
	})

	t.Run("should_return_network_error_when_unreachable", func(t *testing.T) {
		s := New("http://127.0.0.1:1")
		err := s.SendImpressions(context.Background(), []domain.Impression{{PostID: "p1"}})
		assert.Equal(t, domain.CodeNetwork, domain.CodeOf(err))
	})
}
