package rankersim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
)

func rankReq(sessionID string, nonce int64, size int, cursor string) RankRequest {
	return RankRequest{
		UserID:          "u1",
		PageSize:        size,
		PageAfter:       cursor,
		SessionID:       sessionID,
		SessionOpenedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		RefreshNonce:    nonce,
	}
}

func pageIDs(items []domain.PostCandidate) []string {
	out := make([]string, 0, len(items))
	for _, p := range items {
		out = append(out, p.ID)
	}
	return out
}

func TestPage(t *testing.T) {
	pool := SeedPool(50)

	t.Run("should_be_deterministic_within_an_epoch", func(t *testing.T) {
		r := NewRanker(pool)
		first, err := r.Page(rankReq("s1", 0, 10, ""))
		require.NoError(t, err)
		again, err := r.Page(rankReq("s1", 0, 10, ""))
		require.NoError(t, err)

		assert.Equal(t, pageIDs(first.Items), pageIDs(again.Items))
		assert.False(t, first.CacheHit)
		assert.True(t, again.CacheHit)
		assert.Equal(t, 50, first.TotalCandidates)
	})

	t.Run("should_reorder_on_nonce_bump", func(t *testing.T) {
		r := NewRanker(pool)
		before, err := r.Page(rankReq("s1", 0, 20, ""))
		require.NoError(t, err)
		after, err := r.Page(rankReq("s1", 1, 20, ""))
		require.NoError(t, err)

		assert.NotEqual(t, pageIDs(before.Items), pageIDs(after.Items))
		assert.Equal(t, int64(1), after.UsedRefreshNonce)
	})

	t.Run("should_paginate_without_gaps_or_overlap", func(t *testing.T) {
		r := NewRanker(pool)
		seen := map[string]bool{}
		cursor := ""
		pages := 0
		for {
			resp, err := r.Page(rankReq("s1", 0, 15, cursor))
			require.NoError(t, err)
			for _, id := range pageIDs(resp.Items) {
				assert.False(t, seen[id], "post %s appeared twice", id)
				seen[id] = true
			}
			pages++
			if resp.NextPageAfter == "" {
				break
			}
			cursor = resp.NextPageAfter
		}
		assert.Equal(t, 4, pages)
		assert.Len(t, seen, 50)
	})

	t.Run("should_reject_cursor_from_another_epoch", func(t *testing.T) {
		r := NewRanker(pool)
		resp, err := r.Page(rankReq("s1", 0, 10, ""))
		require.NoError(t, err)
		require.NotEmpty(t, resp.NextPageAfter)

		_, err = r.Page(rankReq("s1", 1, 10, resp.NextPageAfter))
		assert.ErrorIs(t, err, ErrCursorMismatch)

		_, err = r.Page(rankReq("s2", 0, 10, resp.NextPageAfter))
		assert.ErrorIs(t, err, ErrCursorMismatch)
	})

	t.Run("should_reject_malformed_requests", func(t *testing.T) {
		r := NewRanker(pool)

		_, err := r.Page(rankReq("", 0, 10, ""))
		assert.ErrorIs(t, err, ErrBadRequest)

		_, err = r.Page(rankReq("s1", -1, 10, ""))
		assert.ErrorIs(t, err, ErrBadRequest)

		_, err = r.Page(rankReq("s1", 0, 0, ""))
		assert.ErrorIs(t, err, ErrBadRequest)

		_, err = r.Page(rankReq("s1", 0, 101, ""))
		assert.ErrorIs(t, err, ErrBadRequest)

		_, err = r.Page(rankReq("s1", 0, 10, "not-base64!"))
		assert.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("should_return_empty_page_past_the_end", func(t *testing.T) {
		r := NewRanker(SeedPool(5))
		resp, err := r.Page(rankReq("s1", 0, 5, ""))
		require.NoError(t, err)
		assert.Empty(t, resp.NextPageAfter)
		assert.Len(t, resp.Items, 5)
	})
}

func TestSeedPool(t *testing.T) {
	t.Run("should_produce_reusable_authors_and_stable_ids", func(t *testing.T) {
		pool := SeedPool(40)
		require.Len(t, pool, 40)

		authors := map[string]int{}
		videos := 0
		for _, p := range pool {
			require.NotEmpty(t, p.ID)
			require.NotEmpty(t, p.AuthorID)
			authors[p.AuthorID]++
			if p.MediaKind == domain.MediaVideo {
				videos++
				assert.NotEmpty(t, p.StreamingID)
			}
		}
		assert.Less(t, len(authors), 40, "authors must repeat")
		assert.Greater(t, videos, 0)
	})
}
