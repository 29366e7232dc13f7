// Package rankersim is a dev-grade implementation of the ranker and
// telemetry-sink contract the feed engine talks to. Rankings are kept
// per (session_id, refresh_nonce) so pages are deterministic and
// resumable within an epoch.
package rankersim

import (
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
)

var (
	ErrBadRequest     = errors.New("bad rank request")
	ErrCursorMismatch = errors.New("cursor does not match session and nonce")
)

type RankRequest struct {
	UserID          string    `json:"user_id"`
	PageSize        int       `json:"page_size"`
	PageAfter       string    `json:"page_after,omitempty"`
	SessionID       string    `json:"session_id"`
	SessionOpenedAt time.Time `json:"session_opened_at"`
	RefreshNonce    int64     `json:"refresh_nonce"`
	ForceRefresh    bool      `json:"force_refresh"`
}

type RankResponse struct {
	Items            []domain.PostCandidate `json:"items"`
	NextPageAfter    string                 `json:"next_page_after"`
	TotalCandidates  int                    `json:"total_candidates"`
	CacheHit         bool                   `json:"cache_hit"`
	UsedRefreshNonce int64                  `json:"used_refresh_nonce"`
}

// Ranker holds an in-memory candidate pool and one materialized ordering
// per (session, nonce) epoch.
type Ranker struct {
	mu       sync.Mutex
	pool     []domain.PostCandidate
	rankings map[string][]domain.PostCandidate
}

func NewRanker(pool []domain.PostCandidate) *Ranker {
	return &Ranker{
		pool:     pool,
		rankings: map[string][]domain.PostCandidate{},
	}
}

func epochKey(sessionID string, nonce int64) string {
	return sessionID + "|" + strconv.FormatInt(nonce, 10)
}

func (r *Ranker) Page(req RankRequest) (*RankResponse, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session_id", ErrBadRequest)
	}
	if req.RefreshNonce < 0 {
		return nil, fmt.Errorf("%w: negative refresh_nonce", ErrBadRequest)
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		return nil, fmt.Errorf("%w: page_size %d out of [1,100]", ErrBadRequest, req.PageSize)
	}

	offset := 0
	if req.PageAfter != "" {
		pos, sessionID, nonce, err := decodeCursor(req.PageAfter)
		if err != nil {
			return nil, err
		}
		if sessionID != req.SessionID || nonce != req.RefreshNonce {
			return nil, ErrCursorMismatch
		}
		offset = pos
	}

	key := epochKey(req.SessionID, req.RefreshNonce)

	r.mu.Lock()
	ranking, hit := r.rankings[key]
	if !hit || req.ForceRefresh {
		ranking = r.rankLocked(req.SessionID, req.SessionOpenedAt, req.RefreshNonce)
		r.rankings[key] = ranking
	}
	r.mu.Unlock()

	resp := &RankResponse{
		TotalCandidates:  len(ranking),
		CacheHit:         hit && !req.ForceRefresh,
		UsedRefreshNonce: req.RefreshNonce,
	}
	if offset >= len(ranking) {
		resp.Items = []domain.PostCandidate{}
		return resp, nil
	}

	end := offset + req.PageSize
	if end > len(ranking) {
		end = len(ranking)
	}
	resp.Items = ranking[offset:end]
	if end < len(ranking) {
		resp.NextPageAfter = encodeCursor(end, req.SessionID, req.RefreshNonce)
	}
	return resp, nil
}

// rankLocked produces a deterministic ordering seeded by the session epoch,
// so repeated pulls within an epoch resume the same ranking and a nonce
// bump recomputes it.
func (r *Ranker) rankLocked(sessionID string, openedAt time.Time, nonce int64) []domain.PostCandidate {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	h.Write([]byte(strconv.FormatInt(openedAt.UnixNano(), 10)))
	h.Write([]byte(strconv.FormatInt(nonce, 10)))

	out := make([]domain.PostCandidate, len(r.pool))
	copy(out, r.pool)
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	for i := range out {
		out[i].Score = 1.0 / float64(i+1)
	}
	return out
}

// Cursor format: pos|session_id|nonce, base64url. Opaque to clients.
func encodeCursor(pos int, sessionID string, nonce int64) string {
	s := fmt.Sprintf("%d|%s|%d", pos, sessionID, nonce)
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func decodeCursor(cursor string) (pos int, sessionID string, nonce int64, err error) {
	b, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", 0, fmt.Errorf("%w: undecodable cursor", ErrBadRequest)
	}
	parts := strings.Split(string(b), "|")
	if len(parts) != 3 {
		return 0, "", 0, fmt.Errorf("%w: malformed cursor", ErrBadRequest)
	}
	pos, err = strconv.Atoi(parts[0])
	if err != nil || pos < 0 {
		return 0, "", 0, fmt.Errorf("%w: malformed cursor position", ErrBadRequest)
	}
	nonce, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, "", 0, fmt.Errorf("%w: malformed cursor nonce", ErrBadRequest)
	}
	return pos, parts[1], nonce, nil
}

// SeedPool builds n synthetic video/image candidates. Authors repeat every
// few posts so the client-side diversity pass has something to do.
func SeedPool(n int) []domain.PostCandidate {
	now := time.Now().UTC()
	authors := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		authors = append(authors, "author-"+strconv.Itoa(i))
	}

	pool := make([]domain.PostCandidate, 0, n)
	for i := 0; i < n; i++ {
		kind := domain.MediaVideo
		if i%7 == 6 {
			kind = domain.MediaImage
		}
		id := uuid.NewString()
		p := domain.PostCandidate{
			ID:           id,
			AuthorID:     authors[i%len(authors)],
			CreatedAt:    now.Add(-time.Duration(i) * time.Minute),
			MediaKind:    kind,
			MediaURL:     "https://cdn.vroom.dev/media/" + id + ".mp4",
			ThumbnailURL: "https://cdn.vroom.dev/thumbs/" + id + ".jpg",
			LikeCount:    (i * 13) % 997,
			CommentCount: (i * 7) % 211,
			ViewCount:    (i * 131) % 10007,
		}
		if kind == domain.MediaVideo {
			p.StreamingID = "hls-" + id
		} else {
			p.MediaURL = "https://cdn.vroom.dev/media/" + id + ".jpg"
		}
		pool = append(pool, p)
	}
	return pool
}
