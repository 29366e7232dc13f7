package ranker

import (
	"context"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
)

// PageRequest carries everything one ranker call needs. CursorAfter must be
// empty for the first page of a (session, nonce) tuple.
type PageRequest struct {
	UserID       string
	PageSize     int
	CursorAfter  string
	ForceRefresh bool
	Session      domain.Session
}

// Page is one normalized ranker response. NextCursor == "" means "end for
// now". UsedRefreshNonce echoes the nonce the ranker actually applied.
type Page struct {
	Items            []domain.PostCandidate
	NextCursor       string
	TotalCandidates  int
	CacheHit         bool
	UsedRefreshNonce int64
}

// Fetcher is the feed controller's view of the remote ranker.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}
