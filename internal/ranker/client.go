// Package ranker exchanges session state and cursors with the remote
// ranker. The client never constructs ranks; pagination is cursor based.
package ranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
)

type rankRequest struct {
	UserID          string    `json:"user_id"`
	PageSize        int       `json:"page_size"`
	PageAfter       string    `json:"page_after,omitempty"`
	SessionID       string    `json:"session_id"`
	SessionOpenedAt time.Time `json:"session_opened_at"`
	RefreshNonce    int64     `json:"refresh_nonce"`
	ForceRefresh    bool      `json:"force_refresh"`
}

type rankResponse struct {
	Items            []domain.PostCandidate `json:"items"`
	NextPageAfter    string                 `json:"next_page_after"`
	TotalCandidates  int                    `json:"total_candidates"`
	CacheHit         bool                   `json:"cache_hit"`
	UsedRefreshNonce int64                  `json:"used_refresh_nonce"`
}

type cursorOrigin struct {
	sessionID string
	nonce     int64
}

type Client struct {
	base      string
	authToken string
	deadline  time.Duration
	http      *http.Client

	mu sync.Mutex
	// origins remembers which (session, nonce) produced each cursor so a
	// mismatched triple is refused before it reaches the wire.
	origins map[string]cursorOrigin
}

type Option func(*Client)

func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

func WithDeadline(d time.Duration) Option {
	return func(c *Client) { c.deadline = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:     baseURL,
		deadline: 10 * time.Second,
		http:     &http.Client{},
		origins:  map[string]cursorOrigin{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if req.PageSize < 1 || req.PageSize > 100 {
		return nil, domain.ErrInvalidConfig(fmt.Sprintf("page size %d out of [1,100]", req.PageSize))
	}
	if err := c.checkCursor(req); err != nil {
		return nil, err
	}

	body := rankRequest{
		UserID:          req.UserID,
		PageSize:        req.PageSize,
		PageAfter:       req.CursorAfter,
		SessionID:       req.Session.ID,
		SessionOpenedAt: req.Session.OpenedAt,
		RefreshNonce:    req.Session.RefreshNonce,
		ForceRefresh:    req.ForceRefresh,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, domain.ErrRanker("encode request: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/feed", bytes.NewReader(payload))
	if err != nil {
		return nil, domain.ErrRanker("build request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, domain.ErrNetwork(err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, domain.ErrSessionExpired(fmt.Sprintf("ranker rejected session: status %d", resp.StatusCode))
	default:
		return nil, domain.ErrRanker(fmt.Sprintf("ranker fault: status %d", resp.StatusCode))
	}

	var rr rankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, domain.ErrRanker("decode response: " + err.Error())
	}

	page := &Page{
		Items:            rr.Items,
		NextCursor:       rr.NextPageAfter,
		TotalCandidates:  rr.TotalCandidates,
		CacheHit:         rr.CacheHit,
		UsedRefreshNonce: rr.UsedRefreshNonce,
	}
	c.rememberCursor(page.NextCursor, req.Session.ID, rr.UsedRefreshNonce)
	return page, nil
}

// checkCursor refuses a request whose cursor was not produced under the
// request's (session, nonce). A cursor is only meaningful with the session
// and nonce that produced it.
func (c *Client) checkCursor(req PageRequest) error {
	if req.CursorAfter == "" {
		return nil
	}
	c.mu.Lock()
	origin, ok := c.origins[req.CursorAfter]
	c.mu.Unlock()
	if !ok {
		return domain.ErrSessionExpired("cursor of unknown origin")
	}
	if origin.sessionID != req.Session.ID || origin.nonce != req.Session.RefreshNonce {
		return domain.ErrSessionExpired("cursor issued under a different session or refresh nonce")
	}
	return nil
}

func (c *Client) rememberCursor(cursor, sessionID string, nonce int64) {
	if cursor == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// A new (session, nonce) invalidates every earlier cursor.
	for k, o := range c.origins {
		if o.sessionID != sessionID || o.nonce != nonce {
			delete(c.origins, k)
		}
	}
	c.origins[cursor] = cursorOrigin{sessionID: sessionID, nonce: nonce}
}
