package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Controller owns the current feed session and its refresh epochs. The
// ranker keys its authoritative ordering on (session_id, opened_at,
// refresh_nonce), so both values are attached to every request.
type Controller struct {
	mu    sync.Mutex
	clock Clock
	cur   *domain.Session
}

func New(clock Clock) *Controller {
	if clock == nil {
		clock = systemClock{}
	}
	return &Controller{clock: clock}
}

// Open returns the current session, creating a fresh one when none exists,
// when force is set, or when the user changed. OpenedAt is set exactly once
// per session and the refresh nonce restarts at 0.
func (c *Controller) Open(userID string, force bool) domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil && !force && c.cur.UserID == userID {
		return *c.cur
	}
	c.cur = &domain.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		OpenedAt:     c.clock.Now(),
		RefreshNonce: 0,
	}
	return *c.cur
}

// BumpRefresh increments the refresh nonce and returns the new value.
func (c *Controller) BumpRefresh() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return 0, domain.ErrNoSession("bump refresh before open")
	}
	c.cur.RefreshNonce++
	return c.cur.RefreshNonce, nil
}

func (c *Controller) Current() (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return domain.Session{}, domain.ErrNoSession("no open session")
	}
	return *c.cur, nil
}
