// Package feed composes the session controller, ranker fetcher, diversity
// pass, visibility coordinator and telemetry batcher into the endless
// personalized feed exposed to the UI.
package feed

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/vroomapp/vroom/services/feed-engine/internal/diversity"
	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
	"github.com/vroomapp/vroom/services/feed-engine/internal/metrics"
	"github.com/vroomapp/vroom/services/feed-engine/internal/ranker"
	"github.com/vroomapp/vroom/services/feed-engine/internal/session"
	"github.com/vroomapp/vroom/services/feed-engine/internal/visibility"
)

// Recorder is the slice of the telemetry batcher the controller needs.
type Recorder interface {
	RecordImpression(imp domain.Impression)
	RecordEngagement(sig domain.EngagementSignal)
}

type Options struct {
	PageSize             int
	MinSpacing           int
	SponsoredCadence     int
	PrefetchTailDistance int
	MaxTailBackoff       time.Duration
}

func (o *Options) defaults() {
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.MinSpacing == 0 {
		o.MinSpacing = 3
	}
	if o.SponsoredCadence == 0 {
		o.SponsoredCadence = 10
	}
	if o.PrefetchTailDistance == 0 {
		o.PrefetchTailDistance = 3
	}
	if o.MaxTailBackoff <= 0 {
		o.MaxTailBackoff = 30 * time.Second
	}
}

// Controller owns the item buffer and the session. All buffer mutations
// happen under its lock; late ranker responses are discarded by comparing
// their (session_id, refresh_nonce) to the current session rather than by
// aborting sockets.
type Controller struct {
	opts     Options
	sessions *session.Controller
	fetcher  ranker.Fetcher
	recorder Recorder
	coord    *visibility.Coordinator

	mu             sync.Mutex
	userID         string
	items          []domain.FeedItem
	postCount      int // non-sponsored items emitted, keeps cadence continuous
	cursor         string
	endReached     bool
	loading        bool
	refreshing     bool
	err            error
	tailInFlight   bool
	tailFailStreak int
	retryTimer     *time.Timer
	closed         bool
}

func NewController(sessions *session.Controller, fetcher ranker.Fetcher, recorder Recorder, coord *visibility.Coordinator, opts Options) *Controller {
	opts.defaults()
	return &Controller{
		opts:     opts,
		sessions: sessions,
		fetcher:  fetcher,
		recorder: recorder,
		coord:    coord,
	}
}

// Items returns a snapshot of the buffer.
func (c *Controller) Items() []domain.FeedItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.FeedItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Controller) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ResetAndLoadFresh opens a new session, discards the buffer and loads the
// head page. Used on app open and tab re-focus.
func (c *Controller) ResetAndLoadFresh(ctx context.Context, userID string) error {
	sess := c.sessions.Open(userID, true)
	if c.coord != nil {
		c.coord.BindSession(userID, sess.ID)
	}

	c.mu.Lock()
	c.userID = userID
	c.items = nil
	c.postCount = 0
	c.cursor = ""
	c.endReached = false
	c.loading = true
	c.err = nil
	c.tailFailStreak = 0
	c.stopRetryLocked()
	c.mu.Unlock()

	err := c.loadHead(ctx, sess, false)

	c.mu.Lock()
	c.loading = false
	c.mu.Unlock()
	return err
}

// RefreshNewer bumps the refresh nonce and replaces the buffer with a fresh
// head page. A failed head fetch leaves the prior buffer intact. Any tail
// response still in flight under the old nonce is discarded on arrival.
func (c *Controller) RefreshNewer(ctx context.Context) error {
	if _, err := c.sessions.BumpRefresh(); err != nil {
		return err
	}
	sess, err := c.sessions.Current()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.refreshing = true
	c.err = nil
	c.tailFailStreak = 0
	c.stopRetryLocked()
	c.mu.Unlock()

	err = c.loadHead(ctx, sess, true)

	c.mu.Lock()
	c.refreshing = false
	c.mu.Unlock()
	return err
}

// loadHead fetches the first page of (session, nonce) and replaces the
// buffer if the session is still current. Network and ranker faults get one
// retry before surfacing; session expiry reopens once.
func (c *Controller) loadHead(ctx context.Context, sess domain.Session, force bool) error {
	page, used, err := c.fetchRecovering(ctx, sess, "", force)
	if err != nil && (domain.IsCode(err, domain.CodeNetwork) || domain.IsCode(err, domain.CodeRanker)) {
		page, used, err = c.fetchRecovering(ctx, used, "", force)
	}
	if err != nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		return err
	}
	processed, forced := diversity.Diversify(postItems(page.Items), c.opts.MinSpacing)
	processed = diversity.InsertSponsoredFrom(processed, c.opts.SponsoredCadence, 0)

	c.mu.Lock()
	if !c.pageCurrent(used, page) {
		c.mu.Unlock()
		metrics.StalePagesDropped.Inc()
		return nil
	}
	if forced > 0 {
		metrics.DiversityForced.Add(float64(forced))
	}
	c.items = processed
	c.postCount = len(page.Items)
	c.cursor = page.NextCursor
	c.endReached = page.NextCursor == ""
	c.err = nil
	c.mu.Unlock()
	return nil
}

// LoadOlder fetches the next page at the current cursor and appends it.
// Failures keep the buffer and schedule a capped exponential retry.
func (c *Controller) LoadOlder(ctx context.Context) error {
	sess, err := c.sessions.Current()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.tailInFlight || c.endReached || c.closed {
		c.mu.Unlock()
		return nil
	}
	cursor := c.cursor
	c.tailInFlight = true
	c.mu.Unlock()

	page, used, err := c.fetchRecovering(ctx, sess, cursor, false)

	c.mu.Lock()
	c.tailInFlight = false
	c.mu.Unlock()

	if err != nil {
		c.scheduleTailRetry()
		zlog.Warn().Err(err).Msg("tail fetch failed")
		return err
	}
	processed, forced := diversity.Diversify(postItems(page.Items), c.opts.MinSpacing)

	c.mu.Lock()
	if !c.pageCurrent(used, page) {
		c.mu.Unlock()
		metrics.StalePagesDropped.Inc()
		return nil
	}
	if forced > 0 {
		metrics.DiversityForced.Add(float64(forced))
	}
	if used.ID != sess.ID {
		// Session was reopened mid-flight; the recovered page is a fresh
		// head, not a continuation.
		c.items = nil
		c.postCount = 0
	}
	processed = diversity.InsertSponsoredFrom(processed, c.opts.SponsoredCadence, c.postCount)
	c.items = append(c.items, processed...)
	c.postCount += len(page.Items)
	c.cursor = page.NextCursor
	c.endReached = page.NextCursor == ""
	c.tailFailStreak = 0
	c.mu.Unlock()
	return nil
}

// fetchRecovering performs one ranker call, transparently reopening the
// session and retrying once on expiry. A second expiry surfaces as a ranker
// error. It returns the session the page was fetched under.
func (c *Controller) fetchRecovering(ctx context.Context, sess domain.Session, cursor string, force bool) (*ranker.Page, domain.Session, error) {
	page, err := c.fetcher.FetchPage(ctx, ranker.PageRequest{
		UserID:       sess.UserID,
		PageSize:     c.opts.PageSize,
		CursorAfter:  cursor,
		ForceRefresh: force,
		Session:      sess,
	})
	if err == nil {
		return page, sess, nil
	}
	if !domain.IsCode(err, domain.CodeSessionExpired) {
		return nil, sess, err
	}

	// Reopen and retry once. The old cursor is meaningless under the new
	// session, so recovery always restarts at the head.
	fresh := c.sessions.Open(sess.UserID, true)
	if c.coord != nil {
		c.coord.BindSession(sess.UserID, fresh.ID)
	}
	page, err = c.fetcher.FetchPage(ctx, ranker.PageRequest{
		UserID:       fresh.UserID,
		PageSize:     c.opts.PageSize,
		ForceRefresh: force,
		Session:      fresh,
	})
	if err != nil {
		if domain.IsCode(err, domain.CodeSessionExpired) {
			return nil, fresh, domain.ErrRanker("session rejected twice: " + err.Error())
		}
		return nil, fresh, err
	}
	return page, fresh, nil
}

// pageCurrent reports whether a response fetched under sess may still
// mutate the buffer: the session must be unchanged and the nonce the ranker
// applied must match the current one. Callers hold c.mu so the check and
// the buffer mutation are atomic against a concurrent refresh.
func (c *Controller) pageCurrent(sess domain.Session, page *ranker.Page) bool {
	cur, err := c.sessions.Current()
	if err != nil {
		return false
	}
	return cur.ID == sess.ID && cur.RefreshNonce == sess.RefreshNonce &&
		page.UsedRefreshNonce == cur.RefreshNonce
}

// OnViewable forwards viewability to the coordinator and prefetches the
// tail when the active item gets within PrefetchTailDistance posts of the
// buffer end. Sponsored markers do not count toward the distance.
func (c *Controller) OnViewable(viewable []visibility.Viewable) {
	if c.coord == nil {
		return
	}
	c.coord.OnViewable(viewable)

	active := c.coord.ActiveIndex()
	if active < 0 {
		return
	}

	c.mu.Lock()
	remaining := 0
	for i := active + 1; i < len(c.items); i++ {
		if c.items[i].Kind == domain.KindPost {
			remaining++
		}
	}
	trigger := remaining < c.opts.PrefetchTailDistance && !c.endReached && !c.tailInFlight && !c.closed
	c.mu.Unlock()

	if trigger {
		go func() {
			_ = c.LoadOlder(context.Background())
		}()
	}
}

// RecordEngagement enqueues an engagement signal. The optimistic data write
// itself lives outside the engine; this record is advisory to the ranker
// and never blocks the UI.
func (c *Controller) RecordEngagement(postID string, t domain.SignalType, strength float64) error {
	if !domain.ValidSignal(t) {
		return domain.ErrInvalidConfig("unknown signal type " + string(t))
	}
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}
	sess, err := c.sessions.Current()
	if err != nil {
		return err
	}
	c.recorder.RecordEngagement(domain.EngagementSignal{
		UserID:     sess.UserID,
		PostID:     postID,
		SignalType: t,
		Strength:   strength,
	})
	return nil
}

func (c *Controller) scheduleTailRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.tailFailStreak++
	delay := time.Second
	for i := 1; i < c.tailFailStreak; i++ {
		delay *= 2
		if delay >= c.opts.MaxTailBackoff {
			delay = c.opts.MaxTailBackoff
			break
		}
	}
	c.stopRetryLocked()
	c.retryTimer = time.AfterFunc(delay, func() {
		_ = c.LoadOlder(context.Background())
	})
}

func (c *Controller) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// Close finalizes open watch intervals and stops pending retries. The
// telemetry batcher is owned and closed by the caller.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopRetryLocked()
	c.mu.Unlock()
	if c.coord != nil {
		c.coord.Close()
	}
}

func postItems(posts []domain.PostCandidate) []domain.FeedItem {
	out := make([]domain.FeedItem, 0, len(posts))
	for _, p := range posts {
		out = append(out, domain.PostItem(p))
	}
	return out
}
