// Package visibility maps viewability reports from the paging list onto a
// single active video and per-post watch intervals.
package visibility

import (
	"sync"
	"time"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
	"github.com/vroomapp/vroom/services/feed-engine/internal/metrics"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Recorder receives finalized impressions. Satisfied by the telemetry
// batcher.
type Recorder interface {
	RecordImpression(imp domain.Impression)
}

// Viewable is one list entry currently reported by the pager, with the
// fraction of its area on screen.
type Viewable struct {
	Index    int
	Item     domain.FeedItem
	Fraction float64
}

// Coordinator selects at most one active video among the viewable items and
// tracks one watch interval per visible post. An impression is finalized
// when a post's continuous visibility interval ends: on scroll-out, on
// active change, on blur, and on teardown.
type Coordinator struct {
	mu        sync.Mutex
	clock     Clock
	threshold float64
	recorder  Recorder

	userID    string
	sessionID string
	focused   bool

	activeIndex  int
	activePostID string

	// viewStart holds the interval start per visible post id.
	viewStart map[string]time.Time
	// score per visible post, carried onto the impression.
	scores map[string]float64
}

func New(recorder Recorder, threshold float64, clock Clock) *Coordinator {
	if clock == nil {
		clock = systemClock{}
	}
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Coordinator{
		clock:       clock,
		threshold:   threshold,
		recorder:    recorder,
		focused:     true,
		activeIndex: -1,
		viewStart:   map[string]time.Time{},
		scores:      map[string]float64{},
	}
}

// BindSession attaches the owning user and session to subsequent
// impressions. Any open intervals from a previous session are finalized
// first.
func (c *Coordinator) BindSession(userID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finalizeAllLocked()
	c.userID = userID
	c.sessionID = sessionID
}

// ActiveIndex returns the index of the playing item, or -1.
func (c *Coordinator) ActiveIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeIndex
}

func (c *Coordinator) ActivePostID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activePostID
}

// OnViewable ingests the pager's current viewability report. Items below
// the threshold are treated as not visible at all; an item that never
// crosses the threshold emits no impression.
func (c *Coordinator) OnViewable(viewable []Viewable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.focused {
		return
	}

	now := c.clock.Now()
	visible := map[string]bool{}

	nextActiveIndex := -1
	nextActivePostID := ""

	for _, v := range viewable {
		if v.Fraction < c.threshold {
			continue
		}
		if v.Item.Kind != domain.KindPost || v.Item.Post == nil {
			// Sponsored markers occupy a slot but are never a telemetry
			// target.
			continue
		}
		id := v.Item.Post.ID
		visible[id] = true
		if _, ok := c.viewStart[id]; !ok {
			c.viewStart[id] = now
			c.scores[id] = v.Item.Post.Score
		}
		if nextActiveIndex == -1 && v.Item.Post.MediaKind == domain.MediaVideo {
			nextActiveIndex = v.Index
			nextActivePostID = id
		}
	}

	// Close intervals for posts that dropped below the threshold.
	for id, start := range c.viewStart {
		if !visible[id] {
			c.emitLocked(id, start, now)
			delete(c.viewStart, id)
			delete(c.scores, id)
		}
	}

	c.activeIndex = nextActiveIndex
	c.activePostID = nextActivePostID
}

// Blur finalizes every open interval and stops playback; no new timer
// starts until Focus.
func (c *Coordinator) Blur() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finalizeAllLocked()
	c.focused = false
}

func (c *Coordinator) Focus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused = true
}

// Close finalizes every open interval. Used on controller teardown.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalizeAllLocked()
}

func (c *Coordinator) finalizeAllLocked() {
	now := c.clock.Now()
	for id, start := range c.viewStart {
		c.emitLocked(id, start, now)
	}
	c.viewStart = map[string]time.Time{}
	c.scores = map[string]float64{}
	c.activeIndex = -1
	c.activePostID = ""
}

func (c *Coordinator) emitLocked(postID string, start, end time.Time) {
	dur := end.Sub(start).Milliseconds()
	if dur < 0 {
		// Wall clock jumped backwards mid-interval.
		dur = 0
	}
	imp := domain.Impression{
		UserID:        c.userID,
		PostID:        postID,
		SessionID:     c.sessionID,
		Source:        domain.SourcePersonalized,
		VisibleAt:     start,
		WatchDuration: dur,
		Score:         c.scores[postID],
	}
	metrics.ImpressionsEmitted.Inc()
	if c.recorder != nil {
		c.recorder.RecordImpression(imp)
	}
}
