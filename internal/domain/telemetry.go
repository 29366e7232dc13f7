package domain

import "time"

type ImpressionSource string

const (
	SourcePersonalized ImpressionSource = "personalized"
	SourceFollowing    ImpressionSource = "following"
	SourceSearch       ImpressionSource = "search"
	SourceProfile      ImpressionSource = "profile"
)

// Impression records that a post was visible to a user for a measured
// duration. The sink deduplicates by (session_id, post_id, visible_at).
type Impression struct {
	UserID        string           `json:"user_id"`
	PostID        string           `json:"post_id"`
	SessionID     string           `json:"session_id"`
	Source        ImpressionSource `json:"source"`
	VisibleAt     time.Time        `json:"visible_at"`
	WatchDuration int64            `json:"watch_duration_ms"`
	Score         float64          `json:"score,omitempty"`
}

type SignalType string

const (
	SignalLike          SignalType = "like"
	SignalUnlike        SignalType = "unlike"
	SignalCommentOpen   SignalType = "comment_open"
	SignalCommentSubmit SignalType = "comment_submit"
	SignalShare         SignalType = "share"
	SignalSave          SignalType = "save"
	SignalUnsave        SignalType = "unsave"
	SignalFollowAuthor  SignalType = "follow_author"
	SignalSkip          SignalType = "skip"
)

// ValidSignal reports whether t belongs to the closed signal set.
func ValidSignal(t SignalType) bool {
	switch t {
	case SignalLike, SignalUnlike, SignalCommentOpen, SignalCommentSubmit,
		SignalShare, SignalSave, SignalUnsave, SignalFollowAuthor, SignalSkip:
		return true
	}
	return false
}

// EngagementSignal is a lightweight action hint fed back to the ranker.
// Strength is in [0,1].
type EngagementSignal struct {
	UserID     string     `json:"user_id"`
	PostID     string     `json:"post_id"`
	SignalType SignalType `json:"signal_type"`
	Strength   float64    `json:"signal_strength"`
}
