package domain

import (
	"time"

	"github.com/google/uuid"
)

type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

// PostCandidate is one ranked post as returned by the ranker. Once buffered
// it is immutable; live counters are a rendering concern.
type PostCandidate struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	CreatedAt    time.Time `json:"created_at"`
	MediaKind    MediaKind `json:"media_kind"`
	MediaURL     string    `json:"media_url"`
	StreamingID  string    `json:"streaming_id,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	ViewCount    int       `json:"view_count"`
	Score        float64   `json:"score,omitempty"`
}

type ItemKind string

const (
	KindPost      ItemKind = "post"
	KindSponsored ItemKind = "sponsored"
)

// FeedItem is one visual slot: either a post candidate or a sponsored marker.
// Sponsored markers have a locally generated id, no author, and are skipped
// by diversity spacing and post-level telemetry.
type FeedItem struct {
	Kind        ItemKind       `json:"kind"`
	Post        *PostCandidate `json:"post,omitempty"`
	SponsoredID string         `json:"sponsored_id,omitempty"`
}

func PostItem(p PostCandidate) FeedItem {
	return FeedItem{Kind: KindPost, Post: &p}
}

func SponsoredItem() FeedItem {
	return FeedItem{Kind: KindSponsored, SponsoredID: "sp-" + uuid.NewString()}
}

// AuthorID returns the post author, or "" for sponsored markers and posts
// without an author. Empty authors never block diversity spacing.
func (it FeedItem) AuthorID() string {
	if it.Kind != KindPost || it.Post == nil {
		return ""
	}
	return it.Post.AuthorID
}

// PostID returns the post id, or "" for sponsored markers.
func (it FeedItem) PostID() string {
	if it.Kind != KindPost || it.Post == nil {
		return ""
	}
	return it.Post.ID
}
