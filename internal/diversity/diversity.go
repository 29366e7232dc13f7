// Package diversity post-processes one ranked page: it spaces out items
// sharing an author and layers sponsored markers at a fixed visual cadence.
package diversity

import (
	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
)

// Diversify reorders items so any two entries with the same author end up at
// least minSpacing positions apart. Relative input order is preserved
// wherever the spacing rule does not force a swap; first-input wins ties.
//
// When no pending item satisfies spacing, the head of pending is appended
// unconditionally so the pass always terminates. The returned forced count
// is the number of such appends; it is 0 whenever the page carries enough
// distinct authors.
func Diversify(items []domain.FeedItem, minSpacing int) ([]domain.FeedItem, int) {
	if len(items) == 0 {
		return []domain.FeedItem{}, 0
	}
	if minSpacing <= 1 {
		out := make([]domain.FeedItem, len(items))
		copy(out, items)
		return out, 0
	}

	pending := make([]domain.FeedItem, len(items))
	copy(pending, items)

	out := make([]domain.FeedItem, 0, len(items))
	lastPos := make(map[string]int, len(items))
	forced := 0

	for len(pending) > 0 {
		pos := len(out)
		picked := -1
		for i, it := range pending {
			author := it.AuthorID()
			if author == "" {
				picked = i
				break
			}
			last, seen := lastPos[author]
			if !seen || pos-last >= minSpacing {
				picked = i
				break
			}
		}
		if picked == -1 {
			// Deadlock breaker: nothing satisfies spacing.
			picked = 0
			forced++
		}

		it := pending[picked]
		pending = append(pending[:picked], pending[picked+1:]...)
		out = append(out, it)
		if a := it.AuthorID(); a != "" {
			lastPos[a] = pos
		}
	}

	return out, forced
}

// InsertSponsored emits a sponsored marker after every cadence-th
// non-sponsored item. Cadence is visual: markers are layered onto the
// already-diversified sequence and never participate in spacing.
func InsertSponsored(items []domain.FeedItem, cadence int) []domain.FeedItem {
	return InsertSponsoredFrom(items, cadence, 0)
}

// InsertSponsoredFrom behaves like InsertSponsored but resumes counting at
// seen non-sponsored items, so cadence stays continuous across appended
// pages.
func InsertSponsoredFrom(items []domain.FeedItem, cadence, seen int) []domain.FeedItem {
	if cadence <= 0 || len(items) == 0 {
		out := make([]domain.FeedItem, len(items))
		copy(out, items)
		return out
	}

	out := make([]domain.FeedItem, 0, len(items)+len(items)/cadence+1)
	count := seen
	for _, it := range items {
		out = append(out, it)
		if it.Kind == domain.KindSponsored {
			continue
		}
		count++
		if count%cadence == 0 {
			out = append(out, domain.SponsoredItem())
		}
	}
	return out
}

// CountPosts returns the number of non-sponsored items in items.
func CountPosts(items []domain.FeedItem) int {
	n := 0
	for _, it := range items {
		if it.Kind == domain.KindPost {
			n++
		}
	}
	return n
}
