package diversity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
)

func post(id, author string) domain.FeedItem {
	return domain.PostItem(domain.PostCandidate{
		ID:        id,
		AuthorID:  author,
		MediaKind: domain.MediaVideo,
	})
}

func ids(items []domain.FeedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.Kind == domain.KindSponsored {
			out = append(out, "AD")
			continue
		}
		out = append(out, it.Post.ID)
	}
	return out
}

// assertSpacing verifies j - i >= minSpacing for every same-author pair.
func assertSpacing(t *testing.T, items []domain.FeedItem, minSpacing int) {
	t.Helper()
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i].AuthorID(), items[j].AuthorID()
			if a != "" && a == b {
				assert.GreaterOrEqual(t, j-i, minSpacing,
					"items %d and %d share author %s", i, j, a)
			}
		}
	}
}

func TestDiversify(t *testing.T) {
	t.Run("should_delay_same_author_items", func(t *testing.T) {
		// Cold-open page: p2 has to wait for p3 to clear the spacing rule.
		in := []domain.FeedItem{post("p1", "a"), post("p2", "a"), post("p3", "b"), post("p4", "a")}
		out, _ := Diversify(in, 2)
		assert.Equal(t, []string{"p1", "p3", "p2", "p4"}, ids(out))
	})

	t.Run("should_report_zero_forced_with_enough_authors", func(t *testing.T) {
		var in []domain.FeedItem
		for i := 0; i < 12; i++ {
			in = append(in, post(fmt.Sprintf("p%d", i), fmt.Sprintf("a%d", i%6)))
		}
		out, forced := Diversify(in, 3)
		assert.Equal(t, 0, forced)
		assert.Len(t, out, 12)
		assertSpacing(t, out, 3)
	})

	t.Run("should_count_deadlock_breaker_fires", func(t *testing.T) {
		// Single author: nothing can satisfy spacing after the first item.
		in := []domain.FeedItem{post("p1", "a"), post("p2", "a"), post("p3", "a")}
		out, forced := Diversify(in, 3)
		assert.Equal(t, []string{"p1", "p2", "p3"}, ids(out))
		assert.Equal(t, 2, forced)
	})

	t.Run("should_preserve_order_when_spacing_allows", func(t *testing.T) {
		in := []domain.FeedItem{post("p1", "a"), post("p2", "b"), post("p3", "c"), post("p4", "d")}
		out, forced := Diversify(in, 3)
		assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, ids(out))
		assert.Equal(t, 0, forced)
	})

	t.Run("should_return_empty_for_empty_input", func(t *testing.T) {
		out, forced := Diversify(nil, 3)
		assert.Empty(t, out)
		assert.Equal(t, 0, forced)
	})

	t.Run("should_be_noop_for_spacing_of_one", func(t *testing.T) {
		in := []domain.FeedItem{post("p1", "a"), post("p2", "a")}
		out, forced := Diversify(in, 1)
		assert.Equal(t, []string{"p1", "p2"}, ids(out))
		assert.Equal(t, 0, forced)
	})

	t.Run("should_never_block_on_items_without_author", func(t *testing.T) {
		in := []domain.FeedItem{post("p1", ""), post("p2", ""), post("p3", "a"), post("p4", "a")}
		out, _ := Diversify(in, 2)
		require.Len(t, out, 4)
		// authorless items keep their slots and never delay anyone
		assert.Equal(t, "p1", out[0].Post.ID)
		assert.Equal(t, "p2", out[1].Post.ID)
	})

	t.Run("should_not_mutate_input", func(t *testing.T) {
		in := []domain.FeedItem{post("p1", "a"), post("p2", "a"), post("p3", "b")}
		_, _ = Diversify(in, 2)
		assert.Equal(t, []string{"p1", "p2", "p3"}, ids(in))
	})
}

func TestInsertSponsored(t *testing.T) {
	t.Run("should_insert_marker_after_every_cadence_posts", func(t *testing.T) {
		var in []domain.FeedItem
		for i := 1; i <= 7; i++ {
			in = append(in, post(fmt.Sprintf("v%d", i), "a"))
		}
		out := InsertSponsored(in, 3)
		assert.Equal(t, []string{"v1", "v2", "v3", "AD", "v4", "v5", "v6", "AD", "v7"}, ids(out))
	})

	t.Run("should_place_markers_at_expected_positions", func(t *testing.T) {
		var in []domain.FeedItem
		for i := 0; i < 30; i++ {
			in = append(in, post(fmt.Sprintf("p%d", i), "a"))
		}
		cadence := 4
		out := InsertSponsored(in, cadence)

		var sponsoredAt []int
		for i, it := range out {
			if it.Kind == domain.KindSponsored {
				sponsoredAt = append(sponsoredAt, i)
			}
		}
		// positions c, 2c+1, 3c+2, ... accounting for earlier insertions
		for k, pos := range sponsoredAt {
			assert.Equal(t, (k+1)*cadence+k, pos)
		}
		// never adjacent
		for i := 1; i < len(out); i++ {
			if out[i].Kind == domain.KindSponsored {
				assert.NotEqual(t, domain.KindSponsored, out[i-1].Kind)
			}
		}
	})

	t.Run("should_generate_unique_marker_ids", func(t *testing.T) {
		var in []domain.FeedItem
		for i := 0; i < 10; i++ {
			in = append(in, post(fmt.Sprintf("p%d", i), "a"))
		}
		out := InsertSponsored(in, 2)
		seen := map[string]bool{}
		for _, it := range out {
			if it.Kind == domain.KindSponsored {
				assert.False(t, seen[it.SponsoredID])
				seen[it.SponsoredID] = true
			}
		}
	})

	t.Run("should_be_noop_for_zero_cadence", func(t *testing.T) {
		in := []domain.FeedItem{post("p1", "a"), post("p2", "b")}
		out := InsertSponsored(in, 0)
		assert.Equal(t, []string{"p1", "p2"}, ids(out))
	})

	t.Run("should_continue_cadence_across_pages", func(t *testing.T) {
		page1 := []domain.FeedItem{post("p1", "a"), post("p2", "b")}
		page2 := []domain.FeedItem{post("p3", "c"), post("p4", "d")}

		out1 := InsertSponsoredFrom(page1, 3, 0)
		out2 := InsertSponsoredFrom(page2, 3, 2)

		combined := append(out1, out2...)
		assert.Equal(t, []string{"p1", "p2", "p3", "AD", "p4"}, ids(combined))
	})
}
