package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// InsertImpressions appends a batch to the impression log. Rows conflicting
// on the (session_id, post_id, visible_at) idempotency key are skipped.
func (r *Repo) InsertImpressions(ctx context.Context, imps []domain.Impression) error {
	if len(imps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, imp := range imps {
		batch.Queue(`
			INSERT INTO impressions (user_id, post_id, session_id, source, visible_at, watch_duration_ms, score)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, post_id, visible_at) DO NOTHING
		`, imp.UserID, imp.PostID, imp.SessionID, string(imp.Source), imp.VisibleAt, imp.WatchDuration, imp.Score)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range imps {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) InsertEngagements(ctx context.Context, sigs []domain.EngagementSignal) error {
	if len(sigs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sig := range sigs {
		batch.Queue(`
			INSERT INTO engagement_signals (user_id, post_id, signal_type, signal_strength)
			VALUES ($1, $2, $3, $4)
		`, sig.UserID, sig.PostID, string(sig.SignalType), sig.Strength)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range sigs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
