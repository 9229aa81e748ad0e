package store

import (
	"context"
	"fmt"
)

type CompactionResult struct {
	DuplicateEventsRemoved int64
}

// CompactEvents removes legacy duplicate reconstructed rows. Early versions
// wrote transcript-derived events without a uuid, so repeated runs could stack
// identical rows; per (session, start second) the best row is kept, preferring
// uuid-bearing and live-captured rows.
func (s *Store) CompactEvents(ctx context.Context) (CompactionResult, error) {
	if s == nil || s.db == nil {
		return CompactionResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CompactionResult{}, fmt.Errorf("store: compact begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM usage_events
		WHERE id IN (
			WITH ranked AS (
				SELECT
					id,
					ROW_NUMBER() OVER (
						PARTITION BY session_id, strftime('%Y-%m-%dT%H:%M:%S', start_time)
						ORDER BY
							CASE WHEN uuid IS NOT NULL THEN 1 ELSE 0 END DESC,
							CASE WHEN maestro_cost_usd IS NOT NULL THEN 1 ELSE 0 END DESC,
							id DESC
					) AS rn
				FROM usage_events
				WHERE is_reconstructed = 1
			)
			SELECT id FROM ranked WHERE rn > 1
		)
	`)
	if err != nil {
		return CompactionResult{}, fmt.Errorf("store: compact delete duplicates: %w", err)
	}
	removed, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return CompactionResult{}, fmt.Errorf("store: compact commit tx: %w", err)
	}
	return CompactionResult{DuplicateEventsRemoved: removed}, nil
}
