package repository

import (
	"context"
	"fmt"
)

// IncrementWindow bumps the fixed-window counter for (key, windowStart) in
// a single UPSERT, so concurrent callers on any service instance sharing
// the database each see a distinct post-increment count.
func (s *SQLiteDB) IncrementWindow(ctx context.Context, key string, windowStart int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_limits (key, window_start, count) VALUES (?, ?, 1)
		 ON CONFLICT(key, window_start) DO UPDATE SET count = count + 1
		 RETURNING count`,
		key, windowStart,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error incrementing rate window for %s: %w", key, err)
	}
	return count, nil
}

// PruneWindowsBefore drops counters for windows that already elapsed.
func (s *SQLiteDB) PruneWindowsBefore(ctx context.Context, cutoff int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_start < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("error pruning rate windows: %w", err)
	}
	return nil
}
