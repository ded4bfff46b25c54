package ledger

import (
	"context"
	"fmt"
)

// migrations run in order; PRAGMA user_version tracks how many have applied.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id            INTEGER PRIMARY KEY,
		free_remaining     INTEGER NOT NULL DEFAULT 0 CHECK (free_remaining >= 0),
		tokens             INTEGER NOT NULL DEFAULT 0 CHECK (tokens >= 0),
		subscription_until TEXT,
		blocked_until      TEXT,
		total_conversions  INTEGER NOT NULL DEFAULT 0,
		referral_credits   INTEGER NOT NULL DEFAULT 0,
		referrer_id        INTEGER,
		payments           INTEGER NOT NULL DEFAULT 0,
		is_admin           INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	)`,
}

func (s *Store) applyMigrations(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("ledger: read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("ledger: apply migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("ledger: bump schema version: %w", err)
		}
	}
	return nil
}
