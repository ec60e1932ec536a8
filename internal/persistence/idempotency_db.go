package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
)

// PostgresIdempotencyChecker is the second dedup tier, consulted when a key
// has fallen out of the engine's LRU.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks whether a command with this kind and key was logged.
func (pic *PostgresIdempotencyChecker) IsDuplicate(kind string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.commands
		WHERE kind = $1 AND idempotency_key = $2
		LIMIT 1
	`, kind, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the composite keys of the last limit logged commands,
// oldest first, for warming the engine's LRU after a restart.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT kind, idempotency_key
		FROM (
			SELECT sequence, kind, idempotency_key
			FROM event_log.commands
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, limit)
	for rows.Next() {
		var kind, key string
		if err := rows.Scan(&kind, &key); err != nil {
			return nil, err
		}
		keys = append(keys, core.CompositeKey(kind, key))
	}
	return keys, rows.Err()
}
