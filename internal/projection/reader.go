package projection

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LockRow is one row of projections.locks. Amounts are base-unit decimal
// strings as stored.
type LockRow struct {
	ID           uint64     `json:"lock_id"`
	Holder       string     `json:"holder"`
	Amount       string     `json:"amount"`
	Premium      string     `json:"premium"`
	Expiration   time.Time  `json:"expiration"`
	State        string     `json:"state"`
	Resolution   string     `json:"resolution"`
	Payout       string     `json:"payout"`
	CreatedAt    time.Time  `json:"created_at"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	LastSequence int64      `json:"last_sequence"`
}

// Reader serves the projection tables.
type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// LockHistory returns holder's locks, newest first. state filters by
// "active" or "settled" when non-empty.
func (r *Reader) LockHistory(ctx context.Context, holder, state string, limit int) ([]LockRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT lock_id, holder, amount::TEXT, premium::TEXT, expiration, state, resolution,
		       payout::TEXT, created_at, settled_at, last_sequence
		FROM projections.locks
		WHERE holder = $1 AND ($2 = '' OR state = $2)
		ORDER BY lock_id DESC
		LIMIT $3
	`, holder, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LockRow
	for rows.Next() {
		var (
			l       LockRow
			id      int64
			settled sql.NullTime
		)
		if err := rows.Scan(&id, &l.Holder, &l.Amount, &l.Premium, &l.Expiration, &l.State,
			&l.Resolution, &l.Payout, &l.CreatedAt, &settled, &l.LastSequence); err != nil {
			return nil, err
		}
		l.ID = uint64(id)
		if settled.Valid {
			t := settled.Time
			l.SettledAt = &t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Watermark is the last sequence reflected in the projection tables.
func (r *Reader) Watermark(ctx context.Context) (int64, error) {
	seq, err := LoadWatermark(ctx, r.db)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
