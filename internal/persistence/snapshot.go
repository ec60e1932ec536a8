package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
)

// snapshotFormat is bumped whenever core.SnapshotState changes shape.
const snapshotFormat = 1

// SnapshotManager stores engine snapshots and reads the command log back
// for warm and cold restarts.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists snap, replacing any snapshot at the same sequence.
// Returns the encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState, takenAt time.Time) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	hash, err := hex.DecodeString(snap.StateHash)
	if err != nil {
		return 0, fmt.Errorf("snapshot %d: decode state hash: %w", snap.Sequence, err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, created_at = $7
	`, uuid.New(), snap.Sequence, data, hash, snapshotFormat, len(data), takenAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. Returns nil
// without error on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormat {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified. Only verified snapshots are
// used for recovery.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadCommandsFrom loads up to limit logged commands starting at
// fromSequence, in order.
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.Envelope, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, kind, idempotency_key, caller, payload, outcome,
		       state_hash, prev_hash, timestamp
		FROM event_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []*event.Envelope
	for rows.Next() {
		var r CommandRow
		if err := rows.Scan(
			&r.Sequence, &r.Kind, &r.IdempotencyKey, &r.Caller, &r.Payload, &r.Outcome,
			&r.StateHash, &r.PrevHash, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		env, err := r.Envelope()
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

// GetLatestSequence returns the highest sequence in the command log, zero
// when it is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.commands
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Replayer is the part of the engine recovery needs.
type Replayer interface {
	RestoreFromSnapshot(snap *core.SnapshotState) error
	Replay(env *event.Envelope) error
	GetSequence() int64
}

// Recover restores the latest verified snapshot (if any) into eng, then
// replays the command log after it in pages. Returns the number of
// commands replayed.
func (sm *SnapshotManager) Recover(ctx context.Context, eng Replayer, pageSize int) (int, error) {
	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap != nil {
		if err := eng.RestoreFromSnapshot(snap); err != nil {
			return 0, err
		}
	}
	if pageSize <= 0 {
		pageSize = 1000
	}

	replayed := 0
	for {
		envs, err := sm.LoadCommandsFrom(ctx, eng.GetSequence(), pageSize)
		if err != nil {
			return replayed, fmt.Errorf("load commands from %d: %w", eng.GetSequence(), err)
		}
		for _, env := range envs {
			if err := eng.Replay(env); err != nil {
				return replayed, err
			}
			replayed++
		}
		if len(envs) < pageSize {
			return replayed, nil
		}
	}
}
