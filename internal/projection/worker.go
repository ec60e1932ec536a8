package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/persistence"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/vault"
)

const watermarkName = "main"

// ProjectionWorker maintains the read model of locks, vault positions and
// account balances. The projection channel drops on overflow, so the
// read model is eventually consistent and can be rebuilt from the log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger.With().Str("component", "projection").Logger(),
	}
}

// Run applies outputs until ctx is cancelled or the channel closes.
// Outputs at or below the stored watermark are skipped, so replaying the
// log after a restart does not double-count balances.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Envelope == nil || output.Envelope.Sequence <= pw.lastSeq {
				continue
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, l := range output.Locks {
		if err := upsertLock(ctx, tx, l, seq); err != nil {
			return fmt.Errorf("lock projection: %w", err)
		}
	}
	pw.observe("locks", start)

	for _, p := range output.Positions {
		if err := upsertPosition(ctx, tx, p, seq); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}
	pw.observe("vault_positions", start)

	for _, j := range persistence.JournalRowsFromBatch(output.Batch) {
		if err := applyJournal(ctx, tx, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	pw.observe("balances", start)

	if err := storeWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return tx.Commit()
}

func (pw *ProjectionWorker) observe(table string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(table).Observe(time.Since(start).Seconds())
	}
}

func upsertLock(ctx context.Context, tx *sql.Tx, l *treasury.Lock, seq int64) error {
	var settledAt interface{}
	if l.State == treasury.LockSettled {
		settledAt = l.SettledAt.UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.locks
			(lock_id, holder, amount, premium, expiration, state, resolution, payout, created_at, settled_at, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8::NUMERIC, $9, $10, $11)
		ON CONFLICT (lock_id) DO UPDATE SET
			state = EXCLUDED.state,
			resolution = EXCLUDED.resolution,
			payout = EXCLUDED.payout,
			settled_at = EXCLUDED.settled_at,
			last_sequence = EXCLUDED.last_sequence
	`, int64(l.ID), string(l.Holder), l.Amount.String(), l.Premium.String(), l.Expiration.UTC(),
		l.State.String(), l.Resolution.String(), l.Payout.String(), l.CreatedAt.UTC(), settledAt, seq)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p vault.Position, seq int64) error {
	if p.Balance.Sign() == 0 && p.StartBalance.Sign() == 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM projections.vault_positions WHERE holder = $1`, string(p.Holder))
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_positions (holder, balance, start_balance, share, profit, last_sequence)
		VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
		ON CONFLICT (holder) DO UPDATE SET
			balance = EXCLUDED.balance,
			start_balance = EXCLUDED.start_balance,
			share = EXCLUDED.share,
			profit = EXCLUDED.profit,
			last_sequence = EXCLUDED.last_sequence
	`, string(p.Holder), p.Balance.String(), p.StartBalance.String(), p.Share.String(), p.Profit.String(), seq)
	return err
}

// applyJournal credits the debit account and debits the credit account:
// a journal moves Amount from CreditAccount to DebitAccount.
func applyJournal(ctx context.Context, tx *sql.Tx, j persistence.JournalRow) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + EXCLUDED.balance, last_sequence = $4
	`, j.DebitAccount, j.Asset, j.Amount, j.Sequence); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -($3::NUMERIC), $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + EXCLUDED.balance, last_sequence = $4
	`, j.CreditAccount, j.Asset, j.Amount, j.Sequence)
	return err
}

func storeWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE
			SET last_sequence = GREATEST(projections.watermark.last_sequence, EXCLUDED.last_sequence),
			    updated_at = NOW()
	`, watermarkName, seq)
	return err
}

// LoadWatermark returns the last projected sequence, zero if none.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = $1`, watermarkName,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// StateSource is the engine state a rebuild copies locks and positions from.
type StateSource interface {
	Locks(holder access.Address) []*treasury.Lock
	Positions() []vault.Position
	GetSequence() int64
}

// Rebuild replaces every projection table: locks and positions from the
// recovered engine state, balances from the journal. The watermark moves
// to the engine's last applied sequence.
func Rebuild(ctx context.Context, db *sql.DB, src StateSource, logger zerolog.Logger) error {
	seq := src.GetSequence() - 1

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`TRUNCATE projections.locks, projections.vault_positions, projections.balances`); err != nil {
		return fmt.Errorf("truncate projections: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM projections.watermark WHERE projection = $1`, watermarkName); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}

	locks := src.Locks(access.ZeroAddress)
	for _, l := range locks {
		if err := upsertLock(ctx, tx, l, seq); err != nil {
			return fmt.Errorf("rebuild locks: %w", err)
		}
	}
	positions := src.Positions()
	for _, p := range positions {
		if err := upsertPosition(ctx, tx, p, seq); err != nil {
			return fmt.Errorf("rebuild positions: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT account_path, asset, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset, amount AS delta, sequence
			FROM event_log.journal WHERE sequence <= $1
			UNION ALL
			SELECT credit_account, asset, -amount, sequence
			FROM event_log.journal WHERE sequence <= $1
		) AS legs
		GROUP BY account_path, asset
	`, seq)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if seq > 0 {
		if err := storeWatermark(ctx, tx, seq); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().
		Int64("sequence", seq).
		Int("locks", len(locks)).
		Int("positions", len(positions)).
		Msg("projections rebuilt")
	return nil
}
