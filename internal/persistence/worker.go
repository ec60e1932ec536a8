package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends on that channel with a blocking send, so a slow worker
// stalls the engine rather than losing a command.
type PersistenceWorker struct {
	writer       *CommandLogWriter
	db           *sql.DB
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 256
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &PersistenceWorker{
		writer:       NewCommandLogWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger.With().Str("component", "persistence").Logger(),
	}
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	cmdBatch := make([]CommandRow, 0, pw.batchSize)
	journalBatch := make([]JournalRow, 0, pw.batchSize*2)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	reset := func() {
		cmdBatch = cmdBatch[:0]
		journalBatch = journalBatch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			if len(cmdBatch) > 0 {
				if err := pw.flush(context.Background(), cmdBatch, journalBatch); err != nil {
					pw.logger.Error().Err(err).Int("commands", len(cmdBatch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(cmdBatch) > 0 {
					if err := pw.flush(context.Background(), cmdBatch, journalBatch); err != nil {
						pw.logger.Error().Err(err).Int("commands", len(cmdBatch)).Msg("final flush failed")
					}
				}
				return nil
			}
			if output.Envelope == nil {
				continue
			}

			cmdBatch = append(cmdBatch, CommandRowFromEnvelope(output.Envelope))
			journalBatch = append(journalBatch, JournalRowsFromBatch(output.Batch)...)

			if len(cmdBatch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, cmdBatch, journalBatch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(cmdBatch) > 0 {
				if err := pw.flushWithRetry(ctx, cmdBatch, journalBatch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, commands []CommandRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("commands", len(commands)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), commands, journals)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, commands, journals)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}

		pw.logger.Warn().Err(err).Msg("persistence flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, commands []CommandRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteCommandBatch(ctx, tx, commands); err != nil {
		pw.countError("write_commands")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(commands)))
		pw.metrics.PersistCommandsWritten.Add(float64(len(commands)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(commands[len(commands)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
