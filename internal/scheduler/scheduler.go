package scheduler

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
)

// Engine is what the jobs read from.
type Engine interface {
	CreateSnapshotState() *core.SnapshotState
	Audit(now time.Time) core.AuditReport
	Assets() (settlement, stake nmath.AssetConfig)
}

// SnapshotStore persists snapshots. A snapshot is marked verified once the
// command log has durably reached its sequence.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState, takenAt time.Time) (int, error)
	GetLatestSequence(ctx context.Context) (int64, error)
	MarkVerified(ctx context.Context, sequence int64) error
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	engine  Engine
	store   SnapshotStore
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	lastSnapSeq int64
}

// New creates a scheduler. Cron specs carry a seconds field. store may be
// nil, in which case no snapshot job is registered.
func New(ctx context.Context, engine Engine, store SnapshotStore, metrics *observability.Metrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		ctx:         ctx,
		engine:      engine,
		store:       store,
		metrics:     metrics,
		logger:      logger.With().Str("component", "scheduler").Logger(),
		now:         time.Now,
		lastSnapSeq: -1,
	}
}

// Register adds the snapshot and audit jobs.
func (s *Scheduler) Register(snapshotSpec, auditSpec string) error {
	if s.store != nil {
		if _, err := s.cron.AddFunc(snapshotSpec, func() {
			if _, err := s.RunSnapshot(s.ctx); err != nil {
				s.logger.Error().Err(err).Msg("snapshot job failed")
			}
		}); err != nil {
			return fmt.Errorf("register snapshot job: %w", err)
		}
	}
	if _, err := s.cron.AddFunc(auditSpec, func() { s.RunAudit() }); err != nil {
		return fmt.Errorf("register audit job: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// RunSnapshot captures the engine state and saves it. It returns false
// when nothing was applied since the last snapshot.
func (s *Scheduler) RunSnapshot(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, fmt.Errorf("no snapshot store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	snap := s.engine.CreateSnapshotState()
	if snap.Sequence < 1 || snap.Sequence == s.lastSnapSeq {
		return false, nil
	}

	size, err := s.store.SaveSnapshot(ctx, snap, s.now())
	if err != nil {
		return false, err
	}
	s.lastSnapSeq = snap.Sequence

	persisted, err := s.store.GetLatestSequence(ctx)
	if err != nil {
		return true, fmt.Errorf("snapshot %d saved, check log head: %w", snap.Sequence, err)
	}
	verified := persisted >= snap.Sequence
	if verified {
		if err := s.store.MarkVerified(ctx, snap.Sequence); err != nil {
			return true, err
		}
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("bytes", size).
		Bool("verified", verified).
		Msg("snapshot saved")
	return true, nil
}

// RunAudit refreshes the solvency gauges.
func (s *Scheduler) RunAudit() core.AuditReport {
	r := s.engine.Audit(s.now())
	settlement, stake := s.engine.Assets()

	if s.metrics != nil {
		s.metrics.TreasuryTotalBalance.Set(units(settlement, r.Treasury.TotalBalance))
		s.metrics.TreasuryLockedPremium.Set(units(settlement, r.Treasury.LockedPremium))
		s.metrics.TreasuryTotalLocked.Set(units(settlement, r.Treasury.TotalLocked))
		s.metrics.TreasuryUnrecognized.Set(units(settlement, r.Treasury.Unrecognized))
		s.metrics.TreasuryActiveLocks.Set(float64(r.ActiveLocks))
		s.metrics.TreasuryExpiredActive.Set(float64(r.ExpiredActive))
		s.metrics.VaultReserve.Set(units(settlement, r.Vault.Reserve))
		s.metrics.VaultBackingRatio.Set(units(settlement, r.BackingRatio))
		s.metrics.VaultTotalBalance.Set(units(stake, r.Vault.TotalBalance))
		s.metrics.VaultRetired.Set(units(stake, r.Vault.Retired))
	}

	ev := s.logger.Debug()
	if r.ExpiredActive > 0 || r.Treasury.Unrecognized.Sign() > 0 {
		ev = s.logger.Warn()
	}
	ev.Int64("sequence", r.Sequence).
		Int("active_locks", r.ActiveLocks).
		Int("expired_active", r.ExpiredActive).
		Str("unrecognized", settlement.Format(r.Treasury.Unrecognized)).
		Msg("audit")
	return r
}

// units renders base units as a float in whole tokens for gauges.
func units(cfg nmath.AssetConfig, v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(v, -cfg.Decimals).Float64()
	return f
}
