package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// --- Core processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreSequence         prometheus.Gauge
	CoreRollbacks        *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Treasury ---
	TreasuryTotalBalance  prometheus.Gauge
	TreasuryLockedPremium prometheus.Gauge
	TreasuryTotalLocked   prometheus.Gauge
	TreasuryUnrecognized  prometheus.Gauge
	TreasuryActiveLocks   prometheus.Gauge
	TreasuryExpiredActive prometheus.Gauge
	TreasuryBackstopDraws prometheus.Counter

	// --- Vault ---
	VaultReserve      prometheus.Gauge
	VaultTotalBalance prometheus.Gauge
	VaultBackingRatio prometheus.Gauge
	VaultRetired      prometheus.Gauge

	// --- Persistence ---
	PersistCommandsWritten prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayCommands    prometheus.Counter

	// --- Ingestion ---
	IngestReceived *prometheus.CounterVec
	IngestInvalid  *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexo_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"kind"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexo_core_commands_rejected_total",
			Help: "Commands rejected (duplicate or by error kind)",
		}, []string{"kind", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexo_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexo_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_core_sequence",
			Help: "Current global sequence number",
		}),

		CoreRollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexo_core_rollbacks_total",
			Help: "Commands whose effects were rolled back",
		}, []string{"kind"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexo_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexo_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexo_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "nexo_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "nexo_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "nexo_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexo_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"kind", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "nexo_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		TreasuryTotalBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_treasury_total_balance",
			Help: "Recognized treasury capital (settlement asset, whole units)",
		}),

		TreasuryLockedPremium: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_treasury_locked_premium",
			Help: "Premium backing active locks (whole units)",
		}),

		TreasuryTotalLocked: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_treasury_total_locked",
			Help: "Sum of active lock amounts (whole units)",
		}),

		TreasuryUnrecognized: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_treasury_unrecognized_balance",
			Help: "Held settlement asset not yet recognized (whole units)",
		}),

		TreasuryActiveLocks: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_treasury_active_locks",
			Help: "Locks in the active state",
		}),

		TreasuryExpiredActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_treasury_expired_active_locks",
			Help: "Active locks past their expiration",
		}),

		TreasuryBackstopDraws: f.NewCounter(prometheus.CounterOpts{
			Name: "nexo_treasury_backstop_draws_total",
			Help: "Draws from the vault into the treasury",
		}),

		VaultReserve: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_vault_reserve",
			Help: "Vault settlement reserve (whole units)",
		}),

		VaultTotalBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_vault_total_stake",
			Help: "Total stake balance (whole units)",
		}),

		VaultBackingRatio: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_vault_backing_ratio",
			Help: "Settlement reserve per whole stake unit",
		}),

		VaultRetired: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_vault_retired_stake",
			Help: "Stake retired by claims and not yet swept (whole units)",
		}),

		PersistCommandsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "nexo_persist_commands_written_total",
			Help: "Commands written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "nexo_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexo_persist_batch_size",
			Help:    "Commands per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexo_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexo_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexo_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "nexo_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexo_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexo_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayCommands: f.NewCounter(prometheus.CounterOpts{
			Name: "nexo_replay_commands_total",
			Help: "Commands replayed on startup",
		}),

		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexo_ingest_received_total",
			Help: "Commands received per source",
		}, []string{"source", "kind"}),

		IngestInvalid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexo_ingest_invalid_total",
			Help: "Messages that failed to parse",
		}, []string{"source"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexo_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexo_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
