package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/config"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/ingestion"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/persistence"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/projection"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/query"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/scheduler"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger: recover, then serve NATS, gRPC and HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := observability.NewLoggerWithConfig("main", cfg.LogConfig())
	logger.Info().Msg("nexoledger starting")

	// runCtx ends on signal; workers outlive it until their inputs drain.
	runCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnLifetime)

	if err := db.PingContext(runCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger).Up(runCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("postgres connected, migrations applied")

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()
	health.Register("postgres", db.PingContext)

	// --- Engine ---
	// Persist blocks (backpressure); projection and publish drop when full.
	persistCh := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	projectionCh := make(chan core.CoreOutput, cfg.Engine.ProjectionChanSize)
	var publishCh chan core.CoreOutput
	outputs := core.Outputs{Persist: persistCh, Projection: projectionCh}
	if !cfg.NATS.Disabled {
		publishCh = make(chan core.CoreOutput, cfg.Engine.PublishChanSize)
		outputs.Publish = publishCh
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	dedup := persistence.NewPostgresIdempotencyChecker(db)
	eng, err := core.NewEngine(engineCfg, 1, outputs, dedup, metrics,
		observability.NewLoggerWithConfig("core", cfg.LogConfig()))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	replayed, err := snapMgr.Recover(runCtx, eng, cfg.Engine.ReplayPageSize)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	keys, err := dedup.RecentKeys(runCtx, cfg.Engine.LRUCapacity)
	if err != nil {
		return fmt.Errorf("warm idempotency cache: %w", err)
	}
	eng.WarmLRU(keys)
	head := eng.GetSequence() - 1
	logger.Info().Int("replayed", replayed).Int64("sequence", head).
		Hex("state_hash", hashBytes(eng.GetStateHash())).Msg("state recovered")

	wm, err := projection.LoadWatermark(runCtx, db)
	if err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}
	if wm < head {
		if err := projection.Rebuild(runCtx, db, eng, logger); err != nil {
			return fmt.Errorf("rebuild projections: %w", err)
		}
	}

	// --- Workers ---
	var workers sync.WaitGroup
	errCh := make(chan error, 8)
	goWorker := func(name string, run func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistCh, cfg.Engine.PersistBatchSize,
		cfg.Engine.PersistFlushTimeout, metrics, observability.NewLoggerWithConfig("persistence", cfg.LogConfig()))
	goWorker("persistence", persistWorker.Run)

	projWorker := projection.NewProjectionWorker(db, projectionCh, metrics,
		observability.NewLoggerWithConfig("projection", cfg.LogConfig()))
	goWorker("projection", projWorker.Run)

	parser := ingestion.NewParser(engineCfg.Settlement, engineCfg.Stake)

	// --- NATS ---
	var subscriber *ingestion.NATSSubscriber
	if !cfg.NATS.Disabled {
		natsLogger := observability.NewLoggerWithConfig("nats", cfg.LogConfig())
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()
		health.Register("nats", func(context.Context) error {
			if s := nc.Status(); s != nats.CONNECTED {
				return fmt.Errorf("nats %s", s)
			}
			return nil
		})

		if err := ingestion.EnsureStreams(runCtx, js, natsLogger); err != nil {
			return err
		}
		publisher := ingestion.NewOutboundPublisher(js, publishCh, natsLogger)
		goWorker("publisher", publisher.Run)

		intake := ingestion.NewIntake(parser, eng, "nats", metrics, natsLogger)
		subscriber = ingestion.NewNATSSubscriber(js, intake, cfg.NATS.Consumer, natsLogger)
		if err := subscriber.Subscribe(runCtx); err != nil {
			return err
		}
	}

	// --- gRPC + HTTP ---
	qs := query.NewQueryService(eng, db, metrics)
	apiIntake := ingestion.NewIntake(parser, eng, "api", metrics, logger)
	svc := server.NewLedgerService(apiIntake, qs)
	gateway := server.NewGateway(svc, qs, health, reg)
	srv, err := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, svc, gateway,
		observability.NewLoggerWithConfig("server", cfg.LogConfig()))
	if err != nil {
		return err
	}

	var servers sync.WaitGroup
	goServer := func(name string, run func(context.Context) error) {
		servers.Add(1)
		go func() {
			defer servers.Done()
			if err := run(runCtx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	goServer("grpc", srv.StartGRPC)
	goServer("http", srv.StartHTTPGateway)
	if cfg.Server.MetricsAddr != "" {
		goServer("metrics", func(ctx context.Context) error {
			return serveMetrics(ctx, cfg.Server.MetricsAddr, reg, logger)
		})
	}

	// --- Scheduled jobs ---
	sched := scheduler.New(workerCtx, eng, snapMgr, metrics, observability.NewLoggerWithConfig("scheduler", cfg.LogConfig()))
	if err := sched.Register(cfg.Snapshot.Cron, cfg.Audit.Cron); err != nil {
		return err
	}
	sched.RunAudit()
	sched.Start()

	health.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("sequence", head).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Bool("nats", !cfg.NATS.Disabled).
		Msg("nexoledger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case <-runCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// Stop intake first so no command is applied after the outputs close.
	health.SetReady(false)
	srv.SetServing(false)
	stop()
	if subscriber != nil {
		subscriber.Stop(10 * time.Second)
	}
	servers.Wait()
	sched.Stop()

	close(persistCh)
	close(projectionCh)
	if publishCh != nil {
		close(publishCh)
	}
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("workers did not drain in time")
		cancelWorkers()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := sched.RunSnapshot(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	logger.Info().Msg("nexoledger shutdown complete")
	return runErr
}

func serveMetrics(ctx context.Context, addr string, gather prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gather, promhttp.HandlerOpts{}))
	s := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func hashBytes(h [32]byte) []byte { return h[:] }
