// Package app wires every subsystem together and runs the core in one of
// its supported modes.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/wisbric/snowlink/internal/config"
	"github.com/wisbric/snowlink/internal/httpserver"
	"github.com/wisbric/snowlink/internal/platform"
	"github.com/wisbric/snowlink/internal/telemetry"
	"github.com/wisbric/snowlink/internal/version"
	"github.com/wisbric/snowlink/pkg/contract"
	"github.com/wisbric/snowlink/pkg/dispatch"
	"github.com/wisbric/snowlink/pkg/eventbus"
	"github.com/wisbric/snowlink/pkg/hybrid"
	"github.com/wisbric/snowlink/pkg/notifyqueue"
	"github.com/wisbric/snowlink/pkg/rules"
	"github.com/wisbric/snowlink/pkg/sla"
	"github.com/wisbric/snowlink/pkg/socket"
	"github.com/wisbric/snowlink/pkg/store"
	"github.com/wisbric/snowlink/pkg/stream"
	"github.com/wisbric/snowlink/pkg/sync"
	"github.com/wisbric/snowlink/pkg/ticket"
	"github.com/wisbric/snowlink/pkg/upstream"
)

// deps holds every wired subsystem, built once in Run and handed to
// whichever run-loop the configured mode selects.
type deps struct {
	cfg *config.Config
	log *slog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	upstream    *upstream.Client
	store       *store.Store
	contracts   *contract.Store
	bus         *eventbus.Bus
	hybridSvc   *hybrid.Service
	syncEngine  *sync.Engine
	slaEngine   *sla.Engine
	notifyQueue *notifyqueue.Queue
	rulesEngine *rules.Engine
	socketHub   *socket.Hub
	streamHub   *stream.Hub
	metricsReg  *prometheus.Registry
}

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode ("sync", "api", or "all").
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting snowlink", "mode", cfg.Mode, "listen", cfg.ListenAddr(), "version", version.Version)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "snowlink", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	d, err := build(cfg, logger, db, rdb)
	if err != nil {
		return fmt.Errorf("wiring subsystems: %w", err)
	}

	switch cfg.Mode {
	case "sync":
		return d.runSync(ctx)
	case "api":
		return d.runAPI(ctx)
	case "all":
		return d.runAll(ctx)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func build(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) (*deps, error) {
	cred, err := newCredential(cfg)
	if err != nil {
		return nil, fmt.Errorf("building upstream credential: %w", err)
	}

	upClient := upstream.NewClient(upstream.Config{
		BaseURL:           cfg.ServiceNowBaseURL,
		RequestsPerSecond: float64(cfg.RateLimits.PerMinute) / 60,
		Burst:             cfg.RateLimits.BurstSize,
		MaxRetries:        cfg.MaxRetries,
	}, cred, logger)

	docStore := store.NewStore(db)
	contracts := contract.NewStore(db)
	bus := eventbus.NewBus(rdb)

	slaInstances := sla.NewStore(db)
	slaEngine := sla.NewEngine(contracts, slaInstances, docStore, bus, logger)

	hybridSvc := hybrid.NewService(docStore, upClient, bus, logger)
	syncEngine := sync.NewEngine(docStore, upClient, bus, slaEngine, logger, cfg.BackfillJournalsOnIncremental)

	notifyQueue := notifyqueue.NewQueue(cfg.NotifyQueueCapacity, float64(cfg.RateLimits.PerMinute)/60, logger)
	if cfg.SlackBotToken != "" {
		notifyQueue.RegisterChannel(notifyqueue.NewSlackChannel(cfg.SlackBotToken, cfg.SlackAlertChannel))
		logger.Info("slack notification channel enabled")
	}

	socketHub := socket.NewHub(logger)
	streamHub := stream.NewHub(cfg.Transport.ConnectionsPerIP, 3000, logger)
	notifyQueue.RegisterChannel(notifyqueue.NewSocketChannel(socketHub))
	notifyQueue.RegisterChannel(notifyqueue.NewStreamChannel(streamHub))

	executor := dispatch.NewExecutor(upClient, notifyQueue)
	rulesEngine := rules.NewEngine(defaultRules(), executor, logger)

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	return &deps{
		cfg: cfg, log: logger,
		db: db, rdb: rdb,
		upstream: upClient, store: docStore, contracts: contracts, bus: bus,
		hybridSvc: hybridSvc, syncEngine: syncEngine, slaEngine: slaEngine,
		notifyQueue: notifyQueue, rulesEngine: rulesEngine,
		socketHub: socketHub, streamHub: streamHub, metricsReg: metricsReg,
	}, nil
}

func newCredential(cfg *config.Config) (*upstream.Credential, error) {
	switch cfg.ServiceNowAuthMode {
	case "basic":
		basic := base64.StdEncoding.EncodeToString([]byte(cfg.ServiceNowUser + ":" + cfg.ServiceNowPassword))
		return upstream.NewBasicCredential("Basic "+basic, nil), nil
	case "bearer":
		return upstream.NewBearerCredential(cfg.ServiceNowToken, nil), nil
	default:
		return nil, fmt.Errorf("unknown servicenow auth mode: %s", cfg.ServiceNowAuthMode)
	}
}

// defaultRules is the Business Rules Engine's in-memory rule set. The
// engine keeps the set it was built with; rules.Engine has no reload
// method, so a changed set takes effect only after a restart.
func defaultRules() []rules.Rule {
	return []rules.Rule{
		{
			Name: "critical-ticket-alert",
			Conditions: []rules.Condition{
				{Field: "priority", Operator: rules.OpEquals, Value: 1},
			},
			Actions: []rules.Action{
				{Type: rules.ActionNotify, Value: "critical ticket created or updated", Target: "slack"},
			},
		},
	}
}

// runSync runs the background sync engine, SLA checker, and notification
// dispatch loops, with no HTTP surface.
func (d *deps) runSync(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.runSyncSchedule(gctx) })
	g.Go(func() error { return d.runSLALoop(gctx) })
	g.Go(func() error { d.notifyQueue.Run(gctx); return nil })
	g.Go(func() error { return d.runDispatchConsumers(gctx) })

	return g.Wait()
}

// runAPI runs only the HTTP surface (health/ready/metrics/ws/sse), useful
// for scaling the real-time fabric independently of the sync workers.
func (d *deps) runAPI(ctx context.Context) error {
	srv := httpserver.NewServer(httpserver.Config{
		CORSAllowedOrigins: []string{"*"},
	}, d.log, d.db, d.rdb, d.metricsReg)
	srv.MountSocket(d.socketHub)
	srv.MountStream(d.streamHub)

	httpSrv := &http.Server{
		Addr:         d.cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the websocket and SSE endpoints are long-lived
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info("http server listening", "addr", d.cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		d.log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runAll runs every loop in one process: the sync/SLA/dispatch background
// work plus the HTTP surface. This is the default mode for small
// deployments that don't need to scale the two halves independently.
func (d *deps) runAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.runSyncSchedule(gctx) })
	g.Go(func() error { return d.runSLALoop(gctx) })
	g.Go(func() error { d.notifyQueue.Run(gctx); return nil })
	g.Go(func() error { return d.runDispatchConsumers(gctx) })
	g.Go(func() error { return d.runAPI(gctx) })

	return g.Wait()
}

// runSyncSchedule runs an immediate full sync, then schedules recurring
// incremental passes every SyncIntervalMinutes and a full pass @daily.
func (d *deps) runSyncSchedule(ctx context.Context) error {
	if err := d.syncEngine.RunFull(ctx); err != nil {
		d.log.Error("initial full sync failed", "error", err)
	}

	c := cron.New()
	incrementalSpec := fmt.Sprintf("@every %dm", max(1, d.cfg.SyncIntervalMinutes))
	if _, err := c.AddFunc(incrementalSpec, func() {
		if err := d.syncEngine.RunIncremental(ctx); err != nil {
			d.log.Error("incremental sync failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling incremental sync: %w", err)
	}
	if _, err := c.AddFunc("@daily", func() {
		if err := d.syncEngine.RunFull(ctx); err != nil {
			d.log.Error("scheduled full sync failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling full sync: %w", err)
	}

	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// runSLALoop periodically checks every table's open SLA instances (every
// tracked metric) against their contractual targets (spec §4.6's "periodic
// check"), adding each pass's breach/resolve transitions to the SLA counters.
func (d *deps) runSLALoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, table := range ticket.Tables {
				_, transitions, _, err := d.slaEngine.CheckTable(ctx, table, 200)
				if err != nil {
					d.log.Error("sla check failed", "table", table, "error", err)
					continue
				}
				for _, t := range transitions {
					priority := fmt.Sprintf("%d", t.Priority)
					telemetry.SLABreachesTotal.WithLabelValues(priority).Add(float64(t.Breached))
					telemetry.SLAInstancesResolvedTotal.WithLabelValues(priority).Add(float64(t.Resolved))
				}
			}
		}
	}
}

// runDispatchConsumers runs one Event Bus consumer per ticket table,
// feeding the Business Rules Engine (spec §4.10).
func (d *deps) runDispatchConsumers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, table := range ticket.Tables {
		table := table
		consumer := dispatch.NewConsumer(d.bus, d.rulesEngine, table, "dispatch-1", d.log)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	return g.Wait()
}
