// Package reconciler hosts the out-of-band consistency checker: a cron-driven
// sampler that compares cached aggregates against their recomputation, an
// orphaned-document scan over the activity index, and on-demand backfill
// campaigns.
package reconciler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/mgamer/indexer-v3-sub017/pkg/db/activityindex"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/workflow"
	"github.com/mgamer/indexer-v3-sub017/pkg/logging"
	"github.com/mgamer/indexer-v3-sub017/pkg/reconciler"
	"github.com/mgamer/indexer-v3-sub017/pkg/redis"
	"github.com/mgamer/indexer-v3-sub017/pkg/temporal"
	"github.com/mgamer/indexer-v3-sub017/pkg/utils"
)

type App struct {
	MarketDB       *market.DB
	ActivityIndex  *activityindex.DB
	Redis          *redis.Client
	TemporalClient *temporal.Client
	Checker        *reconciler.Checker

	// Cron drives the sampling passes. SampleSpec defaults to every thirty
	// seconds; OrphanSpec runs the heavier activity-index scan less often.
	Cron       *cron.Cron
	SampleSpec string
	OrphanSpec string

	Logger *zap.Logger
	Server *http.Server
}

// Initialize initializes the application.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	marketDB, err := market.NewWithPoolConfig(ctx, logger, *postgres.GetPoolConfigForComponent("reconciler"))
	if err != nil {
		logger.Fatal("Unable to initialize market database", zap.Error(err))
	}

	activityIndex, err := activityindex.New(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to initialize activity index", zap.Error(err))
	}

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to establish redis connection", zap.Error(err))
	}

	temporalClient, err := temporal.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to establish temporal connection", zap.Error(err))
	}

	checker := reconciler.NewChecker(
		logger,
		marketDB,
		redisClient,
		&reconciler.WorkflowTrigger{Temporal: temporalClient},
	)

	app := &App{
		MarketDB:       marketDB,
		ActivityIndex:  activityIndex,
		Redis:          redisClient,
		TemporalClient: temporalClient,
		Checker:        checker,
		SampleSpec:     utils.Env("RECONCILE_CRON", "*/30 * * * * *"),
		OrphanSpec:     utils.Env("ORPHAN_CRON", "0 */10 * * * *"),
		Logger:         logger,
	}

	if err := app.SetupScheduler(ctx, cron.DefaultLogger); err != nil {
		return nil, err
	}
	app.SetupServer()

	return app, nil
}

// SetupScheduler sets up the cron scheduler.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(a.SampleSpec, func() {
		// keep each run bounded well under the cadence
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		if err := a.Checker.RunSampleCheck(rctx); err != nil {
			a.Logger.Warn("Sample check failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	_, err = a.Cron.AddFunc(a.OrphanSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := a.Checker.CheckOrphanedActivities(rctx, a.ActivityIndex); err != nil {
			a.Logger.Warn("Orphan scan failed", zap.Error(err))
		}
	})
	return err
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3003")

	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
}

// StartBackfillIfRequested starts a replay campaign when BACKFILL_JOB names
// one. Starting an already-running campaign is a no-op thanks to the
// workflow-id dedup, so a restart of this process is safe.
func (a *App) StartBackfillIfRequested(ctx context.Context) error {
	jobName := utils.Env("BACKFILL_JOB", "")
	if jobName == "" {
		return nil
	}

	options := client.StartWorkflowOptions{
		ID:        a.TemporalClient.GetBackfillWorkflowId(jobName),
		TaskQueue: a.TemporalClient.GetOpsQueue(),
	}
	in := types.BackfillInput{
		JobName:   jobName,
		BatchSize: utils.EnvInt("BACKFILL_BATCH_SIZE", 500),
	}
	_, err := a.TemporalClient.TClient.ExecuteWorkflow(ctx, options, workflow.BackfillWorkflowName, in)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			a.Logger.Info("Backfill campaign already running", zap.String("job", jobName))
			return nil
		}
		return err
	}
	a.Logger.Info("Backfill campaign started", zap.String("job", jobName))
	return nil
}

// Start starts the application and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	if err := a.StartBackfillIfRequested(ctx); err != nil {
		a.Logger.Fatal("Unable to start backfill campaign", zap.Error(err))
	}
	a.Cron.Start()
	a.Logger.Info("Reconciler cron started",
		zap.String("sampleSpec", a.SampleSpec),
		zap.String("orphanSpec", a.OrphanSpec))

	<-ctx.Done()
	a.Stop()
}

// Stop stops the cron scheduler and closes the stores.
func (a *App) Stop() {
	_ = a.Server.Close()
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	_ = a.MarketDB.Close()
	_ = a.ActivityIndex.Close()
	_ = a.Redis.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
