package ingestor

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/mgamer/indexer-v3-sub017/pkg/db/activityindex"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/activity"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/workflow"
	"github.com/mgamer/indexer-v3-sub017/pkg/logging"
	"github.com/mgamer/indexer-v3-sub017/pkg/redis"
	"github.com/mgamer/indexer-v3-sub017/pkg/sources"
	"github.com/mgamer/indexer-v3-sub017/pkg/temporal"
)

type App struct {
	IngestWorker     worker.Worker
	AggregatesWorker worker.Worker
	OpsWorker        worker.Worker
	TemporalClient   *temporal.Client
	MarketDB         *market.DB
	ActivityIndex    *activityindex.DB
	Redis            *redis.Client
	Logger           *zap.Logger
}

// Start starts the workers and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	if err := a.IngestWorker.Start(); err != nil {
		a.Logger.Fatal("Unable to start ingest worker", zap.Error(err))
	}
	if err := a.AggregatesWorker.Start(); err != nil {
		a.Logger.Fatal("Unable to start aggregates worker", zap.Error(err))
	}
	if err := a.OpsWorker.Start(); err != nil {
		a.Logger.Fatal("Unable to start operations worker", zap.Error(err))
	}
	if err := a.ensureExpirySweepSchedule(ctx); err != nil {
		a.Logger.Fatal("Unable to ensure expiry sweep schedule", zap.Error(err))
	}
	<-ctx.Done()
	a.Stop()
}

// Stop stops the workers and closes the stores.
func (a *App) Stop() {
	a.IngestWorker.Stop()
	a.AggregatesWorker.Stop()
	a.OpsWorker.Stop()
	_ = a.MarketDB.Close()
	_ = a.ActivityIndex.Close()
	_ = a.Redis.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// ensureExpirySweepSchedule creates the recurring expiry sweep if absent.
func (a *App) ensureExpirySweepSchedule(ctx context.Context) error {
	id := a.TemporalClient.GetExpirySweepScheduleID()
	h := a.TemporalClient.TSClient.GetHandle(ctx, id)
	if _, err := h.Describe(ctx); err == nil {
		a.Logger.Info("Expiry sweep schedule already exists", zap.String("id", id))
		return nil
	} else {
		var notFound *serviceerror.NotFound
		if !errors.As(err, &notFound) {
			return err
		}
	}

	a.Logger.Info("Creating expiry sweep schedule", zap.String("id", id))
	_, err := a.TemporalClient.TSClient.Create(ctx, client.ScheduleOptions{
		ID:   id,
		Spec: a.TemporalClient.OneMinuteSpec(),
		Action: &client.ScheduleWorkflowAction{
			Workflow:                 workflow.ExpirySweepWorkflowName,
			Args:                     []interface{}{types.ExpirySweepInput{Limit: 200}},
			TaskQueue:                a.TemporalClient.GetOpsQueue(),
			WorkflowExecutionTimeout: 10 * time.Minute,
			WorkflowTaskTimeout:      2 * time.Minute,
		},
	})
	return err
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	marketDB, err := market.NewWithPoolConfig(ctx, logger, *postgres.GetPoolConfigForComponent("ingestor"))
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

	sourceRegistry := sources.NewRegistry(logger, marketDB)
	if err := sourceRegistry.Warm(ctx); err != nil {
		logger.Warn("Unable to warm source registry", zap.Error(err))
	}

	activityContext := &activity.Context{
		Logger:         logger,
		MarketDB:       marketDB,
		ActivityIndex:  activityIndex,
		Notifier:       redisClient,
		Locker:         redisClient,
		Sources:        sourceRegistry,
		TemporalClient: temporalClient,
	}
	workflowContext := workflow.Context{
		TemporalClient:  temporalClient,
		ActivityContext: activityContext,
	}

	// Event pipeline worker: high activity concurrency, batches arrive per
	// block so workflow concurrency stays moderate.
	ingestWorker := worker.New(
		temporalClient.TClient,
		temporalClient.GetIngestQueue(),
		worker.Options{
			MaxConcurrentWorkflowTaskPollers:       10,
			MaxConcurrentActivityTaskPollers:       20,
			MaxConcurrentWorkflowTaskExecutionSize: 500,
			MaxConcurrentActivityExecutionSize:     1000,
			WorkerStopTimeout:                      1 * time.Minute,
		},
	)
	ingestWorker.RegisterWorkflowWithOptions(
		workflowContext.IngestBatchWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.IngestBatchWorkflowName},
	)
	ingestWorker.RegisterWorkflowWithOptions(
		workflowContext.ReorgWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.ReorgWorkflowName},
	)
	ingestWorker.RegisterWorkflowWithOptions(
		workflowContext.OffchainTriggerWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.OffchainTriggerWorkflowName},
	)
	ingestWorker.RegisterActivity(activityContext.RecordEvents)
	ingestWorker.RegisterActivity(activityContext.ApplyOrderEvent)
	ingestWorker.RegisterActivity(activityContext.ApplyTransferEvent)
	ingestWorker.RegisterActivity(activityContext.ApplyFlagChange)
	ingestWorker.RegisterActivity(activityContext.RecomputeBalance)
	ingestWorker.RegisterActivity(activityContext.PublishActivities)
	ingestWorker.RegisterActivity(activityContext.DeleteActivities)
	ingestWorker.RegisterActivity(activityContext.DeleteBlockEvents)
	ingestWorker.RegisterActivity(activityContext.IngestOffchainTrigger)
	ingestWorker.RegisterActivity(activityContext.StartTokenCacheWorkflow)
	ingestWorker.RegisterActivity(activityContext.StartCollectionCacheWorkflow)
	ingestWorker.RegisterActivity(activityContext.StartOrderRepairBatch)

	// Aggregate maintainers: cheap single-statement recomputes, keep the
	// worker small and let workflow-id dedup do the throttling.
	aggregatesWorker := worker.New(
		temporalClient.TClient,
		temporalClient.GetAggregatesQueue(),
		worker.Options{
			MaxConcurrentWorkflowTaskPollers: 10,
			MaxConcurrentActivityTaskPollers: 10,
			WorkerStopTimeout:                1 * time.Minute,
		},
	)
	aggregatesWorker.RegisterWorkflowWithOptions(
		workflowContext.TokenCacheWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.TokenCacheWorkflowName},
	)
	aggregatesWorker.RegisterWorkflowWithOptions(
		workflowContext.CollectionCacheWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.CollectionCacheWorkflowName},
	)
	aggregatesWorker.RegisterActivity(activityContext.RecomputeToken)
	aggregatesWorker.RegisterActivity(activityContext.RecomputeCollection)
	aggregatesWorker.RegisterActivity(activityContext.StartCollectionCacheWorkflow)

	opsWorker := worker.New(
		temporalClient.TClient,
		temporalClient.GetOpsQueue(),
		worker.Options{
			MaxConcurrentWorkflowTaskPollers: 5,
			MaxConcurrentActivityTaskPollers: 5,
			WorkerStopTimeout:                1 * time.Minute,
		},
	)
	opsWorker.RegisterWorkflowWithOptions(
		workflowContext.OrderUpdateWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.OrderUpdateWorkflowName},
	)
	opsWorker.RegisterWorkflowWithOptions(
		workflowContext.BackfillWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.BackfillWorkflowName},
	)
	opsWorker.RegisterWorkflowWithOptions(
		workflowContext.ExpirySweepWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.ExpirySweepWorkflowName},
	)
	opsWorker.RegisterActivity(activityContext.RepairOrderFromEvents)
	opsWorker.RegisterActivity(activityContext.SweepExpiredOrders)
	opsWorker.RegisterActivity(activityContext.ScanEventsBatch)
	opsWorker.RegisterActivity(activityContext.AdvanceBackfillCursor)
	opsWorker.RegisterActivity(activityContext.ClearBackfillCursor)
	opsWorker.RegisterActivity(activityContext.AcquireJobLock)
	opsWorker.RegisterActivity(activityContext.ReleaseJobLock)
	opsWorker.RegisterActivity(activityContext.StartTokenCacheWorkflow)
	opsWorker.RegisterActivity(activityContext.StartOrderRepairBatch)
	opsWorker.RegisterActivity(activityContext.StartOrderUpdateWorkflow)

	return &App{
		IngestWorker:     ingestWorker,
		AggregatesWorker: aggregatesWorker,
		OpsWorker:        opsWorker,
		TemporalClient:   temporalClient,
		MarketDB:         marketDB,
		ActivityIndex:    activityIndex,
		Redis:            redisClient,
		Logger:           logger,
	}
}
