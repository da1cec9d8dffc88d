package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/mgamer/indexer-v3-sub017/pkg/utils"
	"go.uber.org/zap"

	"go.temporal.io/api/enums/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	workflowservicepb "go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
)

type Client struct {
	TClient   client.Client
	TSClient  client.ScheduleClient
	Namespace string

	// Task Queues
	IngestQueue     string // ingest - block event batches and per-order updates.
	AggregatesQueue string // aggregates - token/collection cache recomputes, coalesced by workflow ID.
	OpsQueue        string // ops - backfill, expiry sweeps and reconciliation.

	// Schedule IDs
	ExpirySweepScheduleID string

	// Workflow IDs
	IngestBlockWorkflowId     string
	OrderUpdateWorkflowId     string
	TokenCacheWorkflowId      string
	CollectionCacheWorkflowId string
	BackfillWorkflowId        string
}

type Health struct {
	ConnectionOK    bool                      `json:"connection_ok"`
	IngestQueue     []*taskqueuepb.PollerInfo `json:"ingest_queue"`
	AggregatesQueue []*taskqueuepb.PollerInfo `json:"aggregates_queue"`
}

func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", "marketdex")
	loggerWrapper := NewZapAdapter(logger)

	logger.Info("Connecting to Temporal", zap.String("host", host), zap.String("namespace", ns))
	tClient, err := Dial(ctx, host, ns, loggerWrapper)
	if err != nil {
		return nil, err
	}

	if _, err = tClient.CheckHealth(ctx, nil); err != nil {
		return nil, err
	}

	return &Client{
		TClient:   tClient,
		TSClient:  tClient.ScheduleClient(),
		Namespace: ns,
		// for now this is just hardcoded, could be configurable if we need it
		IngestQueue:     "ingest",
		AggregatesQueue: "aggregates",
		OpsQueue:        "ops",
		// schedule IDs
		ExpirySweepScheduleID: "sweep:expiry",
		// workflow IDs
		IngestBlockWorkflowId:     "ingest:%d",
		OrderUpdateWorkflowId:     "order:%s:%s",
		TokenCacheWorkflowId:      "token-cache:%s:%s:%s",
		CollectionCacheWorkflowId: "collection-cache:%s:%s",
		BackfillWorkflowId:        "backfill:%s",
	}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

// GetIngestQueue returns the block ingestion queue.
func (c *Client) GetIngestQueue() string { return c.IngestQueue }

// GetAggregatesQueue returns the cache recompute queue.
func (c *Client) GetAggregatesQueue() string { return c.AggregatesQueue }

// GetOpsQueue returns the operations queue.
func (c *Client) GetOpsQueue() string { return c.OpsQueue }

// GetExpirySweepScheduleID returns the schedule ID for the expiry sweep.
func (c *Client) GetExpirySweepScheduleID() string { return c.ExpirySweepScheduleID }

// GetIngestBlockWorkflowId returns the workflow ID for ingesting the given block.
func (c *Client) GetIngestBlockWorkflowId(block uint64) string {
	return fmt.Sprintf(c.IngestBlockWorkflowId, block)
}

// GetOrderUpdateWorkflowId returns the workflow ID for re-evaluating one order.
// The trigger string keeps distinct causes from deduplicating against each other.
func (c *Client) GetOrderUpdateWorkflowId(orderID, trigger string) string {
	return fmt.Sprintf(c.OrderUpdateWorkflowId, orderID, trigger)
}

// GetTokenCacheWorkflowId returns the workflow ID for recomputing one token's
// cached aggregates. Side is "ask" or "bid" so the two recomputes coalesce
// independently.
func (c *Client) GetTokenCacheWorkflowId(contract, tokenID, side string) string {
	return fmt.Sprintf(c.TokenCacheWorkflowId, contract, tokenID, side)
}

// GetCollectionCacheWorkflowId returns the workflow ID for recomputing one
// collection's cached aggregates.
func (c *Client) GetCollectionCacheWorkflowId(collectionID, side string) string {
	return fmt.Sprintf(c.CollectionCacheWorkflowId, collectionID, side)
}

// GetBackfillWorkflowId returns the workflow ID for a named backfill campaign.
func (c *Client) GetBackfillWorkflowId(jobName string) string {
	return fmt.Sprintf(c.BackfillWorkflowId, jobName)
}

// OneMinuteSpec returns a schedule spec for one minute.
func (c *Client) OneMinuteSpec() client.ScheduleSpec {
	return c.GetScheduleSpec(time.Minute)
}

// GetScheduleSpec returns a schedule spec for the given interval.
func (c *Client) GetScheduleSpec(interval time.Duration) client.ScheduleSpec {
	return client.ScheduleSpec{Intervals: []client.ScheduleIntervalSpec{{Every: interval}}}
}

// Health returns the health of the Temporal client.
func (c *Client) Health(ctx context.Context) (Health, error) {
	h := Health{ConnectionOK: true}
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	svc := c.TClient.WorkflowService()
	if svc != nil {
		if rep, err := svc.DescribeTaskQueue(ctx, &workflowservicepb.DescribeTaskQueueRequest{
			Namespace:     c.Namespace,
			TaskQueue:     &taskqueuepb.TaskQueue{Name: c.IngestQueue},
			TaskQueueType: enums.TASK_QUEUE_TYPE_WORKFLOW,
		}); err == nil {
			h.IngestQueue = rep.GetPollers()
		}
		if rep, err := svc.DescribeTaskQueue(ctx, &workflowservicepb.DescribeTaskQueueRequest{
			Namespace:     c.Namespace,
			TaskQueue:     &taskqueuepb.TaskQueue{Name: c.AggregatesQueue},
			TaskQueueType: enums.TASK_QUEUE_TYPE_WORKFLOW,
		}); err == nil {
			h.AggregatesQueue = rep.GetPollers()
		}
	}
	return h, nil
}
