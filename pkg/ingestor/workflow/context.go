package workflow

import (
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/activity"
	"github.com/mgamer/indexer-v3-sub017/pkg/temporal"
)

// Workflow names as registered on the workers. Starters reference these so
// the string and the function cannot drift apart.
const (
	IngestBatchWorkflowName     = "IngestBatchWorkflow"
	TokenCacheWorkflowName      = "TokenCacheWorkflow"
	CollectionCacheWorkflowName = "CollectionCacheWorkflow"
	OrderUpdateWorkflowName     = "OrderUpdateWorkflow"
	ReorgWorkflowName           = "ReorgWorkflow"
	BackfillWorkflowName        = "BackfillWorkflow"
	ExpirySweepWorkflowName     = "ExpirySweepWorkflow"
	OffchainTriggerWorkflowName = "OffchainTriggerWorkflow"
)

type Context struct {
	TemporalClient  *temporal.Client
	ActivityContext *activity.Context
}
