package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// Trigger kinds accepted from the API layer.
const (
	TriggerApprovalChange = "approval-change"
	TriggerSpamFlag       = "spam-flag"
	TriggerRefresh        = "refresh"
)

// refreshThrottleTTL throttles non-forced collection refreshes per contract.
// The lock is never released explicitly; expiry is the throttle window.
const refreshThrottleTTL = 15 * time.Minute

// IngestOffchainTrigger normalizes a discrete API-layer payload into the same
// pipeline on-chain events flow through. Approval and flag changes become
// synthetic canonical events; refresh requests schedule collection recomputes
// behind a per-contract throttle that forceRefresh bypasses.
func (c *Context) IngestOffchainTrigger(ctx context.Context, in *types.OffchainTriggerInput) error {
	switch in.TriggerKind {
	case TriggerApprovalChange:
		return c.ingestApprovalChange(ctx, in)
	case TriggerSpamFlag:
		return c.ingestSpamFlag(ctx, in)
	case TriggerRefresh:
		return c.ingestRefresh(ctx, in)
	}
	return fmt.Errorf("unknown trigger kind %q", in.TriggerKind)
}

func (c *Context) ingestApprovalChange(ctx context.Context, in *types.OffchainTriggerInput) error {
	status := marketmodels.StatusNoBalance
	if in.NewValue == string(marketmodels.ApprovalApproved) {
		status = marketmodels.StatusFillable
	}
	raw, err := json.Marshal(map[string]string{"fillability_status": string(status)})
	if err != nil {
		return err
	}

	ev := &marketmodels.Event{
		TxHash:    marketmodels.OffchainTxHash(),
		Kind:      marketmodels.EventKindBalanceChange,
		OrderID:   in.EntityID,
		Timestamp: time.Now().UTC(),
		RawData:   string(raw),
	}
	return c.startOffchainIngest(ctx, ev)
}

func (c *Context) ingestSpamFlag(ctx context.Context, in *types.OffchainTriggerInput) error {
	contract, tokenID, ok := strings.Cut(in.EntityID, ":")
	if !ok {
		return fmt.Errorf("spam-flag trigger needs a contract:tokenId entity, got %q", in.EntityID)
	}

	raw, err := json.Marshal(map[string]bool{"flagged": in.NewValue == "true"})
	if err != nil {
		return err
	}

	ev := &marketmodels.Event{
		TxHash:    marketmodels.OffchainTxHash(),
		Kind:      marketmodels.EventKindFlagChange,
		Contract:  contract,
		TokenID:   tokenID,
		Timestamp: time.Now().UTC(),
		RawData:   string(raw),
	}
	return c.startOffchainIngest(ctx, ev)
}

func (c *Context) ingestRefresh(ctx context.Context, in *types.OffchainTriggerInput) error {
	logger := activity.GetLogger(ctx)
	contract := in.EntityID

	if _, err := c.MarketDB.GetCollection(ctx, contract); err != nil {
		if postgres.IsNoRows(err) {
			logger.Info("Refresh requested for unknown collection", zap.String("contract", contract))
			return nil
		}
		return err
	}

	if !in.ForceRefresh && c.Locker != nil {
		acquired, err := c.Locker.AcquireLock(ctx, "refresh:"+contract, refreshThrottleTTL)
		if err != nil {
			return err
		}
		if !acquired {
			logger.Info("Collection refresh throttled", zap.String("contract", contract))
			return nil
		}
	}

	for _, side := range []marketmodels.OrderSide{marketmodels.OrderSideSell, marketmodels.OrderSideBuy} {
		err := c.StartCollectionCacheWorkflow(ctx, &types.RecomputeCollectionInput{
			CollectionID: contract,
			Side:         side,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// startOffchainIngest runs a synthetic event through the regular ingestion
// workflow. The synthetic tx hash is unique, so these never coalesce with
// block batches or with each other.
func (c *Context) startOffchainIngest(ctx context.Context, ev *marketmodels.Event) error {
	options := c.startOptions("ingest:"+ev.TxHash, c.TemporalClient.GetIngestQueue())
	return c.startWorkflow(ctx, options, "IngestBatchWorkflow", &types.IngestBatchInput{
		Events: []*marketmodels.Event{ev},
	})
}
