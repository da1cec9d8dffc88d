package reconciler

import (
	"context"

	"go.uber.org/zap"

	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
)

// ActivityStore is the slice of the activity index the orphan check uses.
type ActivityStore interface {
	ListDocumentOrderRefs(ctx context.Context, limit int) (map[string]string, error)
	DeleteDocuments(ctx context.Context, ids []string) error
}

const orphanSampleSize = 200

// CheckOrphanedActivities samples activity documents and tombstones those
// whose backing order no longer exists anywhere: no order row and no stored
// events. Documents without an order reference (transfers, mints) are
// anchored by their event rows and skipped here.
func (c *Checker) CheckOrphanedActivities(ctx context.Context, index ActivityStore) error {
	refs, err := index.ListDocumentOrderRefs(ctx, orphanSampleSize)
	if err != nil {
		return err
	}

	var orphaned []string
	for docID, orderID := range refs {
		if orderID == "" {
			continue
		}
		_, err := c.store.GetOrder(ctx, orderID)
		if err == nil {
			continue
		}
		if !postgres.IsNoRows(err) {
			return err
		}
		hasEvents, err := c.store.HasEventsForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if hasEvents {
			continue
		}
		orphaned = append(orphaned, docID)
	}

	if len(orphaned) == 0 {
		return nil
	}
	if err := index.DeleteDocuments(ctx, orphaned); err != nil {
		return err
	}
	c.logger.Warn("Deleted orphaned activity documents", zap.Int("count", len(orphaned)))
	return nil
}
