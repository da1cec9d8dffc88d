// Package reconciler periodically verifies that the denormalized cache
// columns still match their authoritative recomputation, and repairs drift
// through the standard recompute path. It runs out of band and never writes
// caches directly, so the event pipeline stays the single writer.
package reconciler

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	marketdb "github.com/mgamer/indexer-v3-sub017/pkg/db/market"
	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

const sampleLockName = "reconcile:sample"
const sampleLockTTL = 25 * time.Second

// escalateAfter is how many consecutive divergences one scope tolerates
// before the log level escalates from Warn to Error.
const escalateAfter = 3

// MarketStore is the slice of the market store the checker reads.
type MarketStore interface {
	SampleCollections(ctx context.Context, n int) ([]*marketmodels.Collection, error)
	SampleTokens(ctx context.Context, collectionID string, n int) ([]*marketmodels.Token, error)
	ComputeTokenFloorAsk(ctx context.Context, contract, tokenID string) (*marketdb.Candidate, error)
	ComputeTokenTopBid(ctx context.Context, contract, tokenID string) (*marketdb.Candidate, error)
	ComputeCollectionFloorAsk(ctx context.Context, collectionID string) (*marketdb.Candidate, error)
	ComputeCollectionTopBid(ctx context.Context, collectionID string) (*marketdb.Candidate, error)
	GetOrder(ctx context.Context, id string) (*marketmodels.Order, error)
	HasEventsForOrder(ctx context.Context, orderID string) (bool, error)
}

// Locker gates each cadence window to a single checker instance.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}

// Trigger hands divergent scopes back to the recompute pipeline.
type Trigger interface {
	TriggerTokenRecompute(ctx context.Context, contract, tokenID string, side marketmodels.OrderSide) error
	TriggerCollectionRecompute(ctx context.Context, collectionID string, side marketmodels.OrderSide) error
}

type Checker struct {
	logger  *zap.Logger
	store   MarketStore
	locker  Locker
	trigger Trigger

	// Consecutive divergence count per scope key; reset on a clean check.
	divergences *xsync.Map[string, int]

	collectionsPerRun int
	tokensPerRun      int
}

func NewChecker(logger *zap.Logger, store MarketStore, locker Locker, trigger Trigger) *Checker {
	return &Checker{
		logger:            logger,
		store:             store,
		locker:            locker,
		trigger:           trigger,
		divergences:       xsync.NewMap[string, int](),
		collectionsPerRun: 10,
		tokensPerRun:      10,
	}
}

// RunSampleCheck performs one sampling pass. When another instance holds the
// cadence lock the pass is skipped entirely rather than queued.
func (c *Checker) RunSampleCheck(ctx context.Context) error {
	if c.locker != nil {
		acquired, err := c.locker.AcquireLock(ctx, sampleLockName, sampleLockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			c.logger.Debug("Sampling lock held elsewhere, skipping cycle")
			return nil
		}
		defer func() {
			if err := c.locker.ReleaseLock(ctx, sampleLockName); err != nil {
				c.logger.Warn("Failed to release sampling lock", zap.Error(err))
			}
		}()
	}

	collections, err := c.store.SampleCollections(ctx, c.collectionsPerRun)
	if err != nil {
		return err
	}

	for _, col := range collections {
		if err := c.checkCollection(ctx, col); err != nil {
			return err
		}
		tokens, err := c.store.SampleTokens(ctx, col.ID, c.tokensPerRun)
		if err != nil {
			return err
		}
		for _, tok := range tokens {
			if err := c.checkToken(ctx, tok); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Checker) checkCollection(ctx context.Context, col *marketmodels.Collection) error {
	floor, err := c.store.ComputeCollectionFloorAsk(ctx, col.ID)
	if err != nil {
		return err
	}
	if !refsEqual(col.FloorAskID, floor.OrderID) {
		c.reportDivergence(ctx, "collection", col.ID, marketmodels.OrderSideSell, col.FloorAskID, floor.OrderID)
	} else {
		c.clearDivergence("collection", col.ID, marketmodels.OrderSideSell)
	}

	topBid, err := c.store.ComputeCollectionTopBid(ctx, col.ID)
	if err != nil {
		return err
	}
	if !refsEqual(col.TopBidID, topBid.OrderID) {
		c.reportDivergence(ctx, "collection", col.ID, marketmodels.OrderSideBuy, col.TopBidID, topBid.OrderID)
	} else {
		c.clearDivergence("collection", col.ID, marketmodels.OrderSideBuy)
	}
	return nil
}

func (c *Checker) checkToken(ctx context.Context, tok *marketmodels.Token) error {
	scopeID := tok.Contract + ":" + tok.TokenID

	floor, err := c.store.ComputeTokenFloorAsk(ctx, tok.Contract, tok.TokenID)
	if err != nil {
		return err
	}
	if !refsEqual(tok.FloorAskID, floor.OrderID) {
		c.reportDivergence(ctx, "token", scopeID, marketmodels.OrderSideSell, tok.FloorAskID, floor.OrderID)
	} else {
		c.clearDivergence("token", scopeID, marketmodels.OrderSideSell)
	}

	topBid, err := c.store.ComputeTokenTopBid(ctx, tok.Contract, tok.TokenID)
	if err != nil {
		return err
	}
	if !refsEqual(tok.TopBidID, topBid.OrderID) {
		c.reportDivergence(ctx, "token", scopeID, marketmodels.OrderSideBuy, tok.TopBidID, topBid.OrderID)
	} else {
		c.clearDivergence("token", scopeID, marketmodels.OrderSideBuy)
	}
	return nil
}

func (c *Checker) reportDivergence(ctx context.Context, scopeKind, scopeID string, side marketmodels.OrderSide, cached, recomputed *string) {
	key := scopeKind + ":" + scopeID + ":" + string(side)
	count, _ := c.divergences.Compute(key, func(old int, _ bool) (int, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})

	fields := []zap.Field{
		zap.String("scope_kind", scopeKind),
		zap.String("scope_id", scopeID),
		zap.String("side", string(side)),
		zap.String("cached_order_id", refString(cached)),
		zap.String("recomputed_order_id", refString(recomputed)),
		zap.Int("consecutive", count),
	}
	if count >= escalateAfter {
		c.logger.Error("Cache divergence persists", fields...)
	} else {
		c.logger.Warn("Cache divergence detected", fields...)
	}

	if c.trigger == nil {
		return
	}
	var err error
	if scopeKind == "collection" {
		err = c.trigger.TriggerCollectionRecompute(ctx, scopeID, side)
	} else {
		contract, tokenID := splitScopeID(scopeID)
		err = c.trigger.TriggerTokenRecompute(ctx, contract, tokenID, side)
	}
	if err != nil {
		c.logger.Warn("Failed to trigger recompute for divergent scope",
			zap.String("scope_kind", scopeKind),
			zap.String("scope_id", scopeID),
			zap.Error(err))
	}
}

func (c *Checker) clearDivergence(scopeKind, scopeID string, side marketmodels.OrderSide) {
	c.divergences.Delete(scopeKind + ":" + scopeID + ":" + string(side))
}

// DivergenceCount exposes the consecutive counter for one scope.
func (c *Checker) DivergenceCount(scopeKind, scopeID string, side marketmodels.OrderSide) int {
	count, _ := c.divergences.Load(scopeKind + ":" + scopeID + ":" + string(side))
	return count
}

func refsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func refString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func splitScopeID(scopeID string) (contract, tokenID string) {
	for i := 0; i < len(scopeID); i++ {
		if scopeID[i] == ':' {
			return scopeID[:i], scopeID[i+1:]
		}
	}
	return scopeID, ""
}
