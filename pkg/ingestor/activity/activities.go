package activity

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/transform"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// activityChannel carries published activity ids for realtime subscribers.
const activityChannel = "market:activities"

// PublishActivities projects a batch of events into activity documents and
// writes them to the activity index. Documents that fail the batch write are
// retried one more time individually; anything still failing is reported
// back so the workflow can decide whether to retry the whole activity.
func (c *Context) PublishActivities(ctx context.Context, in *types.PublishActivitiesInput) (*types.PublishActivitiesOutput, error) {
	docs := make([]*marketmodels.ActivityDocument, 0, len(in.Events))
	for _, ev := range in.Events {
		actx, err := c.activityContextFor(ctx, ev)
		if err != nil {
			return nil, err
		}
		if doc := transform.Activity(ev, actx); doc != nil {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return &types.PublishActivitiesOutput{}, nil
	}

	failed, err := c.ActivityIndex.UpsertDocuments(ctx, docs)
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		failed, err = c.retryDocuments(ctx, docs, failed)
		if err != nil {
			return nil, err
		}
	}

	failedSet := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		failedSet[id] = struct{}{}
	}
	published := len(docs) - len(failed)
	if published > 0 && c.Notifier != nil {
		ids := make([]string, 0, published)
		for _, doc := range docs {
			if _, ok := failedSet[doc.ID]; !ok {
				ids = append(ids, doc.ID)
			}
		}
		msg, _ := json.Marshal(ids)
		c.Notifier.Publish(ctx, activityChannel, string(msg))
	}
	if len(failed) > 0 {
		c.Logger.Warn("Some activity documents failed to publish",
			zap.Int("failed", len(failed)),
			zap.Int("published", published))
	}

	return &types.PublishActivitiesOutput{Published: published, FailedIDs: failed}, nil
}

// activityContextFor resolves the contextual fields the projection cannot
// derive from the event alone.
func (c *Context) activityContextFor(ctx context.Context, ev *marketmodels.Event) (transform.ActivityContext, error) {
	actx := transform.ActivityContext{Now: time.Now().UTC()}

	if ev.Contract != "" {
		token, err := c.MarketDB.GetToken(ctx, ev.Contract, ev.TokenID)
		switch {
		case err == nil:
			actx.CollectionID = token.CollectionID
		case postgres.IsNoRows(err):
			actx.CollectionID = ev.Contract
		default:
			return actx, err
		}
	}

	if ev.OrderID != "" {
		order, err := c.MarketDB.GetOrder(ctx, ev.OrderID)
		switch {
		case err == nil:
			actx.OrderSide = order.Side
			if c.Sources != nil && order.Source != "" {
				// Attribution is best effort; an unresolvable source never
				// blocks publication.
				if s, err := c.Sources.Get(ctx, order.Source); err == nil && s != nil {
					actx.SourceDomain = s.Domain
				}
			}
		case postgres.IsNoRows(err):
			actx.OrderSide = marketmodels.OrderSideSell
		default:
			return actx, err
		}
	}

	return actx, nil
}

func (c *Context) retryDocuments(ctx context.Context, docs []*marketmodels.ActivityDocument, failedIDs []string) ([]string, error) {
	failedSet := make(map[string]struct{}, len(failedIDs))
	for _, id := range failedIDs {
		failedSet[id] = struct{}{}
	}
	retry := make([]*marketmodels.ActivityDocument, 0, len(failedIDs))
	for _, doc := range docs {
		if _, ok := failedSet[doc.ID]; ok {
			retry = append(retry, doc)
		}
	}
	return c.ActivityIndex.UpsertDocuments(ctx, retry)
}

// DeleteActivities tombstones activity documents by id.
func (c *Context) DeleteActivities(ctx context.Context, in *types.DeleteActivitiesInput) error {
	if len(in.IDs) == 0 {
		return nil
	}
	if err := c.ActivityIndex.DeleteDocuments(ctx, in.IDs); err != nil {
		return err
	}
	c.Logger.Info("Deleted activity documents", zap.Int("count", len(in.IDs)))
	return nil
}
