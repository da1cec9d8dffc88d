package activity

import (
	"context"

	"go.uber.org/zap"

	"github.com/mgamer/indexer-v3-sub017/pkg/db/activityindex"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/redis"
	"github.com/mgamer/indexer-v3-sub017/pkg/sources"
	"github.com/mgamer/indexer-v3-sub017/pkg/temporal"
)

// Notifier publishes best-effort realtime notifications for the websocket
// collaborator. The redis client implements it.
type Notifier interface {
	Publish(ctx context.Context, channel string, message interface{})
}

// Context carries the dependencies the pipeline activities run against.
// Everything is injected; activities hold no ambient global state.
type Context struct {
	Logger         *zap.Logger
	MarketDB       market.Store
	ActivityIndex  activityindex.Store
	Notifier       Notifier
	Locker         redis.Locker
	Sources        *sources.Registry
	TemporalClient *temporal.Client
}
