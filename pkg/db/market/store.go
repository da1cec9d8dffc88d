package market

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// Store is the surface the pipeline workers depend on. *DB implements it;
// tests substitute fakes.
type Store interface {
	// Events
	InsertEvents(ctx context.Context, events []*marketmodels.Event) ([]bool, error)
	DeleteEventsForBlock(ctx context.Context, blockHash string) ([]*marketmodels.Event, error)
	ListEventsAfter(ctx context.Context, pos *marketmodels.BackfillPosition, limit int) ([]*marketmodels.Event, error)
	HasEventsForOrder(ctx context.Context, orderID string) (bool, error)
	ListEventsForOrder(ctx context.Context, orderID string) ([]*marketmodels.Event, error)

	// Orders
	GetOrder(ctx context.Context, id string) (*marketmodels.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (*marketmodels.Order, error)
	InsertOrder(ctx context.Context, o *marketmodels.Order) (bool, error)
	UpdateOrderState(ctx context.Context, o *marketmodels.Order) error
	InsertStatusEvent(ctx context.Context, se *marketmodels.StatusEvent) error
	ExpireOrders(ctx context.Context, now time.Time, limit int) ([]*ExpiredOrder, error)

	// Tokens and token sets
	EnsureToken(ctx context.Context, contract, tokenID, collectionID string) error
	UpsertTokenSetTokens(ctx context.Context, members []*marketmodels.TokenSetToken) error
	ListTokenSetMembers(ctx context.Context, tokenSetID string) ([]*marketmodels.TokenSetToken, error)
	SetTokenFlagged(ctx context.Context, contract, tokenID string, flagged bool) (bool, error)
	UpdateTokenFloorAsk(ctx context.Context, contract, tokenID string) (bool, error)
	UpdateTokenTopBid(ctx context.Context, contract, tokenID string) (bool, error)
	ComputeTokenFloorAsk(ctx context.Context, contract, tokenID string) (*Candidate, error)
	ComputeTokenTopBid(ctx context.Context, contract, tokenID string) (*Candidate, error)
	GetToken(ctx context.Context, contract, tokenID string) (*marketmodels.Token, error)
	SampleTokens(ctx context.Context, collectionID string, n int) ([]*marketmodels.Token, error)

	// Collections
	EnsureCollection(ctx context.Context, id, contract string) error
	UpdateCollectionFloorAsk(ctx context.Context, collectionID string) (bool, error)
	UpdateCollectionTopBid(ctx context.Context, collectionID string) (bool, error)
	ComputeCollectionFloorAsk(ctx context.Context, collectionID string) (*Candidate, error)
	ComputeCollectionTopBid(ctx context.Context, collectionID string) (*Candidate, error)
	GetCollection(ctx context.Context, id string) (*marketmodels.Collection, error)
	SampleCollections(ctx context.Context, n int) ([]*marketmodels.Collection, error)

	// Balances
	ApplyBalanceTransfer(ctx context.Context, contract, tokenID, from, to string, quantity decimal.Decimal) error
	UpdateBalanceTopBid(ctx context.Context, contract, tokenID, owner string) (bool, error)
	UpdateBalanceFloorSell(ctx context.Context, contract, tokenID, owner string) (bool, error)
	GetBalance(ctx context.Context, contract, tokenID, owner string) (*marketmodels.Balance, error)
	ListOwners(ctx context.Context, contract, tokenID string) ([]string, error)

	// Cursors, dead letters, sources
	GetCursor(ctx context.Context, jobName string) (*marketmodels.Cursor, error)
	SaveCursor(ctx context.Context, jobName, position string) error
	DeleteCursor(ctx context.Context, jobName string) error
	InsertDeadLetter(ctx context.Context, dl *marketmodels.DeadLetter) error
	GetSource(ctx context.Context, id string) (*marketmodels.Source, error)
	UpsertSource(ctx context.Context, s *marketmodels.Source) error
	ListSources(ctx context.Context) ([]*marketmodels.Source, error)

	// RunInTx runs fn inside a transaction; store calls made with the
	// returned context execute on that transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ Store = (*DB)(nil)

// RunInTx executes fn within a transaction embedded in the context, so every
// store method called through the derived context runs on the transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.BeginFunc(ctx, func(tx pgx.Tx) error {
		return fn(db.WithTx(ctx, tx))
	})
}
