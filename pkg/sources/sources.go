// Package sources is a read-through cache over the order source registry.
// It owns its own lifecycle: entries load on first use, Invalidate drops
// them, and the registry is injected into workers instead of living as a
// process-wide global.
package sources

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// Registry resolves order source attribution with an in-process cache.
type Registry struct {
	logger *zap.Logger
	store  Store
	byID   *xsync.Map[string, *marketmodels.Source]
}

// Store is the slice of the market store the registry needs.
type Store interface {
	GetSource(ctx context.Context, id string) (*marketmodels.Source, error)
	UpsertSource(ctx context.Context, s *marketmodels.Source) error
	ListSources(ctx context.Context) ([]*marketmodels.Source, error)
}

// NewRegistry builds an empty registry backed by the store.
func NewRegistry(logger *zap.Logger, store Store) *Registry {
	return &Registry{
		logger: logger,
		store:  store,
		byID:   xsync.NewMap[string, *marketmodels.Source](),
	}
}

// Get resolves a source by id, loading it from the store on first use.
// Unknown ids resolve to nil without error; attribution is best effort.
func (r *Registry) Get(ctx context.Context, id string) (*marketmodels.Source, error) {
	if id == "" {
		return nil, nil
	}
	if s, ok := r.byID.Load(id); ok {
		return s, nil
	}

	s, err := r.store.GetSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", id, err)
	}
	if s != nil {
		r.byID.Store(id, s)
	}
	return s, nil
}

// Register persists a source and updates the cache in place.
func (r *Registry) Register(ctx context.Context, s *marketmodels.Source) error {
	if err := r.store.UpsertSource(ctx, s); err != nil {
		return err
	}
	r.byID.Store(s.ID, s)
	return nil
}

// Warm preloads the full registry, typically at worker start.
func (r *Registry) Warm(ctx context.Context) error {
	all, err := r.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("warm sources: %w", err)
	}
	for _, s := range all {
		r.byID.Store(s.ID, s)
	}
	r.logger.Debug("Warmed source registry", zap.Int("count", len(all)))
	return nil
}

// Invalidate drops one cached entry so the next Get reloads it.
func (r *Registry) Invalidate(id string) {
	r.byID.Delete(id)
}

// InvalidateAll clears the cache.
func (r *Registry) InvalidateAll() {
	r.byID.Clear()
}
