package sources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

type fakeSourceStore struct {
	sources map[string]*marketmodels.Source
	gets    int
}

func (f *fakeSourceStore) GetSource(_ context.Context, id string) (*marketmodels.Source, error) {
	f.gets++
	return f.sources[id], nil
}

func (f *fakeSourceStore) UpsertSource(_ context.Context, s *marketmodels.Source) error {
	f.sources[s.ID] = s
	return nil
}

func (f *fakeSourceStore) ListSources(_ context.Context) ([]*marketmodels.Source, error) {
	var out []*marketmodels.Source
	for _, s := range f.sources {
		out = append(out, s)
	}
	return out, nil
}

func TestGetLoadsOnFirstUse(t *testing.T) {
	store := &fakeSourceStore{sources: map[string]*marketmodels.Source{
		"opensea": {ID: "opensea", Domain: "opensea.io", Name: "OpenSea"},
	}}
	reg := NewRegistry(zaptest.NewLogger(t), store)

	s, err := reg.Get(context.Background(), "opensea")
	require.NoError(t, err)
	require.Equal(t, "opensea.io", s.Domain)
	require.Equal(t, 1, store.gets)

	// Second lookup hits the cache.
	_, err = reg.Get(context.Background(), "opensea")
	require.NoError(t, err)
	require.Equal(t, 1, store.gets)
}

func TestGetUnknownSource(t *testing.T) {
	store := &fakeSourceStore{sources: map[string]*marketmodels.Source{}}
	reg := NewRegistry(zaptest.NewLogger(t), store)

	s, err := reg.Get(context.Background(), "unknown")
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestInvalidateForcesReload(t *testing.T) {
	store := &fakeSourceStore{sources: map[string]*marketmodels.Source{
		"blur": {ID: "blur", Domain: "blur.io", Name: "Blur"},
	}}
	reg := NewRegistry(zaptest.NewLogger(t), store)

	_, err := reg.Get(context.Background(), "blur")
	require.NoError(t, err)

	store.sources["blur"] = &marketmodels.Source{ID: "blur", Domain: "blur.io", Name: "Blur v2"}
	reg.Invalidate("blur")

	s, err := reg.Get(context.Background(), "blur")
	require.NoError(t, err)
	require.Equal(t, "Blur v2", s.Name)
	require.Equal(t, 2, store.gets)
}

func TestRegisterPersistsAndCaches(t *testing.T) {
	store := &fakeSourceStore{sources: map[string]*marketmodels.Source{}}
	reg := NewRegistry(zaptest.NewLogger(t), store)

	require.NoError(t, reg.Register(context.Background(), &marketmodels.Source{ID: "x2y2", Domain: "x2y2.io"}))
	require.Contains(t, store.sources, "x2y2")

	s, err := reg.Get(context.Background(), "x2y2")
	require.NoError(t, err)
	require.Equal(t, "x2y2.io", s.Domain)
	require.Equal(t, 0, store.gets)

	reg.InvalidateAll()
	_, err = reg.Get(context.Background(), "x2y2")
	require.NoError(t, err)
	require.Equal(t, 1, store.gets)
}

func TestWarmPreloads(t *testing.T) {
	store := &fakeSourceStore{sources: map[string]*marketmodels.Source{
		"a": {ID: "a"},
		"b": {ID: "b"},
	}}
	reg := NewRegistry(zaptest.NewLogger(t), store)

	require.NoError(t, reg.Warm(context.Background()))

	_, err := reg.Get(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, 0, store.gets)
}
