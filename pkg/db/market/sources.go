package market

import (
	"context"
	"fmt"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
)

// initSources creates the order source attribution registry.
func (db *DB) initSources(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS order_sources (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_order_sources_domain ON order_sources(domain)
			WHERE domain <> '';
	`

	return db.Exec(ctx, query)
}

// GetSource fetches one source by id. Returns nil when unknown.
func (db *DB) GetSource(ctx context.Context, id string) (*marketmodels.Source, error) {
	query := `SELECT id, domain, name, created_at FROM order_sources WHERE id = $1`

	var s marketmodels.Source
	err := db.GetExecutor(ctx).QueryRow(ctx, query, id).Scan(&s.ID, &s.Domain, &s.Name, &s.CreatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get source %s: %w", id, err)
	}
	return &s, nil
}

// UpsertSource registers or renames a source.
func (db *DB) UpsertSource(ctx context.Context, s *marketmodels.Source) error {
	query := `
		INSERT INTO order_sources (id, domain, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			domain = EXCLUDED.domain,
			name = EXCLUDED.name
	`

	if _, err := db.GetExecutor(ctx).Exec(ctx, query, s.ID, s.Domain, s.Name); err != nil {
		return fmt.Errorf("upsert source %s: %w", s.ID, err)
	}
	return nil
}

// ListSources returns the full registry, used to warm the read-through cache.
func (db *DB) ListSources(ctx context.Context) ([]*marketmodels.Source, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx, `SELECT id, domain, name, created_at FROM order_sources`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []*marketmodels.Source
	for rows.Next() {
		var s marketmodels.Source
		if err := rows.Scan(&s.ID, &s.Domain, &s.Name, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, &s)
	}
	return sources, rows.Err()
}
