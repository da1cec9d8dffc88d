package market

import (
	"context"
	"fmt"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// initDeadLetters creates the parking table for malformed inbound payloads.
func (db *DB) initDeadLetters(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS dead_letter_events (
			id BIGSERIAL PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);
	`

	return db.Exec(ctx, query)
}

// InsertDeadLetter parks a payload that could not be normalized, with enough
// context to diagnose it later. The consuming worker keeps going.
func (db *DB) InsertDeadLetter(ctx context.Context, dl *marketmodels.DeadLetter) error {
	query := `
		INSERT INTO dead_letter_events (source, reason, payload)
		VALUES ($1, $2, $3)
	`

	if _, err := db.GetExecutor(ctx).Exec(ctx, query, dl.Source, dl.Reason, dl.Payload); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}
