package market

import (
	"context"
	"fmt"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
)

// initCursors creates the per-job progress marker table.
func (db *DB) initCursors(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS job_cursors (
			job_name TEXT PRIMARY KEY,
			position JSONB NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);
	`

	return db.Exec(ctx, query)
}

// GetCursor returns the persisted cursor for a job, or nil when the job has
// never saved one.
func (db *DB) GetCursor(ctx context.Context, jobName string) (*marketmodels.Cursor, error) {
	query := `SELECT job_name, position::text, updated_at FROM job_cursors WHERE job_name = $1`

	var c marketmodels.Cursor
	err := db.GetExecutor(ctx).QueryRow(ctx, query, jobName).Scan(&c.JobName, &c.Position, &c.UpdatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cursor %s: %w", jobName, err)
	}
	return &c, nil
}

// SaveCursor persists a job's position. Callers advance the cursor only
// after the corresponding batch has committed.
func (db *DB) SaveCursor(ctx context.Context, jobName, position string) error {
	query := `
		INSERT INTO job_cursors (job_name, position)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (job_name) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = now()
	`

	if _, err := db.GetExecutor(ctx).Exec(ctx, query, jobName, position); err != nil {
		return fmt.Errorf("save cursor %s: %w", jobName, err)
	}
	return nil
}

// DeleteCursor clears a completed campaign's cursor so the next run starts
// fresh.
func (db *DB) DeleteCursor(ctx context.Context, jobName string) error {
	if _, err := db.GetExecutor(ctx).Exec(ctx, `DELETE FROM job_cursors WHERE job_name = $1`, jobName); err != nil {
		return fmt.Errorf("delete cursor %s: %w", jobName, err)
	}
	return nil
}
