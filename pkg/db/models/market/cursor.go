package market

import "time"

const CursorsTableName = "job_cursors"
const DeadLettersTableName = "dead_letter_events"
const SourcesTableName = "order_sources"

// Cursor is the persisted progress marker for a backfill or replay job.
// It is advanced only after the corresponding batch is durably committed, so
// a crash reprocesses at most the last uncommitted batch.
type Cursor struct {
	JobName   string    `json:"job_name"`
	Position  string    `json:"position"` // JSON payload, job-specific shape
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// BackfillPosition is the cursor payload for the event backfill scan,
// ordered by (created_at, dedup key) for a stable sort.
type BackfillPosition struct {
	CreatedAt  time.Time `json:"created_at"`
	TxHash     string    `json:"tx_hash"`
	LogIndex   int64     `json:"log_index"`
	BatchIndex int64     `json:"batch_index"`
}

// DeadLetter is a malformed inbound payload parked with full context instead
// of blocking the worker pool.
type DeadLetter struct {
	ID        int64     `json:"id,omitempty"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Source is one marketplace/aggregator attribution entry.
type Source struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
