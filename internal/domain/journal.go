package domain

import "time"

// Journal outcomes. Exactly one is recorded per finished download request.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// JournalEntry is one terminal download transition kept for diagnostics.
// The journal is observability only; status derivation never reads it.
type JournalEntry struct {
	ID         int64
	Region     string
	Parts      Parts
	Version    int64
	Bytes      int64
	Outcome    string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// JournalStats aggregates journal rows for the debug API.
type JournalStats struct {
	Completed      int   `json:"completed"`
	Failed         int   `json:"failed"`
	Cancelled      int   `json:"cancelled"`
	BytesCompleted int64 `json:"bytes_completed"`
}
