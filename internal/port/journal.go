package port

import (
	"time"

	"github.com/mapstash/mapstash/internal/domain"
)

// Journal records terminal download transitions for diagnostics.
type Journal interface {
	Append(e domain.JournalEntry) error
	// Recent returns the newest entries, most recent first.
	Recent(limit int) ([]domain.JournalEntry, error)
	Stats() (*domain.JournalStats, error)
	// Purge deletes entries older than the retention window and returns
	// how many were removed.
	Purge(olderThan time.Duration) (int, error)
	Ping() error
	Close() error
}

// NullJournal discards every entry. It stands in when journalling is
// disabled.
type NullJournal struct{}

func (NullJournal) Append(domain.JournalEntry) error { return nil }

func (NullJournal) Recent(int) ([]domain.JournalEntry, error) { return nil, nil }

func (NullJournal) Stats() (*domain.JournalStats, error) { return &domain.JournalStats{}, nil }

func (NullJournal) Purge(time.Duration) (int, error) { return 0, nil }

func (NullJournal) Ping() error { return nil }

func (NullJournal) Close() error { return nil }
