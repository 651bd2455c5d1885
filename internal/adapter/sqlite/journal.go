package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mapstash/mapstash/internal/domain"
	"github.com/mapstash/mapstash/internal/port"
)

// Journal persists terminal download transitions in a local SQLite
// database. It is observability only: status derivation never reads it.
type Journal struct {
	db *sql.DB
}

// Ensure Journal implements port.Journal
var _ port.Journal = (*Journal)(nil)

// Open opens a connection to the journal database, creating the file and
// schema on first use.
func Open(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return j, nil
}

// migrate creates or updates the journal schema
func (j *Journal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS download_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			region TEXT NOT NULL,
			parts TEXT NOT NULL,
			version INTEGER NOT NULL,
			bytes INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			error TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_finished_at ON download_journal(finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_region ON download_journal(region)`,
	}
	for _, migration := range migrations {
		if _, err := j.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Append records one terminal transition.
func (j *Journal) Append(e domain.JournalEntry) error {
	query := `
		INSERT INTO download_journal (region, parts, version, bytes, outcome, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var errMsg sql.NullString
	if e.Error != "" {
		errMsg = sql.NullString{String: e.Error, Valid: true}
	}
	_, err := j.db.Exec(query,
		e.Region,
		e.Parts.String(),
		e.Version,
		e.Bytes,
		e.Outcome,
		errMsg,
		e.StartedAt.UTC(),
		e.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, region, parts, version, bytes, outcome, error, started_at, finished_at
		FROM download_journal
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := j.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e      domain.JournalEntry
			parts  string
			errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Region, &parts, &e.Version, &e.Bytes,
			&e.Outcome, &errMsg, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if p, err := domain.ParseParts(parts); err == nil {
			e.Parts = p
		}
		if errMsg.Valid {
			e.Error = errMsg.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats aggregates outcomes across the whole journal.
func (j *Journal) Stats() (*domain.JournalStats, error) {
	query := `
		SELECT outcome, COUNT(*), COALESCE(SUM(bytes), 0)
		FROM download_journal
		GROUP BY outcome
	`
	rows, err := j.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.JournalStats{}
	for rows.Next() {
		var (
			outcome string
			count   int
			bytes   int64
		)
		if err := rows.Scan(&outcome, &count, &bytes); err != nil {
			return nil, fmt.Errorf("failed to scan journal stats: %w", err)
		}
		switch outcome {
		case domain.OutcomeCompleted:
			stats.Completed = count
			stats.BytesCompleted = bytes
		case domain.OutcomeFailed:
			stats.Failed = count
		case domain.OutcomeCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// Purge deletes entries whose terminal transition is older than the
// retention window and returns how many were removed.
func (j *Journal) Purge(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := j.db.Exec("DELETE FROM download_journal WHERE finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge journal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Ping checks database connectivity
func (j *Journal) Ping() error {
	return j.db.Ping()
}

// Close closes the database connection
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
