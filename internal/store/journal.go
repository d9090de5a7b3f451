package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nicoakes/RainRadarrNZ/internal/radar"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS fetch_attempts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT    NOT NULL,
	url          TEXT    NOT NULL,
	file_name    TEXT    NOT NULL,
	outcome      TEXT    NOT NULL,
	bytes        INTEGER NOT NULL DEFAULT 0,
	error        TEXT    NOT NULL DEFAULT '',
	attempted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_attempts_attempted_at ON fetch_attempts(attempted_at);
`

// Journal is a SQLite log of fetch attempts.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) the journal database at path.
// ":memory:" gives a throwaway journal.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one attempt.
func (j *Journal) Record(ctx context.Context, a radar.Attempt) error {
	at := a.AttemptedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fetch_attempts (run_id, url, file_name, outcome, bytes, error, attempted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.URL, a.FileName, string(a.Outcome), a.Bytes, a.Err, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Summary counts attempts by outcome and finds the last download.
func (j *Journal) Summary(ctx context.Context) (radar.JournalSummary, error) {
	var sum radar.JournalSummary

	rows, err := j.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM fetch_attempts GROUP BY outcome`)
	if err != nil {
		return sum, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return sum, fmt.Errorf("scan outcome: %w", err)
		}
		sum.Attempts += n
		switch radar.Outcome(outcome) {
		case radar.OutcomeDownloaded:
			sum.Downloaded = n
		case radar.OutcomeMissing:
			sum.Missing = n
		case radar.OutcomeFailed:
			sum.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return sum, err
	}

	var (
		url string
		ms  int64
	)
	err = j.db.QueryRowContext(ctx,
		`SELECT url, attempted_at FROM fetch_attempts
		 WHERE outcome = ? ORDER BY attempted_at DESC, id DESC LIMIT 1`,
		string(radar.OutcomeDownloaded)).Scan(&url, &ms)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return sum, fmt.Errorf("query last download: %w", err)
	default:
		sum.LastURL = url
		sum.LastDownloadAt = time.UnixMilli(ms).UTC()
	}

	return sum, nil
}

// Prune deletes attempts recorded before the given time.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM fetch_attempts WHERE attempted_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}
