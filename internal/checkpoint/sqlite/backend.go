// Package sqlite stores checkpoint tables in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

// Backend implements checkpoint.Backend on a single SQLite table.
type Backend struct {
	db      *sql.DB
	path    string
	logName string
}

// Open opens (or creates) the database file and ensures the schema exists.
func Open(ctx context.Context, path, logName string) (*Backend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	b, err := NewWithDB(ctx, db, path, logName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewWithDB wraps an existing handle (primarily for testing).
func NewWithDB(ctx context.Context, db *sql.DB, path, logName string) (*Backend, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logName == "" {
		return nil, fmt.Errorf("log name is required")
	}
	b := &Backend{db: db, path: path, logName: logName}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS checkpoint_records (
	log_name         TEXT NOT NULL,
	keyword          TEXT NOT NULL,
	position         INTEGER NOT NULL,
	status           TEXT NOT NULL,
	output_path      TEXT NOT NULL,
	started_at       TEXT NOT NULL,
	finished_at      TEXT NOT NULL,
	duration_minutes REAL NOT NULL,
	item_count       INTEGER NOT NULL,
	total_size_mb    REAL NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (log_name, keyword, position)
)`); err != nil {
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}
	return b, nil
}

// Name identifies the log as <db path>#<log name>.
func (b *Backend) Name() string {
	return b.path + "#" + b.logName
}

// Close closes the database handle.
func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Load returns the rows of this log, or checkpoint.ErrNotExist when empty.
func (b *Backend) Load(ctx context.Context) ([]checkpoint.Record, error) {
	rows, err := b.db.QueryContext(ctx, `
SELECT keyword, position, status, output_path, started_at, finished_at,
	duration_minutes, item_count, total_size_mb, error_message
FROM checkpoint_records
WHERE log_name = ?
ORDER BY position`, b.logName)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint rows: %w", err)
	}
	defer rows.Close()

	var records []checkpoint.Record
	for rows.Next() {
		var (
			rec               checkpoint.Record
			status            string
			started, finished string
		)
		if err := rows.Scan(
			&rec.Keyword,
			&rec.Position,
			&status,
			&rec.OutputPath,
			&started,
			&finished,
			&rec.DurationMinutes,
			&rec.ItemCount,
			&rec.TotalSizeMB,
			&rec.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", checkpoint.ErrCorruptLog, err)
		}
		rec.Status = checkpoint.Status(status)
		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("%w: started_at: %v", checkpoint.ErrCorruptLog, err)
		}
		if rec.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("%w: finished_at: %v", checkpoint.ErrCorruptLog, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", checkpoint.ErrCorruptLog, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	if len(records) == 0 {
		return nil, checkpoint.ErrNotExist
	}
	return records, nil
}

// Save replaces every row of this log in one transaction.
func (b *Backend) Save(ctx context.Context, records []checkpoint.Record) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM checkpoint_records WHERE log_name = ?`, b.logName); err != nil {
		return fmt.Errorf("clear checkpoint rows: %w", err)
	}
	for _, rec := range records {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO checkpoint_records (
	log_name, keyword, position, status, output_path, started_at, finished_at,
	duration_minutes, item_count, total_size_mb, error_message
) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			b.logName,
			rec.Keyword,
			rec.Position,
			string(rec.Status),
			rec.OutputPath,
			formatTime(rec.StartedAt),
			formatTime(rec.FinishedAt),
			rec.DurationMinutes,
			rec.ItemCount,
			rec.TotalSizeMB,
			rec.ErrorMessage,
		); err != nil {
			return fmt.Errorf("insert checkpoint row %s: %w", rec.Key(), err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint tx: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(checkpoint.TimeLayout)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(checkpoint.TimeLayout, raw)
}
