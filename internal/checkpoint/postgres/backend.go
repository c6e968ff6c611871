// Package postgres stores checkpoint tables in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and the table holding the log.
type Config struct {
	DSN             string
	Table           string
	LogName         string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Backend implements checkpoint.Backend. Each log is a set of rows
// sharing log_name; Save replaces that set inside one transaction.
type Backend struct {
	pool    pool
	table   string
	logName string
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("checkpoint.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b, err := NewWithPool(ctx, p, cfg.Table, cfg.LogName)
	if err != nil {
		p.Close()
		return nil, err
	}
	return b, nil
}

// NewWithPool builds a Backend from an existing pool (primarily for testing).
func NewWithPool(ctx context.Context, p pool, table, logName string) (*Backend, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "checkpoint_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logName == "" {
		return nil, fmt.Errorf("log name is required")
	}
	b := &Backend{pool: p, table: table, logName: logName}
	if err := b.migrate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	log_name         TEXT NOT NULL,
	keyword          TEXT NOT NULL,
	position         INTEGER NOT NULL,
	status           TEXT NOT NULL,
	output_path      TEXT NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ NOT NULL,
	duration_minutes DOUBLE PRECISION NOT NULL,
	item_count       INTEGER NOT NULL,
	total_size_mb    DOUBLE PRECISION NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (log_name, keyword, position)
)`, b.table)
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Name identifies the log as <table>/<log name>.
func (b *Backend) Name() string {
	return b.table + "/" + b.logName
}

// Close releases the pool.
func (b *Backend) Close() {
	if b == nil || b.pool == nil {
		return
	}
	b.pool.Close()
}

// Load returns the rows of this log ordered by position. A log without
// rows reports checkpoint.ErrNotExist.
func (b *Backend) Load(ctx context.Context) ([]checkpoint.Record, error) {
	query := fmt.Sprintf(`
SELECT keyword, position, status, output_path, started_at, finished_at,
	duration_minutes, item_count, total_size_mb, error_message
FROM %s
WHERE log_name = $1
ORDER BY position`, b.table)
	rows, err := b.pool.Query(ctx, query, b.logName)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint rows: %w", err)
	}
	defer rows.Close()

	var records []checkpoint.Record
	for rows.Next() {
		var (
			rec    checkpoint.Record
			status string
		)
		if err := rows.Scan(
			&rec.Keyword,
			&rec.Position,
			&status,
			&rec.OutputPath,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.DurationMinutes,
			&rec.ItemCount,
			&rec.TotalSizeMB,
			&rec.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", checkpoint.ErrCorruptLog, err)
		}
		rec.Status = checkpoint.Status(status)
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

// Save replaces every row of this log in a single transaction.
func (b *Backend) Save(ctx context.Context, records []checkpoint.Record) (err error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE log_name = $1`, b.table)
	if _, err = tx.Exec(ctx, deleteQuery, b.logName); err != nil {
		return fmt.Errorf("clear checkpoint rows: %w", err)
	}
	insertQuery := fmt.Sprintf(`
INSERT INTO %s (
	log_name, keyword, position, status, output_path, started_at, finished_at,
	duration_minutes, item_count, total_size_mb, error_message
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, b.table)
	for _, rec := range records {
		if _, err = tx.Exec(ctx, insertQuery,
			b.logName,
			rec.Keyword,
			rec.Position,
			string(rec.Status),
			rec.OutputPath,
			rec.StartedAt,
			rec.FinishedAt,
			rec.DurationMinutes,
			rec.ItemCount,
			rec.TotalSizeMB,
			rec.ErrorMessage,
		); err != nil {
			return fmt.Errorf("insert checkpoint row %s: %w", rec.Key(), err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoint tx: %w", err)
	}
	return nil
}
