package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Log is the in-memory keyed table mirrored synchronously to a Backend.
// After every mutation returns, the backend holds exactly what memory holds.
type Log struct {
	mu      sync.RWMutex
	backend Backend
	mirror  Mirror
	logger  *zap.Logger
	records []Record
}

// Option customizes a Log.
type Option func(*Log)

// WithMirror copies every persisted table to m.
func WithMirror(m Mirror) Option {
	return func(l *Log) {
		l.mirror = m
	}
}

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// LoadOrCreate parses the table held by backend, or initializes and
// persists an empty one when none exists yet.
func LoadOrCreate(ctx context.Context, backend Backend, opts ...Option) (*Log, error) {
	if backend == nil {
		return nil, fmt.Errorf("checkpoint backend is required")
	}
	l := &Log{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}

	records, err := backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotExist):
		l.logger.Info("creating checkpoint log", zap.String("log", backend.Name()))
		if err := l.persist(ctx, nil); err != nil {
			return nil, err
		}
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("load checkpoint log: %w", err)
	}

	seen := make(map[Key]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.Key()]; dup {
			return nil, fmt.Errorf("load checkpoint log %s: %w: duplicate key %s", backend.Name(), ErrCorruptLog, rec.Key())
		}
		seen[rec.Key()] = struct{}{}
	}
	sortByPosition(records)
	l.records = records
	l.logger.Info("loaded checkpoint log",
		zap.String("log", backend.Name()),
		zap.Int("records", len(records)),
	)
	return l, nil
}

// Upsert replaces the record with the same key in place, or appends it,
// then re-sorts by position and rewrites the whole table. On a persistence
// failure the in-memory table is left unchanged.
func (l *Log) Upsert(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]Record, len(l.records), len(l.records)+1)
	copy(next, l.records)
	replaced := false
	for i := range next {
		if next[i].Key() == rec.Key() {
			next[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, rec)
	}
	sortByPosition(next)

	if err := l.persist(ctx, next); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	l.records = next
	l.logger.Debug("checkpoint record written",
		zap.String("key", rec.Key().String()),
		zap.String("status", string(rec.Status)),
		zap.Bool("replaced", replaced),
	)
	return nil
}

// All returns a snapshot of the table in position order.
func (l *Log) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Get looks up the current record for key.
func (l *Log) Get(key Key) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.records {
		if rec.Key() == key {
			return rec, true
		}
	}
	return Record{}, false
}

// Remediable returns the records that need another pass, with the reason.
func (l *Log) Remediable(minItems int) []Remediation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Remediation
	for _, rec := range l.records {
		if reason, ok := rec.Remediation(minItems); ok {
			out = append(out, Remediation{Record: rec, Reason: reason})
		}
	}
	return out
}

// Remediation pairs a record with the reason it must be retried.
type Remediation struct {
	Record Record
	Reason Reason
}

// Flush rewrites the current table. It is idempotent because every
// mutation already persisted the same contents.
func (l *Log) Flush(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.persist(ctx, l.records)
}

// Name identifies the backing table.
func (l *Log) Name() string {
	return l.backend.Name()
}

func (l *Log) persist(ctx context.Context, records []Record) error {
	if err := l.backend.Save(ctx, records); err != nil {
		return fmt.Errorf("persist checkpoint log: %w", err)
	}
	if l.mirror == nil {
		return nil
	}
	data, err := EncodeCSV(records)
	if err != nil {
		l.logger.Warn("encode checkpoint mirror failed", zap.Error(err))
		return nil
	}
	name := filepath.Base(l.backend.Name())
	if err := l.mirror.Save(ctx, name, data); err != nil {
		l.logger.Warn("checkpoint mirror failed", zap.String("object", name), zap.Error(err))
	}
	return nil
}

func sortByPosition(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Position < records[j].Position
	})
}
