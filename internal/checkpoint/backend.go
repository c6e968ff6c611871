package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Backend persists the whole table. Save always replaces the previous
// contents; there are no partial writes.
type Backend interface {
	// Load returns the persisted records or ErrNotExist.
	Load(ctx context.Context) ([]Record, error)
	// Save replaces the persisted table with records.
	Save(ctx context.Context, records []Record) error
	// Name identifies the table, e.g. the log file path.
	Name() string
}

// Mirror receives a CSV copy of the table after each successful persist.
type Mirror interface {
	Save(ctx context.Context, objectName string, data []byte) error
}

// FileBackend stores the table as a CSV file.
type FileBackend struct {
	fs   afero.Fs
	path string
}

// NewFileBackend returns a CSV backend rooted on fs. A nil fs uses the OS.
func NewFileBackend(fs afero.Fs, path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileBackend{fs: fs, path: path}, nil
}

// Name returns the log file path.
func (b *FileBackend) Name() string {
	return b.path
}

// Load reads and parses the CSV file.
func (b *FileBackend) Load(_ context.Context) ([]Record, error) {
	data, err := afero.ReadFile(b.fs, b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("read log %s: %w", b.path, err)
	}
	records, err := DecodeCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse log %s: %w", b.path, err)
	}
	return records, nil
}

// Save writes the table to a temp file next to the log and renames it
// into place, so a crash mid-write leaves the previous table intact.
func (b *FileBackend) Save(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save log %s: %w", b.path, err)
	}
	data, err := EncodeCSV(records)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	if err := b.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create log dir %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(b.fs, dir, ".checkpoint-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", b.path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = b.fs.Remove(tmpPath)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", b.path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file for %s: %w", b.path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", b.path, err)
	}
	if err := b.fs.Rename(tmpPath, b.path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", b.path, err)
	}
	return nil
}
