// Package local mirrors checkpoint logs into a second directory.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Config captures the parameters for the local mirror.
type Config struct {
	// BaseDir is the root directory copies are written under.
	BaseDir string `mapstructure:"dir"`
}

// Mirror writes checkpoint copies to a directory, typically on another
// volume from the primary log.
type Mirror struct {
	fs      afero.Fs
	baseDir string
}

// New creates the base directory if needed and checks it is writable.
func New(fs afero.Fs, cfg Config) (*Mirror, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	info, err := fs.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := fs.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := afero.WriteFile(fs, testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := fs.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up write test file: %w", err)
	}

	return &Mirror{fs: fs, baseDir: cfg.BaseDir}, nil
}

// Save writes data to baseDir/objectName, replacing any previous copy.
func (m *Mirror) Save(ctx context.Context, objectName string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(objectName) == "" {
		return fmt.Errorf("object name is required")
	}

	fullPath := filepath.Join(m.baseDir, objectName)
	cleanBase := filepath.Clean(m.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected")
	}
	if err := m.fs.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := afero.WriteFile(m.fs, fullPath, data, 0o600); err != nil {
		return fmt.Errorf("write mirror copy: %w", err)
	}
	return nil
}

// URI returns the file:// location of objectName.
func (m *Mirror) URI(objectName string) string {
	return "file://" + filepath.Join(m.baseDir, objectName)
}
