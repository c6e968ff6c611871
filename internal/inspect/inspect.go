// Package inspect measures what a job runner left on disk.
package inspect

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/JakeFAU/keyword-harvester/internal/batch"
)

// DefaultExtensions are the suffixes counted as items.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

const bytesPerMB = 1 << 20

// Inspector counts item files and total size under an output directory.
type Inspector struct {
	fs         afero.Fs
	extensions map[string]struct{}
}

// New builds an Inspector over fsys. Empty extensions fall back to
// DefaultExtensions; matching is case-insensitive.
func New(fsys afero.Fs, extensions []string) *Inspector {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return &Inspector{fs: fsys, extensions: set}
}

// Inspect walks path recursively. Items counts files with a matching
// extension; SizeMB sums every regular file. A missing path yields zero.
func (i *Inspector) Inspect(path string) (batch.Yield, error) {
	if _, err := i.fs.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return batch.Yield{}, nil
		}
		return batch.Yield{}, fmt.Errorf("stat %s: %w", path, err)
	}

	var (
		items int
		bytes int64
	)
	err := afero.Walk(i.fs, path, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		bytes += info.Size()
		if _, ok := i.extensions[strings.ToLower(filepath.Ext(p))]; ok {
			items++
		}
		return nil
	})
	if err != nil {
		return batch.Yield{}, fmt.Errorf("walk %s: %w", path, err)
	}
	return batch.Yield{Items: items, SizeMB: float64(bytes) / bytesPerMB}, nil
}

var _ batch.OutputInspector = (*Inspector)(nil)
