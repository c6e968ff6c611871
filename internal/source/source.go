// Package source reads the declared keyword list.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/JakeFAU/keyword-harvester/internal/batch"
)

// KeywordColumn is the required header column.
const KeywordColumn = "keyword"

// Load reads a CSV file whose header contains a keyword column. Row order
// gives 1-based positions. Every failure wraps batch.ErrValidation.
func Load(fs afero.Fs, path string) ([]batch.WorkItem, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: keyword file %s not found", batch.ErrValidation, path)
		}
		return nil, fmt.Errorf("%w: open keyword file %s: %v", batch.ErrValidation, path, err)
	}
	defer f.Close()

	items, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("keyword file %s: %w", path, err)
	}
	return items, nil
}

// Parse decodes the keyword CSV from r.
func Parse(r io.Reader) ([]batch.WorkItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file, expected a %q header", batch.ErrValidation, KeywordColumn)
		}
		return nil, fmt.Errorf("%w: read header: %v", batch.ErrValidation, err)
	}
	col := -1
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		if strings.EqualFold(strings.TrimSpace(name), KeywordColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: no %q column in header %v", batch.ErrValidation, KeywordColumn, header)
	}

	var items []batch.WorkItem
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		position := len(items) + 1
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", batch.ErrValidation, position, err)
		}
		if col >= len(row) {
			return nil, fmt.Errorf("%w: row %d has no %q value", batch.ErrValidation, position, KeywordColumn)
		}
		keyword := strings.TrimSpace(row[col])
		if keyword == "" {
			return nil, fmt.Errorf("%w: row %d has a blank keyword", batch.ErrValidation, position)
		}
		items = append(items, batch.WorkItem{Position: position, Keyword: keyword})
	}
	return items, nil
}
