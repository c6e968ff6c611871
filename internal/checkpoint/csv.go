package checkpoint

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrCorruptLog marks a persisted log that cannot be parsed into the
// expected schema. Resuming from such a log is never safe.
var ErrCorruptLog = errors.New("corrupt checkpoint log")

// ErrNotExist is returned by a Backend that has never persisted a table.
var ErrNotExist = errors.New("checkpoint log does not exist")

// TimeLayout is the timestamp encoding used in the tabular log.
const TimeLayout = time.RFC3339

// EncodeCSV renders records, header first, in the stable column order.
func EncodeCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(encodeRow(rec)); err != nil {
			return nil, fmt.Errorf("write row %s: %w", rec.Key(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCSV parses a tabular log. Every schema violation wraps ErrCorruptLog.
func DecodeCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Columns)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", ErrCorruptLog)
		}
		return nil, fmt.Errorf("%w: read header: %v", ErrCorruptLog, err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptLog, line, err)
		}
		rec, err := decodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptLog, line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func checkHeader(header []string) error {
	for i, col := range Columns {
		got := strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
		if got != col {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrCorruptLog, i+1, got, col)
		}
	}
	return nil
}

func encodeRow(rec Record) []string {
	return []string{
		rec.Keyword,
		strconv.Itoa(rec.Position),
		string(rec.Status),
		rec.OutputPath,
		formatTime(rec.StartedAt),
		formatTime(rec.FinishedAt),
		strconv.FormatFloat(rec.DurationMinutes, 'f', 2, 64),
		strconv.Itoa(rec.ItemCount),
		strconv.FormatFloat(rec.TotalSizeMB, 'f', 2, 64),
		rec.ErrorMessage,
	}
}

func decodeRow(row []string) (Record, error) {
	position, err := strconv.Atoi(row[1])
	if err != nil {
		return Record{}, fmt.Errorf("position: %w", err)
	}
	started, err := parseTime(row[4])
	if err != nil {
		return Record{}, fmt.Errorf("started_at: %w", err)
	}
	finished, err := parseTime(row[5])
	if err != nil {
		return Record{}, fmt.Errorf("finished_at: %w", err)
	}
	duration, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return Record{}, fmt.Errorf("duration_minutes: %w", err)
	}
	count, err := strconv.Atoi(row[7])
	if err != nil {
		return Record{}, fmt.Errorf("item_count: %w", err)
	}
	size, err := strconv.ParseFloat(row[8], 64)
	if err != nil {
		return Record{}, fmt.Errorf("total_size_mb: %w", err)
	}
	rec := Record{
		Keyword:         row[0],
		Position:        position,
		Status:          Status(row[2]),
		OutputPath:      row[3],
		StartedAt:       started,
		FinishedAt:      finished,
		DurationMinutes: duration,
		ItemCount:       count,
		TotalSizeMB:     size,
		ErrorMessage:    row[9],
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimeLayout, raw)
}
