// Package checkpoint implements the durable keyed table that records one
// outcome per (keyword, position) pair across batch runs.
package checkpoint

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Status is the terminal state of a keyword attempt sequence.
type Status string

// Terminal statuses persisted in the log.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Columns is the stable column order of the tabular log.
var Columns = []string{
	"keyword",
	"position",
	"status",
	"output_path",
	"started_at",
	"finished_at",
	"duration_minutes",
	"item_count",
	"total_size_mb",
	"error_message",
}

// Key identifies a record; keywords alone are not unique.
type Key struct {
	Keyword  string
	Position int
}

// String renders the key for logs.
func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.Position, k.Keyword)
}

// Record is one row of the checkpoint log.
type Record struct {
	Keyword         string    `json:"keyword"`
	Position        int       `json:"position"`
	Status          Status    `json:"status"`
	OutputPath      string    `json:"output_path"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationMinutes float64   `json:"duration_minutes"`
	ItemCount       int       `json:"item_count"`
	TotalSizeMB     float64   `json:"total_size_mb"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// Key returns the uniqueness key of the record.
func (r Record) Key() Key {
	return Key{Keyword: r.Keyword, Position: r.Position}
}

// Validate rejects records that cannot be stored in the keyed table.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Keyword) == "" {
		return fmt.Errorf("record keyword is required")
	}
	if r.Position < 1 {
		return fmt.Errorf("record position must be >= 1, got %d", r.Position)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown record status %q", r.Status)
	}
	if r.ItemCount < 0 {
		return fmt.Errorf("record item count must be >= 0, got %d", r.ItemCount)
	}
	if r.TotalSizeMB < 0 {
		return fmt.Errorf("record total size must be >= 0, got %v", r.TotalSizeMB)
	}
	return nil
}

// Valid reports whether s is a known terminal status.
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Reason explains why a record needs another pass.
type Reason string

// Remediation reasons, in the order they are checked.
const (
	ReasonFailedStatus      Reason = "failed status"
	ReasonZeroItems         Reason = "zero items"
	ReasonInsufficientItems Reason = "insufficient items"
)

// Remediation reports whether the record should be retried given the
// minimum yield, and why.
func (r Record) Remediation(minItems int) (Reason, bool) {
	switch {
	case r.Status == StatusFailed:
		return ReasonFailedStatus, true
	case r.ItemCount == 0:
		return ReasonZeroItems, true
	case r.Status == StatusSuccess && r.ItemCount < minItems:
		return ReasonInsufficientItems, true
	default:
		return "", false
	}
}

// Round2 rounds to two decimals, the precision of derived log columns.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DurationMinutes derives the duration column from the timestamps.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		return 0
	}
	return Round2(end.Sub(start).Minutes())
}
