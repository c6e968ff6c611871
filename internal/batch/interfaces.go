package batch

import (
	"context"
	"strconv"
	"time"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

// WorkItem is one (position, keyword) pair of the declared item list.
type WorkItem struct {
	Position int
	Keyword  string
}

// JobRunner produces output for a keyword and reports where it landed.
// It may fail arbitrarily; its own item counts are never trusted.
type JobRunner interface {
	Run(ctx context.Context, keyword string) (outputPath string, err error)
}

// Yield is what an inspector measured at an output path.
type Yield struct {
	Items  int
	SizeMB float64
}

// OutputInspector measures a job's output. A missing path yields zero.
type OutputInspector interface {
	Inspect(path string) (Yield, error)
}

// RecordWriter is the write side of the checkpoint log.
type RecordWriter interface {
	Upsert(ctx context.Context, rec checkpoint.Record) error
}

// RemediableSource lists log rows that need another pass.
type RemediableSource interface {
	Remediable(minItems int) []checkpoint.Remediation
}

// CheckpointLog is everything the orchestrator needs from the log.
type CheckpointLog interface {
	RecordWriter
	RemediableSource
	Flush(ctx context.Context) error
	Name() string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Publisher pushes item events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Metrics receives run telemetry.
type Metrics interface {
	ObserveAttempt(result string)
	ObserveItem(status checkpoint.Status, duration time.Duration, items int, sizeMB float64)
	ObserveCooldown(d time.Duration)
	SetConsecutiveErrors(n int)
	SetCurrentPosition(position int)
}

// Attempt results reported to Metrics.
const (
	AttemptSuccess      = "success"
	AttemptError        = "error"
	AttemptInsufficient = "insufficient"
)

type nopMetrics struct{}

func (nopMetrics) ObserveAttempt(string)                                      {}
func (nopMetrics) ObserveItem(checkpoint.Status, time.Duration, int, float64) {}
func (nopMetrics) ObserveCooldown(time.Duration)                              {}
func (nopMetrics) SetConsecutiveErrors(int)                                   {}
func (nopMetrics) SetCurrentPosition(int)                                     {}

// ItemEvent is published once per terminal record.
type ItemEvent struct {
	RunID      string            `json:"run_id"`
	Keyword    string            `json:"keyword"`
	Position   int               `json:"position"`
	Status     checkpoint.Status `json:"status"`
	ItemCount  int               `json:"item_count"`
	SizeMB     float64           `json:"total_size_mb"`
	OutputPath string            `json:"output_path"`
	Attempts   int               `json:"attempts"`
	Error      string            `json:"error,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Attributes lets subscribers filter events without decoding the body.
func (e ItemEvent) Attributes() map[string]string {
	return map[string]string{
		"run_id":   e.RunID,
		"keyword":  e.Keyword,
		"position": strconv.Itoa(e.Position),
		"status":   string(e.Status),
	}
}
