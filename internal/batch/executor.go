package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

// Outcome is the terminal result of one keyword's attempt sequence.
type Outcome struct {
	Record   checkpoint.Record
	Attempts int
	// Err is nil on success and wraps ErrTransientRunner or
	// ErrInsufficientYield otherwise.
	Err error
}

// Succeeded reports whether the keyword met the yield threshold.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Record.Status == checkpoint.StatusSuccess
}

// Executor resolves a single keyword: cooldown check, bounded retries with
// exponential backoff, yield verification, and one terminal log write.
type Executor struct {
	runner    JobRunner
	inspector OutputInspector
	log       RecordWriter
	cooldown  *Cooldown
	sleeper   Sleeper
	clock     Clock
	policy    Policy
	metrics   Metrics
	logger    *zap.Logger
}

// NewExecutor wires an Executor.
func NewExecutor(
	runner JobRunner,
	inspector OutputInspector,
	log RecordWriter,
	cooldown *Cooldown,
	sleeper Sleeper,
	clock Clock,
	policy Policy,
	metrics Metrics,
	logger *zap.Logger,
) *Executor {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		runner:    runner,
		inspector: inspector,
		log:       log,
		cooldown:  cooldown,
		sleeper:   sleeper,
		clock:     clock,
		policy:    policy,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run processes item and persists its terminal record. The returned error
// is non-nil only when the run must stop: an interrupt (ErrInterrupted) or
// a failed log write. Runner failures are reported through Outcome.
func (e *Executor) Run(ctx context.Context, item WorkItem) (Outcome, error) {
	logger := e.logger.With(zap.Int("position", item.Position), zap.String("keyword", item.Keyword))

	if cooled, err := e.cooldown.MaybeCooldown(ctx); err != nil {
		return Outcome{}, interrupted(err)
	} else if cooled {
		logger.Info("resuming after cooldown")
	}

	startedAt := e.now()
	var (
		rec      checkpoint.Record
		itemErr  error
		attempts int
	)
	for attempt := 1; ; attempt++ {
		attempts = attempt
		yield, outputPath, err := e.attempt(ctx, item.Keyword)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, interrupted(ctx.Err())
			}
			streak := e.cooldown.RecordFailure()
			e.metrics.ObserveAttempt(AttemptError)
			logger.Warn("runner attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", e.policy.MaxAttempts),
				zap.Int("consecutive_errors", streak),
				zap.Error(err),
			)
			if !e.policy.ShouldRetry(err, attempt) {
				itemErr = fmt.Errorf("%w: attempt %d/%d: %v", ErrTransientRunner, attempt, e.policy.MaxAttempts, err)
				rec = e.failedRecord(item, startedAt, itemErr)
				break
			}
			delay := e.policy.Backoff(attempt)
			logger.Info("backing off before retry", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			if err := e.sleeper.Sleep(ctx, delay); err != nil {
				return Outcome{}, interrupted(err)
			}
			continue
		}

		if yield.Items < e.policy.MinRequiredItems {
			streak := e.cooldown.RecordFailure()
			e.metrics.ObserveAttempt(AttemptInsufficient)
			itemErr = fmt.Errorf("%w: downloaded %d items, fewer than the required %d",
				ErrInsufficientYield, yield.Items, e.policy.MinRequiredItems)
			logger.Warn("insufficient yield",
				zap.Int("item_count", yield.Items),
				zap.Int("min_required", e.policy.MinRequiredItems),
				zap.Int("consecutive_errors", streak),
			)
			rec = e.record(item, checkpoint.StatusFailed, outputPath, startedAt, yield, itemErr.Error())
			break
		}

		e.cooldown.RecordSuccess()
		e.metrics.ObserveAttempt(AttemptSuccess)
		rec = e.record(item, checkpoint.StatusSuccess, outputPath, startedAt, yield, "")
		logger.Info("keyword succeeded",
			zap.Int("attempt", attempt),
			zap.Int("item_count", yield.Items),
			zap.Float64("total_size_mb", rec.TotalSizeMB),
		)
		break
	}

	// The keyword finished; an interrupt arriving now must not drop its
	// record. The caller notices the cancelled context at its next step.
	if err := e.log.Upsert(context.WithoutCancel(ctx), rec); err != nil {
		return Outcome{}, fmt.Errorf("record outcome for %s: %w", rec.Key(), err)
	}
	e.metrics.ObserveItem(rec.Status, rec.FinishedAt.Sub(rec.StartedAt), rec.ItemCount, rec.TotalSizeMB)
	return Outcome{Record: rec, Attempts: attempts, Err: itemErr}, nil
}

// attempt invokes the runner once and measures what it produced. A failed
// measurement counts as a failed attempt.
func (e *Executor) attempt(ctx context.Context, keyword string) (Yield, string, error) {
	outputPath, err := e.runner.Run(ctx, keyword)
	if err != nil {
		return Yield{}, "", err
	}
	yield, err := e.inspector.Inspect(outputPath)
	if err != nil {
		return Yield{}, "", fmt.Errorf("inspect output %s: %w", outputPath, err)
	}
	return yield, outputPath, nil
}

func (e *Executor) failedRecord(item WorkItem, startedAt time.Time, cause error) checkpoint.Record {
	path := FailedOutputPath(e.policy.SavePath, item.Keyword)
	yield, err := e.inspector.Inspect(path)
	if err != nil {
		yield = Yield{}
	}
	return e.record(item, checkpoint.StatusFailed, path, startedAt, Yield{SizeMB: yield.SizeMB}, cause.Error())
}

func (e *Executor) record(
	item WorkItem,
	status checkpoint.Status,
	outputPath string,
	startedAt time.Time,
	yield Yield,
	errMsg string,
) checkpoint.Record {
	finishedAt := e.now()
	return checkpoint.Record{
		Keyword:         item.Keyword,
		Position:        item.Position,
		Status:          status,
		OutputPath:      outputPath,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		DurationMinutes: checkpoint.DurationMinutes(startedAt, finishedAt),
		ItemCount:       yield.Items,
		TotalSizeMB:     checkpoint.Round2(yield.SizeMB),
		ErrorMessage:    errMsg,
	}
}

// now truncates to whole seconds, the precision the log stores.
func (e *Executor) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Second)
}

// FailedOutputPath is the path recorded when no runner output is trusted.
func FailedOutputPath(savePath, keyword string) string {
	return filepath.Join(savePath, keyword+"_failed")
}

func interrupted(cause error) error {
	if errors.Is(cause, ErrInterrupted) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrInterrupted, cause)
}
