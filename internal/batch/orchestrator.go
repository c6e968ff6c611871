package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	crdb "github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

// Components bundles an Orchestrator's collaborators. Publisher, Metrics
// and Logger are optional.
type Components struct {
	Runner      JobRunner
	Inspector   OutputInspector
	Log         CheckpointLog
	Policy      Policy
	Remediation RemediationPolicy
	Sleeper     Sleeper
	Clock       Clock
	Metrics     Metrics
	Publisher   Publisher
	Topic       string
	RunID       string
	Logger      *zap.Logger
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	RunID       string
	Remediation bool
	Selected    int
	Processed   int
	Succeeded   int
	Failed      int
	// LastPosition is the position of the item in progress (or last
	// processed) when the run ended; zero if nothing started.
	LastPosition int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Progress is a point-in-time view of a running batch.
type Progress struct {
	RunID             string    `json:"run_id"`
	Running           bool      `json:"running"`
	Remediation       bool      `json:"remediation"`
	Selected          int       `json:"selected"`
	Processed         int       `json:"processed"`
	Succeeded         int       `json:"succeeded"`
	Failed            int       `json:"failed"`
	CurrentPosition   int       `json:"current_position"`
	CurrentKeyword    string    `json:"current_keyword,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	CoolingDown       bool      `json:"cooling_down"`
	StartedAt         time.Time `json:"started_at,omitzero"`
}

// Orchestrator drives a run: range validation, work selection, the
// sequential per-keyword loop with pacing, and interrupt handling.
type Orchestrator struct {
	c        Components
	cooldown *Cooldown
	executor *Executor
	selector *Selector

	mu       sync.RWMutex
	progress Progress
}

// NewOrchestrator validates and wires the components.
func NewOrchestrator(c Components) (*Orchestrator, error) {
	switch {
	case c.Runner == nil:
		return nil, errors.New("orchestrator: runner is required")
	case c.Inspector == nil:
		return nil, errors.New("orchestrator: inspector is required")
	case c.Log == nil:
		return nil, errors.New("orchestrator: checkpoint log is required")
	case c.Sleeper == nil:
		return nil, errors.New("orchestrator: sleeper is required")
	case c.Clock == nil:
		return nil, errors.New("orchestrator: clock is required")
	}
	if err := c.Policy.Validate(); err != nil {
		return nil, err
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Remediation == nil {
		c.Remediation = AlwaysFullRange{}
	}
	cooldown := NewCooldown(c.Policy, c.Sleeper, c.Metrics, c.Logger)
	return &Orchestrator{
		c:        c,
		cooldown: cooldown,
		executor: NewExecutor(c.Runner, c.Inspector, c.Log, cooldown, c.Sleeper, c.Clock, c.Policy, c.Metrics, c.Logger),
		selector: NewSelector(c.Remediation, c.Policy.MinRequiredItems, c.Logger),
		progress: Progress{RunID: c.RunID},
	}, nil
}

// Run processes the selected work set for rng over items. Validation and
// corrupt-log errors are returned before any work starts. An interrupt
// returns an error wrapping ErrInterrupted with a resume hint; every record
// written before it is durable.
func (o *Orchestrator) Run(ctx context.Context, rng Range, items []WorkItem) (Summary, error) {
	rng, err := ValidateRange(rng, len(items))
	if err != nil {
		return Summary{}, err
	}
	sel, err := o.selector.Select(ctx, rng, items, o.c.Log)
	if err != nil {
		if errors.Is(err, ErrInterrupted) {
			return Summary{RunID: o.c.RunID}, err
		}
		return Summary{}, err
	}

	sum := Summary{
		RunID:       o.c.RunID,
		Remediation: sel.Remediation,
		Selected:    len(sel.Items),
		StartedAt:   o.c.Clock.Now().UTC(),
	}
	o.update(func(p *Progress) {
		p.Running = true
		p.Remediation = sel.Remediation
		p.Selected = len(sel.Items)
		p.StartedAt = sum.StartedAt
	})
	defer o.update(func(p *Progress) { p.Running = false })

	logger := o.c.Logger.With(zap.String("run_id", o.c.RunID))
	if sel.Remediation {
		logger.Info("retrying remediable rows", zap.Int("count", len(sel.Items)))
	} else {
		logger.Info("processing range",
			zap.Int("start_row", rng.Start),
			zap.Int("end_row", rng.End),
			zap.Int("count", len(sel.Items)),
		)
	}

	for i, item := range sel.Items {
		if err := ctx.Err(); err != nil {
			return o.finish(sum), o.interrupt(interrupted(err))
		}
		o.update(func(p *Progress) {
			p.CurrentPosition = item.Position
			p.CurrentKeyword = item.Keyword
		})
		sum.LastPosition = item.Position
		o.c.Metrics.SetCurrentPosition(item.Position)
		logger.Info("processing keyword",
			zap.Int("position", item.Position),
			zap.String("keyword", item.Keyword),
			zap.Int("index", i+1),
			zap.Int("of", len(sel.Items)),
		)

		outcome, err := o.executor.Run(ctx, item)
		if err != nil {
			if errors.Is(err, ErrInterrupted) {
				return o.finish(sum), o.interrupt(err)
			}
			return o.finish(sum), err
		}

		sum.Processed++
		if outcome.Succeeded() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		o.update(func(p *Progress) {
			p.Processed = sum.Processed
			p.Succeeded = sum.Succeeded
			p.Failed = sum.Failed
		})
		o.publish(ctx, outcome)

		if i == len(sel.Items)-1 {
			break
		}
		delay := o.c.Policy.NormalDelay
		if !outcome.Succeeded() {
			delay = o.c.Policy.ErrorDelay
		}
		if err := o.c.Sleeper.Sleep(ctx, delay); err != nil {
			// The item just finished is durable; resume from the next one.
			next := sel.Items[i+1].Position
			sum.LastPosition = next
			o.update(func(p *Progress) { p.CurrentPosition = next })
			return o.finish(sum), o.interrupt(interrupted(err))
		}
	}

	sum = o.finish(sum)
	logger.Info("run complete",
		zap.Int("processed", sum.Processed),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
	)
	return sum, nil
}

// Progress returns a snapshot of the run state.
func (o *Orchestrator) Progress() Progress {
	o.mu.RLock()
	p := o.progress
	o.mu.RUnlock()
	p.ConsecutiveErrors = o.cooldown.Consecutive()
	p.CoolingDown = o.cooldown.CoolingDown()
	return p
}

// ResumeHint names the row an interrupted run should restart from, or ""
// when no item was in progress.
func (o *Orchestrator) ResumeHint() string {
	pos := o.Progress().CurrentPosition
	if pos <= 0 {
		return ""
	}
	return fmt.Sprintf("resume with --start-row %d", pos)
}

// OnInterrupt prints the resume hint to w and flushes the log. It is
// called from the signal handler before the run context is cancelled.
func (o *Orchestrator) OnInterrupt(ctx context.Context, w io.Writer) error {
	if hint := o.ResumeHint(); hint != "" && w != nil {
		fmt.Fprintf(w, "\ninterrupted; %s\n", hint)
	}
	return o.OnExit(ctx)
}

// OnExit flushes the checkpoint log.
func (o *Orchestrator) OnExit(ctx context.Context) error {
	if err := o.c.Log.Flush(ctx); err != nil {
		return fmt.Errorf("flush checkpoint log %s: %w", o.c.Log.Name(), err)
	}
	return nil
}

func (o *Orchestrator) interrupt(err error) error {
	o.c.Logger.Warn("run interrupted",
		zap.String("run_id", o.c.RunID),
		zap.Int("current_position", o.Progress().CurrentPosition),
	)
	if hint := o.ResumeHint(); hint != "" {
		return crdb.WithHint(err, hint)
	}
	return err
}

func (o *Orchestrator) finish(sum Summary) Summary {
	sum.FinishedAt = o.c.Clock.Now().UTC()
	return sum
}

func (o *Orchestrator) update(fn func(p *Progress)) {
	o.mu.Lock()
	fn(&o.progress)
	o.mu.Unlock()
}

func (o *Orchestrator) publish(ctx context.Context, outcome Outcome) {
	if o.c.Publisher == nil {
		return
	}
	rec := outcome.Record
	event := ItemEvent{
		RunID:      o.c.RunID,
		Keyword:    rec.Keyword,
		Position:   rec.Position,
		Status:     rec.Status,
		ItemCount:  rec.ItemCount,
		SizeMB:     rec.TotalSizeMB,
		OutputPath: rec.OutputPath,
		Attempts:   outcome.Attempts,
		Error:      rec.ErrorMessage,
		FinishedAt: rec.FinishedAt,
	}
	id, err := o.c.Publisher.Publish(ctx, o.c.Topic, event)
	if err != nil {
		o.c.Logger.Warn("publish item event failed",
			zap.String("keyword", rec.Keyword),
			zap.Int("position", rec.Position),
			zap.Error(err),
		)
		return
	}
	o.c.Logger.Debug("published item event", zap.String("message_id", id), zap.String("status", string(rec.Status)))
}

var _ CheckpointLog = (*checkpoint.Log)(nil)
