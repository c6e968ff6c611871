package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

// Selection is the fixed work set of one run.
type Selection struct {
	Items []WorkItem
	// Remediation is true when the work set is the remediable rows only.
	Remediation bool
	// Remediable lists every row the log flagged, whether or not chosen.
	Remediable []checkpoint.Remediation
}

// Selector computes a run's work set from the declared range and the log.
type Selector struct {
	policy   RemediationPolicy
	minItems int
	logger   *zap.Logger
}

// NewSelector builds a Selector.
func NewSelector(policy RemediationPolicy, minItems int, logger *zap.Logger) *Selector {
	if policy == nil {
		policy = AlwaysFullRange{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{policy: policy, minItems: minItems, logger: logger}
}

// Select returns the ordered work set. items must be the full declared item
// list in position order; rng must already be validated.
func (s *Selector) Select(
	ctx context.Context,
	rng Range,
	items []WorkItem,
	log RemediableSource,
) (Selection, error) {
	remediable := log.Remediable(s.minItems)
	sel := Selection{Remediable: remediable}
	if len(remediable) > 0 {
		for _, row := range remediable {
			s.logger.Info("remediable row",
				zap.Int("position", row.Record.Position),
				zap.String("keyword", row.Record.Keyword),
				zap.String("reason", string(row.Reason)),
			)
		}
		retry, err := s.policy.RetryRemediable(ctx, remediable)
		if err != nil {
			return Selection{}, fmt.Errorf("remediation decision: %w", err)
		}
		if retry {
			sel.Remediation = true
			sel.Items = make([]WorkItem, 0, len(remediable))
			for _, row := range remediable {
				sel.Items = append(sel.Items, WorkItem{Position: row.Record.Position, Keyword: row.Record.Keyword})
			}
			return sel, nil
		}
	}
	sel.Items = FullRange(rng, items)
	return sel, nil
}

// FullRange returns items[Start-1 : End], clipped to the list length.
func FullRange(rng Range, items []WorkItem) []WorkItem {
	end := min(rng.End, len(items))
	if rng.Start < 1 || rng.Start > end {
		return nil
	}
	out := make([]WorkItem, 0, end-rng.Start+1)
	out = append(out, items[rng.Start-1:end]...)
	return out
}
