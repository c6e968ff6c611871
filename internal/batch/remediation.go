package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

// RemediationPolicy decides, once per run, whether to retry only the
// remediable rows (true) or to process the declared range (false).
type RemediationPolicy interface {
	RetryRemediable(ctx context.Context, rows []checkpoint.Remediation) (bool, error)
}

// AlwaysRetryFailed always narrows the run to remediable rows.
type AlwaysRetryFailed struct{}

// RetryRemediable implements RemediationPolicy.
func (AlwaysRetryFailed) RetryRemediable(context.Context, []checkpoint.Remediation) (bool, error) {
	return true, nil
}

// AlwaysFullRange always processes the declared range.
type AlwaysFullRange struct{}

// RetryRemediable implements RemediationPolicy.
func (AlwaysFullRange) RetryRemediable(context.Context, []checkpoint.Remediation) (bool, error) {
	return false, nil
}

// AskOperator prints the remediable rows to Out and reads a y/n answer
// from In. Anything but "y" or "yes" declines.
type AskOperator struct {
	In  io.Reader
	Out io.Writer
}

// RetryRemediable implements RemediationPolicy.
func (a AskOperator) RetryRemediable(ctx context.Context, rows []checkpoint.Remediation) (bool, error) {
	if err := RenderRemediable(a.Out, rows); err != nil {
		return false, err
	}
	if _, err := fmt.Fprintf(a.Out, "\nFound %d keywords to re-download. Retry them? (y/n): ", len(rows)); err != nil {
		return false, fmt.Errorf("write prompt: %w", err)
	}

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(a.In).ReadString('\n')
		answer <- line
	}()
	select {
	case <-ctx.Done():
		return false, interrupted(ctx.Err())
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// PolicyByName maps a CLI/config value to a policy.
func PolicyByName(name string, in io.Reader, out io.Writer) (RemediationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ask":
		return AskOperator{In: in, Out: out}, nil
	case "failed", "retry-failed":
		return AlwaysRetryFailed{}, nil
	case "full", "full-range":
		return AlwaysFullRange{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown remediation policy %q (want ask, failed or full)", ErrValidation, name)
	}
}

// RenderRemediable writes the remediable rows as a table.
func RenderRemediable(w io.Writer, rows []checkpoint.Remediation) error {
	data := pterm.TableData{{"Row", "Keyword", "Reason", "Items"}}
	for _, row := range rows {
		data = append(data, []string{
			strconv.Itoa(row.Record.Position),
			row.Record.Keyword,
			string(row.Reason),
			strconv.Itoa(row.Record.ItemCount),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render(); err != nil {
		return fmt.Errorf("render remediable rows: %w", err)
	}
	return nil
}
