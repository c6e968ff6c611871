package batch

import (
	"github.com/cockroachdb/errors"
)

// Range is an inclusive, 1-based row range of the item list.
type Range struct {
	Start int
	End   int
}

// ValidateRange checks rng against a list of total rows. A zero End means
// "through the last row" and is resolved in the returned Range.
func ValidateRange(rng Range, total int) (Range, error) {
	if total <= 0 {
		return Range{}, errors.WithHint(
			errors.Wrap(ErrValidation, "item list is empty"),
			"add at least one keyword row to the source file",
		)
	}
	if rng.End == 0 {
		rng.End = total
	}
	if rng.Start < 1 || rng.Start > total {
		return Range{}, errors.WithHintf(
			errors.Wrapf(ErrValidation, "start row %d out of range", rng.Start),
			"start row must be between 1 and %d", total,
		)
	}
	if rng.End < rng.Start || rng.End > total {
		return Range{}, errors.WithHintf(
			errors.Wrapf(ErrValidation, "end row %d out of range", rng.End),
			"end row must be between %d and %d", rng.Start, total,
		)
	}
	return rng, nil
}
