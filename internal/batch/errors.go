package batch

import (
	"github.com/cockroachdb/errors"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

// Error taxonomy. Item-level errors never escape a run; they end up in a
// failed checkpoint record. Only validation and corrupt-log errors stop a
// run from starting, and an interrupt stops it cleanly.
var (
	// ErrTransientRunner wraps an error raised by the job runner during one attempt.
	ErrTransientRunner = errors.New("runner attempt failed")
	// ErrInsufficientYield marks a runner call that produced too few items.
	ErrInsufficientYield = errors.New("insufficient yield")
	// ErrValidation marks bad operator input (row bounds, source file).
	ErrValidation = errors.New("invalid input")
	// ErrInterrupted marks a run stopped by an external signal.
	ErrInterrupted = errors.New("run interrupted")
)

// IsFatal reports whether err must prevent a run from starting.
func IsFatal(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, checkpoint.ErrCorruptLog)
}

// Hints flattens the operator hints attached to err.
func Hints(err error) string {
	return errors.FlattenHints(err)
}
