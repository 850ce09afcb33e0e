package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition matches every *PreconditionError.
	ErrPrecondition = errors.New("precondition failed")
	// ErrForbidden is returned when the actor may not act on an entry.
	ErrForbidden = errors.New("not permitted")
	// ErrInvalidRequest wraps malformed submissions.
	ErrInvalidRequest = errors.New("invalid request")
)

// PreconditionError reports a guard that failed. No state was changed.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Is lets errors.Is(err, ErrPrecondition) match.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

func precondition(op, format string, args ...any) error {
	return &PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
