package docstore

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the document has never been written.
var ErrNotFound = errors.New("docstore: document not found")

// Category determines whether a failed write may be replayed from the
// durable offline queue.
type Category int

const (
	// Recoverable failures (5xx, timeouts, network errors) keep the dirty
	// envelope for replay.
	Recoverable Category = iota

	// Irrecoverable failures (4xx except 408/429) are logged and the
	// envelope abandoned; replaying would fail the same way.
	Irrecoverable
)

func (c Category) String() string {
	switch c {
	case Recoverable:
		return "recoverable"
	case Irrecoverable:
		return "irrecoverable"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ClassifiedError carries the retry category alongside the transport failure.
type ClassifiedError struct {
	Category   Category
	StatusCode int // 0 for non-HTTP failures
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error { return e.Underlying }

// IsRecoverable reports whether err may succeed on replay. Unclassified
// errors are treated as recoverable.
func IsRecoverable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category == Recoverable
	}
	return true
}

func classifyStatus(status int) Category {
	switch {
	case status >= 400 && status < 500:
		switch status {
		case 408, 429:
			return Recoverable
		default:
			return Irrecoverable
		}
	default:
		return Recoverable
	}
}

func httpError(op string, status int) *ClassifiedError {
	return &ClassifiedError{
		Category:   classifyStatus(status),
		StatusCode: status,
		Underlying: fmt.Errorf("%s: status %d", op, status),
	}
}

func networkError(op string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Recoverable,
		Underlying: fmt.Errorf("%s: %w", op, err),
	}
}
