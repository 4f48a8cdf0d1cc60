package resilience

import (
	"context"
	"errors"
	"fmt"

	infraerrors "github.com/jonesrussell/north-cloud/partprice/infrastructure/errors"
)

// ErrAttemptTimeout marks an attempt that ran past the per-attempt timeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

// PermanentError marks a failure that retrying cannot fix, such as a parse
// error or a malformed payload.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the wrapper neither retries it nor counts it
// against the destination host.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Class is the retry classification of an error.
type Class int

const (
	// ClassNone is a nil error.
	ClassNone Class = iota
	// ClassTransient covers network errors, attempt timeouts, 5xx and 408.
	ClassTransient
	// ClassPermanent covers other 4xx responses and Permanent errors.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify decides whether err is worth retrying.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}

	var httpErr *infraerrors.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Transient() {
			return ClassTransient
		}
		return ClassPermanent
	}

	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}

	// everything else is an I/O level failure: refused, reset, DNS, timeout
	return ClassTransient
}

func attemptTimeout(err error) error {
	return fmt.Errorf("%w: %w", ErrAttemptTimeout, err)
}
