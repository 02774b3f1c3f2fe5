// Package source implements the metric sources polled by the sampler. Every
// source is constructed (initialised) independently and may fail independently.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skobkin/statbar/internal/metrics"
)

// Source produces samples of a single metric kind.
type Source interface {
	Kind() metrics.Kind
	Sample(ctx context.Context) (metrics.Sample, error)
	Close() error
}

// ErrTransientRead marks a failed read that is expected to succeed later.
var ErrTransientRead = errors.New("transient read failure")

// InitError reports a source that could not be initialised. The kind stays
// unavailable for the rest of the session.
type InitError struct {
	Kind metrics.Kind
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s source: %v", e.Kind, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ReadError is a per-tick read failure. It matches ErrTransientRead.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

func (e *ReadError) Is(target error) bool {
	return target == ErrTransientRead
}

func readError(op string, err error) error {
	return &ReadError{Op: op, Err: err}
}

// Clock returns the current time. Sources take one so tests can drive time.
type Clock func() time.Time

func clockOrDefault(clock Clock) Clock {
	if clock == nil {
		return time.Now
	}
	return clock
}
