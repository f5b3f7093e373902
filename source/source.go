// Package source defines the capability set every data-plane source provides:
// reading batches, acknowledging offsets and reporting backlog.
package source

import (
	"context"
	"errors"
	"io"

	"spout/message"
)

var (
	// ErrStreamEnded is returned by Read when the underlying stream
	// terminated. Sources are expected to be unbounded, so callers abort.
	ErrStreamEnded = errors.New("source: stream ended")

	// ErrRetryable marks transient failures (broker unreachable, commit
	// rejected) that the driver may retry.
	ErrRetryable = errors.New("source: retryable")
)

// Reader produces batches of messages.
type Reader interface {
	Name() string
	// Read blocks until at least one message is available, the source
	// throttles itself, or ctx is done. A batch is delivered whole or not
	// at all.
	Read(ctx context.Context) ([]*message.Message, error)
	// Partitions lists the partition indices served by this instance.
	Partitions() []int32
}

// Acker confirms that offsets were fully processed. Implementations must be
// idempotent and tolerate unknown offsets.
type Acker interface {
	Ack(ctx context.Context, offsets []message.Offset) error
}

// LagReader reports the number of records still waiting in the source.
// A nil count means the backlog is unknown and must not be read as zero.
type LagReader interface {
	Pending(ctx context.Context) (*int64, error)
}

// Source is the full capability set, as handed out by the registry.
type Source interface {
	Reader
	Acker
	LagReader
	io.Closer
}

type composite struct {
	Reader
	Acker
	LagReader
}

// Compose bundles independent capabilities into a Source. Close is forwarded
// to every part that implements io.Closer, each at most once.
func Compose(r Reader, a Acker, l LagReader) Source {
	return &composite{Reader: r, Acker: a, LagReader: l}
}

func (c *composite) Close() error {
	var errs []error
	seen := map[any]bool{}
	for _, p := range []any{c.Reader, c.Acker, c.LagReader} {
		cl, ok := p.(io.Closer)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Retryable wraps err so errors.Is(err, ErrRetryable) holds.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() []error {
	return []error{e.err, ErrRetryable}
}

// Count is a helper for LagReader implementations.
func Count(n int64) *int64 { return &n }
