package generator

import (
	"bytes"
	"context"
	"time"
)

// Scheduler hands out copies of a fixed payload, at most rpu per unit of time
// and at most batch per call. When a window boundary is observed the call
// returns a full batch and the used quota restarts at batch, so what is left
// of the window (rpu - batch) can still be drained by later calls but never
// carries over into a burst at the next boundary. Boundaries the caller did
// not observe are skipped.
//
//	     Ticks: |     1     |     2     |     3     |     4     |
//	            ===============================================> time
//	Read RPU=5: | :xxx:xx:  | :xxx <delay>         |:xxx:xx:   |
//	              2 batches   1 batch (no reread)    5
//
// Units below 10ms are not supported. A Scheduler is owned by a single
// reading goroutine and is not safe for concurrent use.
type Scheduler struct {
	content []byte
	rpu     int
	batch   int
	used    int

	unit  time.Duration
	next  time.Time
	clock Clock
}

type Option func(*Scheduler)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// NewScheduler expects rpu and batch to be positive. batch is clamped to rpu.
// The first call after construction observes a boundary.
func NewScheduler(content []byte, rpu, batch int, unit time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		content: bytes.Clone(content),
		rpu:     rpu,
		batch:   min(batch, rpu),
		unit:    unit,
		clock:   realClock{},
	}
	for _, o := range opts {
		o(s)
	}
	s.next = s.clock.Now()
	return s
}

// Batch is the effective per-call maximum.
func (s *Scheduler) Batch() int { return s.batch }

// Next returns the next batch of payloads. It only blocks when the quota of
// the current window is used up; cancelling ctx then returns ctx.Err() and no
// payloads.
func (s *Scheduler) Next(ctx context.Context) ([][]byte, error) {
	now := s.clock.Now()
	if !now.Before(s.next) {
		return s.tick(now), nil
	}

	if s.used < s.rpu {
		n := min(s.rpu-s.used, s.batch)
		s.used += n
		return s.fill(n), nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.clock.After(s.next.Sub(now)):
	}

	now = s.clock.Now()
	if now.Before(s.next) {
		now = s.next
	}
	return s.tick(now), nil
}

// SizeHint returns (rpu-used, rpu). The lower bound ignores how much of the
// window already elapsed.
func (s *Scheduler) SizeHint() (int, int) {
	return s.rpu - s.used, s.rpu
}

func (s *Scheduler) tick(now time.Time) [][]byte {
	// next boundary on the original grid strictly after now
	behind := now.Sub(s.next)
	s.next = now.Add(s.unit - behind%s.unit)
	s.used = s.batch
	return s.fill(s.batch)
}

func (s *Scheduler) fill(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = bytes.Clone(s.content)
	}
	return out
}
