// Package generator is a self-contained source producing a fixed payload at a
// bounded rate. It is used for load and integration testing; the load is per
// replica.
package generator

import (
	"context"
	"sync/atomic"
	"time"

	"spout/message"
	"spout/source"
)

// New returns the three capabilities of a generator source. The identity
// generator supplies the vertex name and replica stamped on every record.
func New(content []byte, rpu, batch int, unit time.Duration, ids *message.IDGenerator, opts ...Option) (*Read, Ack, LagReader) {
	return newRead(content, rpu, batch, unit, ids, opts...), Ack{}, LagReader{}
}

// NewSource builds a generator from cfg and bundles its capabilities.
func NewSource(cfg Config, v source.Vertex, opts ...Option) (source.Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r, a, l := New([]byte(cfg.Content), cfg.RPU, cfg.Batch, cfg.Duration,
		message.NewIDGenerator(v.Name, v.Replica), opts...)
	return source.Compose(r, a, l), nil
}

func init() {
	source.Register("generator", func(path string, v source.Vertex) (source.Source, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return NewSource(cfg, v)
	})
}

// Read wraps a Scheduler and turns its payloads into messages.
type Read struct {
	sched  *Scheduler
	ids    *message.IDGenerator
	closed atomic.Bool
}

func newRead(content []byte, rpu, batch int, unit time.Duration, ids *message.IDGenerator, opts ...Option) *Read {
	return &Read{
		sched: NewScheduler(content, rpu, batch, unit, opts...),
		ids:   ids,
	}
}

func (*Read) Name() string { return "generator" }

// Read returns the next throttled batch. Once closed it reports
// source.ErrStreamEnded.
func (r *Read) Read(ctx context.Context) ([]*message.Message, error) {
	if r.closed.Load() {
		return nil, source.ErrStreamEnded
	}
	data, err := r.sched.Next(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, source.ErrStreamEnded
	}
	out := make([]*message.Message, len(data))
	for i, payload := range data {
		out[i] = r.ids.Build(payload, int32(i))
	}
	return out, nil
}

// Partitions is the replica index; each replica generates its own load.
func (r *Read) Partitions() []int32 { return []int32{r.ids.Replica()} }

// SizeHint exposes the scheduler estimate (rpu-used, rpu).
func (r *Read) SizeHint() (int, int) { return r.sched.SizeHint() }

// Close makes later reads report source.ErrStreamEnded. A Read already
// waiting for the next window is not woken; it returns at that boundary or
// when its ctx is cancelled.
func (r *Read) Close() error {
	r.closed.Store(true)
	return nil
}

// Ack is a no-op: there is nothing behind a generator to confirm.
type Ack struct{}

func (Ack) Ack(context.Context, []message.Offset) error { return nil }

// LagReader always reports an unknown backlog; generators are not meant to
// autoscale.
type LagReader struct{}

func (LagReader) Pending(context.Context) (*int64, error) { return nil, nil }
