// Package jetstream reads from a NATS JetStream stream through a durable pull
// consumer. Offsets are stream sequences; acks go back to the server.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"

	"spout/internal/logging"
	"spout/message"
	"spout/source"
)

// puller is the part of *nats.Subscription used by the source.
type puller interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	ConsumerInfo() (*nats.ConsumerInfo, error)
}

type Source struct {
	cfg    Config
	vertex source.Vertex
	log    *slog.Logger

	conn *nats.Conn
	sub  puller
	ack  func(*nats.Msg) error

	mu      sync.Mutex
	pending map[uint64]*nats.Msg
}

func newSource(cfg Config, v source.Vertex, sub puller) *Source {
	return &Source{
		cfg:     cfg,
		vertex:  v,
		log:     logging.With(v.Name, v.Replica).With("source", "jetstream", "stream", cfg.Stream),
		sub:     sub,
		ack:     func(m *nats.Msg) error { return m.Ack() },
		pending: map[uint64]*nats.Msg{},
	}
}

// Open connects and binds a durable pull consumer to cfg.Stream.
func Open(cfg Config, v source.Vertex) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []nats.Option{
		nats.Name("spout-" + v.Name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.L().Warn("NATS disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logging.L().Info("NATS reconnected")
		}),
	}
	if cfg.Client.User != "" {
		opts = append(opts, nats.UserInfo(cfg.Client.User, cfg.Client.Password))
	}
	nc, err := nats.Connect(cfg.Client.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect %s: %w", cfg.Client.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	durable := cfg.Consumer
	if durable == "" {
		durable = "spout-" + v.Name
	}
	sub, err := js.PullSubscribe(cfg.Subject, durable, nats.BindStream(cfg.Stream), nats.ManualAck())
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: subscribe %s/%s: %w", cfg.Stream, durable, err)
	}
	s := newSource(cfg, v, sub)
	s.conn = nc
	s.log.Info("jetstream consumer bound", "consumer", durable, "url", cfg.Client.URL)
	return s, nil
}

func init() {
	source.Register("jetstream", func(path string, v source.Vertex) (source.Source, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return Open(cfg, v)
	})
}

func (*Source) Name() string { return "jetstream" }

// Read fetches up to BatchSize messages, waiting at most ReadTimeout. An idle
// stream yields an empty batch; a closed connection ends the stream.
func (s *Source) Read(ctx context.Context) ([]*message.Message, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	msgs, err := s.sub.Fetch(s.cfg.BatchSize, nats.Context(fctx))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return nil, nil
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
		return nil, fmt.Errorf("%w: %v", source.ErrStreamEnded, err)
	default:
		return nil, source.Retryable(fmt.Errorf("jetstream: fetch: %w", err))
	}

	out := make([]*message.Message, 0, len(msgs))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range msgs {
		meta, err := m.Metadata()
		if err != nil {
			s.log.Warn("jetstream message without metadata; skipped", "subject", m.Subject, "err", err)
			continue
		}
		seq := meta.Sequence.Stream
		off := message.NewStringOffset(strconv.FormatUint(seq, 10), s.cfg.Partition)
		s.pending[seq] = m
		out = append(out, &message.Message{
			Keys:      []string{m.Subject},
			Value:     m.Data,
			Offset:    off,
			EventTime: meta.Timestamp,
			ID: message.MessageID{
				VertexName: s.vertex.Name,
				Offset:     off.String(),
				Index:      int32(i),
			},
			Headers: toHeaderMap(m.Header),
		})
	}
	return out, nil
}

// Ack acknowledges the messages behind offsets. Unknown or already acked
// offsets are ignored; a failed server ack is retryable and keeps the
// message pending.
func (s *Source) Ack(ctx context.Context, offsets []message.Offset) error {
	var errs []error
	for _, o := range offsets {
		if err := ctx.Err(); err != nil {
			return err
		}
		so, ok := o.(message.StringOffset)
		if !ok {
			return fmt.Errorf("jetstream: unexpected offset type %T", o)
		}
		seq, err := strconv.ParseUint(so.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("jetstream: bad offset %q: %w", so.Value, err)
		}

		s.mu.Lock()
		m, ok := s.pending[seq]
		delete(s.pending, seq)
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := s.ack(m); err != nil {
			s.mu.Lock()
			s.pending[seq] = m
			s.mu.Unlock()
			errs = append(errs, fmt.Errorf("seq %d: %w", seq, err))
		}
	}
	if len(errs) > 0 {
		return source.Retryable(fmt.Errorf("jetstream: ack: %w", errors.Join(errs...)))
	}
	return nil
}

// Pending is the consumer backlog: messages not yet delivered plus those
// delivered but not acked.
func (s *Source) Pending(context.Context) (*int64, error) {
	info, err := s.sub.ConsumerInfo()
	if err != nil {
		return nil, source.Retryable(fmt.Errorf("jetstream: consumer info: %w", err))
	}
	return source.Count(int64(info.NumPending) + int64(info.NumAckPending)), nil
}

func (s *Source) Partitions() []int32 { return []int32{s.cfg.Partition} }

func (s *Source) Close() error {
	if s.conn != nil {
		if err := s.conn.Drain(); err != nil {
			s.conn.Close()
			return err
		}
	}
	return nil
}

func toHeaderMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
