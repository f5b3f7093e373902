package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spout/internal/logging"
	"spout/internal/telemetry"
	"spout/message"
	"spout/sink"
	"spout/source"
)

type Options struct {
	LagInterval time.Duration // 0 disables the lag poller
	AckRetries  int
	AckBackoff  time.Duration
	ReadBackoff time.Duration // pause after a retryable read error
}

func DefaultOptions() Options {
	return Options{
		LagInterval: 5 * time.Second,
		AckRetries:  3,
		AckBackoff:  100 * time.Millisecond,
		ReadBackoff: 100 * time.Millisecond,
	}
}

// Runner drives one source partition: read a batch, push it to every sink,
// then ack the batch offsets. A lag poller runs beside it.
type Runner struct {
	source source.Source
	sinks  []sink.Adapter
	opts   Options
	log    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts, log: logging.L()}
}

func (r *Runner) AddSink(s sink.Adapter)    { r.sinks = append(r.sinks, s) }
func (r *Runner) SetSource(s source.Source) { r.source = s }
func (r *Runner) Source() source.Source     { return r.source }
func (r *Runner) SetLogger(l *slog.Logger)  { r.log = l }

// Run blocks until ctx is done, the source ends, or a non-retryable error
// occurs. A batch is acked only after every sink accepted it.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return errors.New("runner: no source configured")
	}
	name := r.source.Name()

	lagCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	if r.opts.LagInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.pollLag(lagCtx, name)
		}()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := r.source.Read(ctx)
		switch {
		case err == nil:
		case errors.Is(err, source.ErrStreamEnded):
			r.log.Info("source ended", "source", name, "err", err)
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, source.ErrRetryable):
			r.log.Warn("read failed; retrying", "source", name, "err", err)
			if err := sleep(ctx, r.opts.ReadBackoff); err != nil {
				return err
			}
			continue
		default:
			return fmt.Errorf("runner: read %s: %w", name, err)
		}
		if len(batch) == 0 {
			continue
		}
		telemetry.ObserveRead(name, len(batch))

		if err := r.forward(batch); err != nil {
			return err
		}
		if err := r.ack(ctx, name, offsets(batch)); err != nil {
			return err
		}
	}
}

/*──────── message routing ───────*/
func (r *Runner) forward(batch []*message.Message) error {
	for _, m := range batch {
		for _, s := range r.sinks {
			if err := s.Push(m); err != nil {
				return fmt.Errorf("runner: push %s: %w", m.ID, err)
			}
		}
	}
	for _, s := range r.sinks {
		if f, ok := s.(sink.Flusher); ok {
			if err := f.Flush(); err != nil {
				return fmt.Errorf("runner: flush: %w", err)
			}
		}
	}
	return nil
}

func (r *Runner) ack(ctx context.Context, name string, offs []message.Offset) error {
	if len(offs) == 0 {
		return nil
	}
	for attempt := 0; ; attempt++ {
		err := r.source.Ack(ctx, offs)
		if err == nil {
			telemetry.Acked.WithLabelValues(name).Add(float64(len(offs)))
			return nil
		}
		telemetry.AckErrors.WithLabelValues(name).Inc()
		if !errors.Is(err, source.ErrRetryable) || attempt >= r.opts.AckRetries {
			return fmt.Errorf("runner: ack %d offsets: %w", len(offs), err)
		}
		r.log.Warn("ack failed; retrying", "source", name, "attempt", attempt+1, "err", err)
		if err := sleep(ctx, r.opts.AckBackoff*time.Duration(attempt+1)); err != nil {
			return err
		}
	}
}

func (r *Runner) pollLag(ctx context.Context, name string) {
	t := time.NewTicker(r.opts.LagInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n, err := r.source.Pending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.LagErrors.WithLabelValues(name).Inc()
			r.log.Debug("lag poll skipped", "source", name, "err", err)
			continue
		}
		telemetry.ObservePending(name, n)
	}
}

// Close releases the source and every sink; safe to call more than once.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		if r.source != nil {
			errs = append(errs, r.source.Close())
		}
		for _, s := range r.sinks {
			errs = append(errs, s.Close())
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

func offsets(batch []*message.Message) []message.Offset {
	out := make([]message.Offset, 0, len(batch))
	for _, m := range batch {
		if m.Offset != nil {
			out = append(out, m.Offset)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
