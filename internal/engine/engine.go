package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"

	"spout/internal/config/isb"
	"spout/internal/pipeline"
	"spout/internal/transport"
	"spout/source"
)

type Engine struct {
	transport *transport.Server
	runner    *pipeline.Runner
	isb       isb.Config
	log       *slog.Logger
}

func (e *Engine) Addr() net.Addr { return e.transport.Addr() }

// Run serves the lag service and drives the runner until ctx is done or
// the runner stops. Only cancellation is a clean exit; a source reaching its
// end is fatal because sources are unbounded.
func (e *Engine) Run(ctx context.Context) error {
	go func() {
		if err := e.transport.Serve(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			e.log.Error("transport stopped", "err", err)
		}
	}()
	e.transport.SetServing(true)

	err := e.runner.Run(ctx)

	e.transport.SetServing(false)
	e.transport.Stop()
	if cerr := e.runner.Close(); cerr != nil {
		e.log.Warn("close failed", "err", cerr)
	}

	switch {
	case errors.Is(err, source.ErrStreamEnded):
		e.log.Error("source stopped producing", "err", err)
		return fmt.Errorf("engine: %w", err)
	case err == nil, ctx.Err() != nil && errors.Is(err, ctx.Err()):
		e.log.Info("engine stopped", "reason", ctx.Err())
		return nil
	default:
		return err
	}
}
