package engine

import (
	"context"
	"errors"
	"fmt"

	"spout/internal/config"
	"spout/internal/config/isb"
	"spout/internal/logging"
	"spout/internal/pipeline"
	"spout/internal/telemetry"
	"spout/internal/transport"
)

type Config struct {
	GRPCPort    int // 0 picks a free port
	MetricsPort int // <=0 disables /metrics
	PipelineYml string
}

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.PipelineYml == "" {
		return nil, errors.New("engine: pipeline file is required")
	}

	// 1. pipeline runner
	runner, file, err := pipeline.Compile(cfg.PipelineYml)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	log := logging.With(file.Vertex.Name, file.Vertex.Replica)

	// 2. inter-step buffer layout
	buf, err := config.LoadISBConfig(file.ISB)
	if err != nil {
		_ = runner.Close()
		return nil, fmt.Errorf("isb: %w", err)
	}
	if msg := partitionMismatch(runner.Source().Partitions(), buf.Writer); msg != "" {
		log.Warn(msg, "source", runner.Source().Name(), "writer_partitions", buf.Writer.Partitions)
	}

	// 3. transport server
	grpcPort, metricsPort := cfg.GRPCPort, cfg.MetricsPort
	if file.Server.GRPCPort != 0 {
		grpcPort = file.Server.GRPCPort
	}
	if file.Server.MetricsPort != 0 {
		metricsPort = file.Server.MetricsPort
	}
	srv, err := transport.StartServer(grpcPort, runner.Source())
	if err != nil {
		_ = runner.Close()
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 4. metrics
	if metricsPort > 0 {
		telemetry.Expose(metricsPort)
	}

	log.Info("engine ready",
		"source", runner.Source().Name(),
		"partitions", runner.Source().Partitions(),
		"grpc", srv.Addr().String(),
		"isb_url", buf.Client.URL)

	return &Engine{
		transport: srv,
		runner:    runner,
		isb:       buf,
		log:       log,
	}, nil
}

// partitionMismatch describes how the source partitions disagree with the
// writer layout, or returns "".
func partitionMismatch(parts []int32, w isb.BufferWriterConfig) string {
	if len(parts) > int(w.Partitions) {
		return fmt.Sprintf("source reports %d partitions but the writer has %d", len(parts), w.Partitions)
	}
	for _, p := range parts {
		if p < 0 || p >= int32(w.Partitions) {
			return fmt.Sprintf("source partition %d has no writer stream", p)
		}
	}
	return ""
}
