package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"spout/internal/engine"
	"spout/internal/logging"
)

func main() {
	logging.InitFromEnv()

	cfg := engine.Config{}
	flag.IntVar(&cfg.GRPCPort, "grpc-port", 7070, "lag service port")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", 9100, "prometheus /metrics port (0 disables)")
	flag.StringVar(&cfg.PipelineYml, "pipeline", "pipeline.yml", "pipeline YAML")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		logging.L().Error("bootstrap failed", "err", err)
		os.Exit(1)
	}

	if err := e.Run(ctx); err != nil {
		logging.L().Error("engine failed", "err", err)
		os.Exit(1)
	}
}
