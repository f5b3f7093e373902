package pipeline

import (
	"fmt"
	"time"

	"spout/internal/config"
	"spout/internal/logging"
	"spout/internal/spec"
	"spout/sink"
	"spout/sink/stdout"
	"spout/source"

	// source drivers register themselves by kind
	_ "spout/source/generator"
	_ "spout/source/jetstream"
	_ "spout/source/kafka"

	_ "spout/sink/kafka"
)

// Compile loads a pipeline YAML and builds a Runner with its source and
// sinks opened. The parsed file is returned for the engine.
func Compile(path string) (*Runner, spec.File, error) {
	cfg, err := config.LoadPipelineSpec(path)
	if err != nil {
		return nil, cfg, err
	}
	r := NewRunner(runnerOptions(cfg.Runner))
	r.SetLogger(logging.With(cfg.Vertex.Name, cfg.Vertex.Replica))
	if err := Build(cfg, r); err != nil {
		_ = r.Close()
		return nil, cfg, err
	}
	return r, cfg, nil
}

// Build wires source and sinks described by cfg into r.
func Build(cfg spec.File, r *Runner) error {
	src, err := source.New(cfg.Source.Kind, cfg.Source.Config, source.Vertex{
		Name:    cfg.Vertex.Name,
		Replica: cfg.Vertex.Replica,
	})
	if err != nil {
		return err
	}
	r.SetSource(src)

	for _, name := range cfg.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return err
		}

		switch name {
		case "stdout":
			err = sDrv.Configure(stdout.Config{
				DelayMS:       cfg.Debug.PerMessageDelayMS,
				PrintCounter:  cfg.Debug.PrintCounter,
				PrintValue:    cfg.Debug.PrintValue,
				ValueMaxBytes: cfg.Debug.ValueMaxBytes,
			})
		case "kafka":
			if cfg.SinkConfigs.Kafka == nil {
				err = fmt.Errorf("no config block for sink %q", name)
				break
			}
			err = sDrv.Configure(*cfg.SinkConfigs.Kafka)
		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			return fmt.Errorf("sink %s: %w", name, err)
		}
		r.AddSink(sDrv)
	}
	return nil
}

func runnerOptions(s spec.RunnerSection) Options {
	o := DefaultOptions()
	switch {
	case s.LagIntervalMS < 0:
		o.LagInterval = 0
	case s.LagIntervalMS > 0:
		o.LagInterval = time.Duration(s.LagIntervalMS) * time.Millisecond
	}
	if s.AckRetries > 0 {
		o.AckRetries = s.AckRetries
	}
	if s.AckBackoffMS > 0 {
		o.AckBackoff = time.Duration(s.AckBackoffMS) * time.Millisecond
	}
	return o
}
