package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"spout/internal/spec"
)

const SupportedSchema = "v1"

// LoadPipelineSpec parses a pipeline YAML, validates schema_version, and
// resolves the source and isb config paths against the pipeline's directory.
func LoadPipelineSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if cfg.Vertex.Name == "" {
		return cfg, fmt.Errorf("pipeline: vertex.name is required")
	}
	if cfg.Vertex.Replica < 0 {
		return cfg, fmt.Errorf("pipeline: vertex.replica must be >= 0")
	}
	if cfg.Source.Kind == "" {
		return cfg, fmt.Errorf("pipeline: source.kind is required")
	}
	cfg.Source.Config = resolve(path, cfg.Source.Config)
	cfg.ISB = resolve(path, cfg.ISB)
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(base), p)
}
