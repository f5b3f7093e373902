// Package spec holds the pipeline YAML document.
package spec

import (
	sinkkafka "spout/sink/kafka"
)

type sinkConfigs struct {
	Kafka *sinkkafka.Config `yaml:"kafka"`
}

// debugSection drives the stdout sink.
type debugSection struct {
	PerMessageDelayMS int  `yaml:"per_message_delay_ms"`
	PrintCounter      bool `yaml:"print_counter"`
	PrintValue        bool `yaml:"print_value"`
	ValueMaxBytes     int  `yaml:"value_max_bytes"`
}

type RunnerSection struct {
	LagIntervalMS int `yaml:"lag_interval_ms"` // 0 = default, <0 = off
	AckRetries    int `yaml:"ack_retries"`
	AckBackoffMS  int `yaml:"ack_backoff_ms"`
}

type ServerSection struct {
	GRPCPort    int `yaml:"grpc_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Vertex struct {
		Name    string `yaml:"name"`
		Replica int32  `yaml:"replica"`
	} `yaml:"vertex"`

	Source struct {
		Kind   string `yaml:"kind"`   // generator | kafka | jetstream
		Config string `yaml:"config"` // path, relative to the pipeline file
	} `yaml:"source"`

	Sinks       []string      `yaml:"sinks"`
	SinkConfigs sinkConfigs   `yaml:"sink_configs"`
	Debug       debugSection  `yaml:"debug"`
	Runner      RunnerSection `yaml:"runner"`
	Server      ServerSection `yaml:"server"`

	// ISB is the path to the inter-step buffer config; empty means defaults.
	ISB string `yaml:"isb"`
}
