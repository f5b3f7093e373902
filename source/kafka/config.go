package kafka

import (
	"fmt"
	"time"

	"spout/internal/konf"
)

type CommitMode string

const (
	CommitAuto CommitMode = "auto" // settle on read
	CommitE2E  CommitMode = "e2e"  // wait for Ack
)

type BackPressureCfg struct {
	Capacity int64         `koanf:"capacity"`       // max unacked records
	CheckInt time.Duration `koanf:"check_interval"` // refill tick
}

type CheckpointCfg struct {
	CommitInt time.Duration `koanf:"commit_interval"` // flush cadence
}

type Config struct {
	Brokers   []string `koanf:"brokers"`
	Topic     string   `koanf:"topic"`
	GroupID   string   `koanf:"group_id"`
	StartFrom string   `koanf:"start_from"` // oldest|newest (default newest)
	Version   string   `koanf:"version"`
	TLSEn     bool     `koanf:"tls_enabled"`
	SASLUser  string   `koanf:"sasl_user"`
	SASLPass  string   `koanf:"sasl_pass"`

	BatchSize   int           `koanf:"batch_size"`   // max records per Read
	ReadTimeout time.Duration `koanf:"read_timeout"` // how long Read waits to fill a batch

	CommitMode   CommitMode      `koanf:"commit_mode"` // auto|e2e
	BackPressure BackPressureCfg `koanf:"backpressure"`
	Checkpoint   CheckpointCfg   `koanf:"checkpoint"`
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `SPOUT_KAFKA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k, err := konf.Load(path, "SPOUT_KAFKA__")
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

func applyDefaults(c *Config) {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.Version == "" {
		c.Version = "2.1.0"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 500
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	if c.BackPressure.Capacity == 0 {
		c.BackPressure.Capacity = 30_000
	}
	if c.BackPressure.CheckInt == 0 {
		c.BackPressure.CheckInt = 100 * time.Millisecond
	}
	if c.Checkpoint.CommitInt == 0 {
		c.Checkpoint.CommitInt = 5 * time.Second
	}
	if c.CommitMode != CommitAuto && c.CommitMode != CommitE2E {
		c.CommitMode = CommitE2E
	}
	if c.StartFrom == "" {
		c.StartFrom = "newest"
	}
}

func (c Config) Validate() error {
	switch {
	case c.Topic == "":
		return fmt.Errorf("kafka: topic is required")
	case c.GroupID == "":
		return fmt.Errorf("kafka: group_id is required")
	case c.BatchSize < 1:
		return fmt.Errorf("kafka: batch_size must be positive")
	case c.BackPressure.Capacity < int64(c.BatchSize):
		return fmt.Errorf("kafka: backpressure capacity %d below batch_size %d", c.BackPressure.Capacity, c.BatchSize)
	}
	return nil
}
