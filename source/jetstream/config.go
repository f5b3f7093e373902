package jetstream

import (
	"fmt"
	"time"

	"spout/internal/config/isb"
	"spout/internal/konf"
)

type Config struct {
	Client      isb.ClientConfig `koanf:"client"`
	Stream      string           `koanf:"stream"`
	Subject     string           `koanf:"subject"`
	Consumer    string           `koanf:"consumer"` // durable name; defaults to spout-<vertex>
	Partition   int32            `koanf:"partition"`
	BatchSize   int              `koanf:"batch_size"`
	ReadTimeout time.Duration    `koanf:"read_timeout"`
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `SPOUT_JETSTREAM__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k, err := konf.Load(path, "SPOUT_JETSTREAM__")
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
	if c.Client.URL == "" {
		c.Client.URL = isb.DefaultURL
	}
	if c.BatchSize == 0 {
		c.BatchSize = 500
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
}

func (c Config) Validate() error {
	switch {
	case c.Stream == "":
		return fmt.Errorf("jetstream: stream is required")
	case c.BatchSize < 1:
		return fmt.Errorf("jetstream: batch_size must be positive")
	case c.ReadTimeout <= 0:
		return fmt.Errorf("jetstream: read_timeout must be positive")
	}
	return nil
}
