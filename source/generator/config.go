package generator

import (
	"fmt"
	"time"

	"spout/internal/konf"
)

const minUnit = 10 * time.Millisecond

type Config struct {
	Content  string        `koanf:"content"`  // payload copied into every record
	RPU      int           `koanf:"rpu"`      // records per unit
	Batch    int           `koanf:"batch"`    // max records per read
	Duration time.Duration `koanf:"duration"` // the unit
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `SPOUT_GENERATOR__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k, err := konf.Load(path, "SPOUT_GENERATOR__")
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
	if c.RPU == 0 {
		c.RPU = 5
	}
	if c.Batch == 0 {
		c.Batch = c.RPU
	}
	if c.Duration == 0 {
		c.Duration = time.Second
	}
}

func (c Config) Validate() error {
	switch {
	case c.RPU < 1:
		return fmt.Errorf("generator: rpu must be positive, got %d", c.RPU)
	case c.Batch < 1:
		return fmt.Errorf("generator: batch must be positive, got %d", c.Batch)
	case c.Duration < minUnit:
		return fmt.Errorf("generator: duration %s below minimum %s", c.Duration, minUnit)
	}
	return nil
}
