package isb

import (
	"time"

	"spout/internal/konf"
)

type rawWriter struct {
	Streams            []Stream      `koanf:"streams"`
	Partitions         uint16        `koanf:"partitions"`
	MaxLength          int           `koanf:"max_length"`
	RefreshInterval    time.Duration `koanf:"refresh_interval"`
	UsageLimit         float64       `koanf:"usage_limit"`
	BufferFullStrategy string        `koanf:"buffer_full_strategy"`
	RetryInterval      time.Duration `koanf:"retry_interval"`
}

type rawReader struct {
	Partitions     uint16        `koanf:"partitions"`
	Streams        []Stream      `koanf:"streams"`
	WIPAckInterval time.Duration `koanf:"wip_ack_interval"`
}

type rawConfig struct {
	Client ClientConfig `koanf:"client"`
	Writer rawWriter    `koanf:"writer"`
	Reader rawReader    `koanf:"reader"`
}

// Load merges YAML (if present) with env-vars (prefix `SPOUT_ISB__`), fills
// unset fields with the defaults and validates the result.
func Load(path string) (Config, error) {
	k, err := konf.Load(path, "SPOUT_ISB__")
	if err != nil {
		return Config{}, err
	}
	var raw rawConfig
	if err := k.Unmarshal("", &raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if raw.Client.URL != "" {
		cfg.Client.URL = raw.Client.URL
	}
	cfg.Client.User, cfg.Client.Password = raw.Client.User, raw.Client.Password

	w := &cfg.Writer
	if len(raw.Writer.Streams) > 0 {
		w.Streams = raw.Writer.Streams
		w.Partitions = uint16(len(raw.Writer.Streams))
	}
	if raw.Writer.Partitions != 0 {
		w.Partitions = raw.Writer.Partitions
	}
	if raw.Writer.MaxLength != 0 {
		w.MaxLength = raw.Writer.MaxLength
	}
	if raw.Writer.RefreshInterval != 0 {
		w.RefreshInterval = raw.Writer.RefreshInterval
	}
	if raw.Writer.UsageLimit != 0 {
		w.UsageLimit = raw.Writer.UsageLimit
	}
	if raw.Writer.RetryInterval != 0 {
		w.RetryInterval = raw.Writer.RetryInterval
	}
	if raw.Writer.BufferFullStrategy != "" {
		if w.BufferFullStrategy, err = ParseBufferFullStrategy(raw.Writer.BufferFullStrategy); err != nil {
			return Config{}, err
		}
	}

	r := &cfg.Reader
	if len(raw.Reader.Streams) > 0 {
		r.Streams = raw.Reader.Streams
		r.Partitions = uint16(len(raw.Reader.Streams))
	}
	if raw.Reader.Partitions != 0 {
		r.Partitions = raw.Reader.Partitions
	}
	if raw.Reader.WIPAckInterval != 0 {
		r.WIPAckInterval = raw.Reader.WIPAckInterval
	}

	return cfg, cfg.Validate()
}
