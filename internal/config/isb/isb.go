// Package isb holds the inter-step buffer configuration consumed by buffer
// writers and readers. Values are loaded and validated once at stage startup
// and passed around by value; nothing here is global.
package isb

import (
	"fmt"
	"time"
)

const (
	DefaultURL = "localhost:4222"

	defaultPartitionIdx    uint16  = 0
	defaultPartitions      uint16  = 1
	defaultMaxLength               = 30000
	defaultUsageLimit      float64 = 0.8
	defaultRefreshInterval         = time.Second
	defaultRetryInterval           = 10 * time.Millisecond
	defaultWIPAckInterval          = 1000 * time.Millisecond
	defaultStreamName              = "default-0"
)

// BufferFullStrategy decides what a writer does when a partition is over its
// usage limit.
type BufferFullStrategy int

const (
	RetryUntilSuccess BufferFullStrategy = iota
	DiscardLatest
)

func (s BufferFullStrategy) String() string {
	switch s {
	case RetryUntilSuccess:
		return "retryUntilSuccess"
	case DiscardLatest:
		return "discardLatest"
	}
	return fmt.Sprintf("BufferFullStrategy(%d)", int(s))
}

// ParseBufferFullStrategy is case-sensitive.
func ParseBufferFullStrategy(s string) (BufferFullStrategy, error) {
	switch s {
	case "retryUntilSuccess":
		return RetryUntilSuccess, nil
	case "discardLatest":
		return DiscardLatest, nil
	}
	return 0, fmt.Errorf("isb: unknown buffer_full_strategy %q", s)
}

func (s BufferFullStrategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *BufferFullStrategy) UnmarshalText(b []byte) error {
	v, err := ParseBufferFullStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Stream is one buffer partition.
type Stream struct {
	Name      string `koanf:"name" yaml:"name"`
	Partition uint16 `koanf:"partition" yaml:"partition"`
}

// ClientConfig describes the broker connection. Empty User/Password means
// no credentials.
type ClientConfig struct {
	URL      string `koanf:"url"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{URL: DefaultURL}
}

type BufferWriterConfig struct {
	Streams            []Stream
	Partitions         uint16
	MaxLength          int
	RefreshInterval    time.Duration
	UsageLimit         float64
	BufferFullStrategy BufferFullStrategy
	RetryInterval      time.Duration
}

func DefaultBufferWriterConfig() BufferWriterConfig {
	return BufferWriterConfig{
		Streams:            []Stream{{Name: defaultStreamName, Partition: defaultPartitionIdx}},
		Partitions:         defaultPartitions,
		MaxLength:          defaultMaxLength,
		UsageLimit:         defaultUsageLimit,
		RefreshInterval:    defaultRefreshInterval,
		BufferFullStrategy: RetryUntilSuccess,
		RetryInterval:      defaultRetryInterval,
	}
}

type BufferReaderConfig struct {
	Partitions     uint16
	Streams        []Stream
	WIPAckInterval time.Duration
}

func DefaultBufferReaderConfig() BufferReaderConfig {
	return BufferReaderConfig{
		Partitions:     defaultPartitions,
		Streams:        []Stream{{Name: defaultStreamName, Partition: defaultPartitionIdx}},
		WIPAckInterval: defaultWIPAckInterval,
	}
}

// Config is everything a stage needs to talk to its buffers.
type Config struct {
	Client ClientConfig
	Writer BufferWriterConfig
	Reader BufferReaderConfig
}

func Default() Config {
	return Config{
		Client: DefaultClientConfig(),
		Writer: DefaultBufferWriterConfig(),
		Reader: DefaultBufferReaderConfig(),
	}
}

// Validate rejects the malformations a writer or reader cannot work with.
func (c Config) Validate() error {
	if c.Client.URL == "" {
		return fmt.Errorf("isb: client url is empty")
	}
	if err := validateStreams("writer", c.Writer.Streams, c.Writer.Partitions); err != nil {
		return err
	}
	if err := validateStreams("reader", c.Reader.Streams, c.Reader.Partitions); err != nil {
		return err
	}
	w := c.Writer
	switch {
	case w.UsageLimit <= 0 || w.UsageLimit > 1:
		return fmt.Errorf("isb: writer usage_limit %v outside (0, 1]", w.UsageLimit)
	case w.MaxLength <= 0:
		return fmt.Errorf("isb: writer max_length must be positive, got %d", w.MaxLength)
	case w.RefreshInterval <= 0:
		return fmt.Errorf("isb: writer refresh_interval must be positive")
	case w.RetryInterval <= 0:
		return fmt.Errorf("isb: writer retry_interval must be positive")
	case c.Reader.WIPAckInterval <= 0:
		return fmt.Errorf("isb: reader wip_ack_interval must be positive")
	}
	return nil
}

func validateStreams(side string, streams []Stream, partitions uint16) error {
	if int(partitions) != len(streams) {
		return fmt.Errorf("isb: %s partitions %d != %d streams", side, partitions, len(streams))
	}
	seen := make(map[uint16]string, len(streams))
	for _, s := range streams {
		if s.Name == "" {
			return fmt.Errorf("isb: %s stream for partition %d has no name", side, s.Partition)
		}
		if prev, dup := seen[s.Partition]; dup {
			return fmt.Errorf("isb: %s streams %q and %q share partition %d", side, prev, s.Name, s.Partition)
		}
		seen[s.Partition] = s.Name
	}
	return nil
}

// StreamFor returns the writer stream backing partition p.
func (w BufferWriterConfig) StreamFor(p uint16) (Stream, bool) {
	for _, s := range w.Streams {
		if s.Partition == p {
			return s, true
		}
	}
	return Stream{}, false
}
