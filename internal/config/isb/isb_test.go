package isb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientConfig(t *testing.T) {
	assert.Equal(t, ClientConfig{URL: "localhost:4222"}, DefaultClientConfig())
}

func TestDefaultBufferWriterConfig(t *testing.T) {
	expected := BufferWriterConfig{
		Streams:            []Stream{{Name: "default-0", Partition: 0}},
		Partitions:         1,
		MaxLength:          30000,
		UsageLimit:         0.8,
		RefreshInterval:    time.Second,
		BufferFullStrategy: RetryUntilSuccess,
		RetryInterval:      10 * time.Millisecond,
	}
	assert.Equal(t, expected, DefaultBufferWriterConfig())
}

func TestDefaultBufferReaderConfig(t *testing.T) {
	expected := BufferReaderConfig{
		Partitions:     1,
		Streams:        []Stream{{Name: "default-0", Partition: 0}},
		WIPAckInterval: time.Second,
	}
	assert.Equal(t, expected, DefaultBufferReaderConfig())
	require.NoError(t, Default().Validate())
}

func TestBufferFullStrategyEncoding(t *testing.T) {
	assert.Equal(t, "retryUntilSuccess", RetryUntilSuccess.String())
	assert.Equal(t, "discardLatest", DiscardLatest.String())

	var s BufferFullStrategy
	require.NoError(t, s.UnmarshalText([]byte("discardLatest")))
	assert.Equal(t, DiscardLatest, s)
	b, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "discardLatest", string(b))

	_, err = ParseBufferFullStrategy("DiscardLatest")
	assert.Error(t, err, "encoding is case-sensitive")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"partitions mismatch": func(c *Config) { c.Writer.Partitions = 2 },
		"duplicate index": func(c *Config) {
			c.Reader.Streams = []Stream{{"a", 0}, {"b", 0}}
			c.Reader.Partitions = 2
		},
		"usage limit zero":  func(c *Config) { c.Writer.UsageLimit = 0 },
		"usage limit above": func(c *Config) { c.Writer.UsageLimit = 1.01 },
		"empty url":         func(c *Config) { c.Client.URL = "" },
		"no ack interval":   func(c *Config) { c.Reader.WIPAckInterval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.Writer.UsageLimit = 1
	assert.NoError(t, c.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isb.yml")
	raw := []byte(`schema_version: v1
client:
  url: nats://broker:4222
  user: app
writer:
  streams:
    - {name: out-0, partition: 0}
    - {name: out-1, partition: 1}
  usage_limit: 0.5
  buffer_full_strategy: discardLatest
  retry_interval: 20ms
reader:
  wip_ack_interval: 500ms
`)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://broker:4222", cfg.Client.URL)
	assert.Equal(t, "app", cfg.Client.User)
	assert.Equal(t, uint16(2), cfg.Writer.Partitions)
	assert.Equal(t, 0.5, cfg.Writer.UsageLimit)
	assert.Equal(t, DiscardLatest, cfg.Writer.BufferFullStrategy)
	assert.Equal(t, 20*time.Millisecond, cfg.Writer.RetryInterval)
	assert.Equal(t, 30000, cfg.Writer.MaxLength)
	assert.Equal(t, 500*time.Millisecond, cfg.Reader.WIPAckInterval)
	assert.Equal(t, DefaultBufferReaderConfig().Streams, cfg.Reader.Streams)

	s, ok := cfg.Writer.StreamFor(1)
	require.True(t, ok)
	assert.Equal(t, "out-1", s.Name)
}

func TestLoad_RejectsMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isb.yml")
	raw := []byte("writer:\n  partitions: 3\n  streams:\n    - {name: a, partition: 0}\n")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
