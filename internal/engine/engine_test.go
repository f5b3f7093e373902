package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spout/internal/config/isb"
	"spout/internal/logging"
	"spout/internal/pipeline"
	"spout/internal/transport"
	"spout/message"
	"spout/source"
)

func TestPartitionMismatch(t *testing.T) {
	w := isb.DefaultBufferWriterConfig()
	assert.Empty(t, partitionMismatch([]int32{0}, w))
	assert.NotEmpty(t, partitionMismatch([]int32{1}, w))
	assert.NotEmpty(t, partitionMismatch([]int32{0, 1}, w))

	w.Streams = []isb.Stream{{Name: "a-0", Partition: 0}, {Name: "a-1", Partition: 1}}
	w.Partitions = 2
	assert.Empty(t, partitionMismatch([]int32{0, 1}, w))
}

func TestBootstrap_RequiresPipeline(t *testing.T) {
	_, err := Bootstrap(context.Background(), Config{})
	assert.Error(t, err)
}

func TestEngine_ServesLagUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("gen.yml", "content: tick\nrpu: 50\nduration: 100ms\n")
	write("isb.yml", "writer:\n  streams:\n    - {name: in-0, partition: 0}\n")
	write("pipeline.yml", `schema_version: v1
vertex: { name: in, replica: 0 }
source: { kind: generator, config: gen.yml }
sinks: []
isb: isb.yml
runner: { lag_interval_ms: 10 }
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, err := Bootstrap(ctx, Config{PipelineYml: filepath.Join(dir, "pipeline.yml")})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	port := e.Addr().(*net.TCPAddr).Port
	client, cc, err := transport.Dial(fmt.Sprintf("localhost:%d", port))
	require.NoError(t, err)
	defer cc.Close()

	cctx, ccancel := context.WithTimeout(ctx, 5*time.Second)
	defer ccancel()
	parts, err := client.Partitions(cctx)
	require.NoError(t, err)
	assert.Equal(t, []int32{0}, parts)

	n, err := client.Pending(cctx)
	require.NoError(t, err)
	assert.Nil(t, n, "generator backlog is unknown")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

type endedSource struct{}

func (endedSource) Name() string        { return "ended" }
func (endedSource) Partitions() []int32 { return []int32{0} }
func (endedSource) Close() error        { return nil }
func (endedSource) Read(context.Context) ([]*message.Message, error) {
	return nil, source.ErrStreamEnded
}
func (endedSource) Ack(context.Context, []message.Offset) error { return nil }
func (endedSource) Pending(context.Context) (*int64, error)     { return nil, nil }

func TestEngine_StreamEndIsFatal(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := pipeline.NewRunner(pipeline.Options{})
	r.SetSource(endedSource{})
	e := &Engine{
		transport: transport.NewServer(lis, endedSource{}),
		runner:    r,
		isb:       isb.Default(),
		log:       logging.L(),
	}

	err = e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrStreamEnded), "got %v", err)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEngine_StoppedServerIsNotAnError(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var out lockedBuffer
	r := pipeline.NewRunner(pipeline.Options{})
	r.SetSource(endedSource{})
	e := &Engine{
		transport: transport.NewServer(lis, endedSource{}),
		runner:    r,
		isb:       isb.Default(),
		log:       slog.New(slog.NewTextHandler(&out, nil)),
	}
	// stopped before Serve runs, as on a fast exit
	e.transport.Stop()

	require.Error(t, e.Run(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, out.String(), "transport stopped")
}
