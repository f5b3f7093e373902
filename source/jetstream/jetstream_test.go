package jetstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spout/message"
	"spout/source"
)

type fakePuller struct {
	batches [][]*nats.Msg
	err     error
	info    *nats.ConsumerInfo
	infoErr error
}

func (f *fakePuller) Fetch(int, ...nats.PullOpt) ([]*nats.Msg, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nats.ErrTimeout
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakePuller) ConsumerInfo() (*nats.ConsumerInfo, error) {
	return f.info, f.infoErr
}

func jsMsg(seq uint64, data string) *nats.Msg {
	m := nats.NewMsg("orders.created")
	m.Data = []byte(data)
	m.Header.Set("trace", "t-1")
	// $JS.ACK.<stream>.<consumer>.<delivered>.<sseq>.<cseq>.<ts>.<pending>
	m.Reply = fmt.Sprintf("$JS.ACK.orders.c1.1.%d.%d.1700000000000000000.0", seq, seq)
	m.Sub = &nats.Subscription{}
	return m
}

func testSource(p *fakePuller) (*Source, *[]uint64) {
	cfg := Config{Stream: "orders", Partition: 2}
	applyDefaults(&cfg)
	s := newSource(cfg, source.Vertex{Name: "in"}, p)
	var acked []uint64
	s.ack = func(m *nats.Msg) error {
		meta, err := m.Metadata()
		if err != nil {
			return err
		}
		acked = append(acked, meta.Sequence.Stream)
		return nil
	}
	return s, &acked
}

func TestRead_BuildsMessages(t *testing.T) {
	s, _ := testSource(&fakePuller{batches: [][]*nats.Msg{{jsMsg(41, "a"), jsMsg(42, "b")}}})

	msgs, err := s.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	m := msgs[1]
	assert.Equal(t, []byte("b"), m.Value)
	assert.Equal(t, []string{"orders.created"}, m.Keys)
	assert.Equal(t, message.NewStringOffset("42", 2), m.Offset)
	assert.Equal(t, message.MessageID{VertexName: "in", Offset: "42-2", Index: 1}, m.ID)
	assert.Equal(t, "t-1", m.Headers["trace"])
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), m.EventTime.UTC())
}

func TestRead_IdleIsEmpty(t *testing.T) {
	s, _ := testSource(&fakePuller{})
	msgs, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRead_ClosedConnectionEndsStream(t *testing.T) {
	s, _ := testSource(&fakePuller{err: nats.ErrConnectionClosed})
	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, source.ErrStreamEnded)
}

func TestRead_OtherErrorsRetryable(t *testing.T) {
	s, _ := testSource(&fakePuller{err: errors.New("503")})
	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, source.ErrRetryable)
}

func TestAck_Idempotent(t *testing.T) {
	s, acked := testSource(&fakePuller{batches: [][]*nats.Msg{{jsMsg(1, "a"), jsMsg(2, "b")}}})
	msgs, err := s.Read(context.Background())
	require.NoError(t, err)

	offs := []message.Offset{msgs[0].Offset, msgs[1].Offset}
	ctx := context.Background()
	require.NoError(t, s.Ack(ctx, offs))
	require.NoError(t, s.Ack(ctx, offs))
	require.NoError(t, s.Ack(ctx, nil))
	require.NoError(t, s.Ack(ctx, []message.Offset{message.NewStringOffset("999", 2)}))
	assert.Equal(t, []uint64{1, 2}, *acked)
}

func TestAck_FailureIsRetryable(t *testing.T) {
	s, _ := testSource(&fakePuller{batches: [][]*nats.Msg{{jsMsg(7, "a")}}})
	msgs, err := s.Read(context.Background())
	require.NoError(t, err)

	calls := 0
	s.ack = func(*nats.Msg) error {
		calls++
		if calls == 1 {
			return nats.ErrTimeout
		}
		return nil
	}
	err = s.Ack(context.Background(), []message.Offset{msgs[0].Offset})
	require.ErrorIs(t, err, source.ErrRetryable)

	require.NoError(t, s.Ack(context.Background(), []message.Offset{msgs[0].Offset}))
	assert.Equal(t, 2, calls, "failed ack must stay pending for the retry")
}

func TestAck_RejectsForeignOffset(t *testing.T) {
	s, _ := testSource(&fakePuller{})
	assert.Error(t, s.Ack(context.Background(), []message.Offset{message.NewIntOffset(1, 0)}))
}

func TestPending(t *testing.T) {
	s, _ := testSource(&fakePuller{info: &nats.ConsumerInfo{NumPending: 17, NumAckPending: 3}})
	n, err := s.Pending(context.Background())
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, int64(20), *n)

	s, _ = testSource(&fakePuller{infoErr: nats.ErrConnectionClosed})
	n, err = s.Pending(context.Background())
	assert.ErrorIs(t, err, source.ErrRetryable)
	assert.Nil(t, n)
}

func TestPartitions(t *testing.T) {
	s, _ := testSource(&fakePuller{})
	assert.Equal(t, []int32{2}, s.Partitions())
	assert.Equal(t, "jetstream", s.Name())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "js.yml")
	require.NoError(t, os.WriteFile(path, []byte("stream: orders\nsubject: orders.>\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:4222", cfg.Client.URL)
	assert.Empty(t, cfg.Client.User)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.ReadTimeout)

	_, err = LoadConfig("")
	assert.Error(t, err, "stream is required")
}

func TestAck_ConcurrentDuplicatesAckOnce(t *testing.T) {
	s, _ := testSource(&fakePuller{batches: [][]*nats.Msg{{jsMsg(1, "a"), jsMsg(2, "b"), jsMsg(3, "c")}}})
	msgs, err := s.Read(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	calls := map[uint64]int{}
	s.ack = func(m *nats.Msg) error {
		meta, err := m.Metadata()
		if err != nil {
			return err
		}
		mu.Lock()
		calls[meta.Sequence.Stream]++
		mu.Unlock()
		return nil
	}

	// idle reads keep running beside the acks
	readCtx, stopRead := context.WithCancel(context.Background())
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for readCtx.Err() == nil {
			_, _ = s.Read(readCtx)
		}
	}()

	offs := []message.Offset{msgs[0].Offset, msgs[1].Offset, msgs[2].Offset}
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(shift int) {
			defer wg.Done()
			order := append(append([]message.Offset{}, offs[shift:]...), offs[:shift]...)
			assert.NoError(t, s.Ack(context.Background(), order))
		}(i % len(offs))
	}
	wg.Wait()
	stopRead()
	<-readDone

	assert.Equal(t, map[uint64]int{1: 1, 2: 1, 3: 1}, calls)
	s.mu.Lock()
	assert.Empty(t, s.pending)
	s.mu.Unlock()
}
