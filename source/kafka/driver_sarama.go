package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"spout/internal/logging"
	"spout/message"
	"spout/source"
)

type recordID struct {
	partition int32
	offset    int64
}

type claimed struct {
	sess    sarama.ConsumerGroupSession
	msg     *sarama.ConsumerMessage
	resolve func() (**sarama.ConsumerMessage, bool)
}

// offsetClient is the part of sarama.Client used for lag.
type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

// groupOffsets is the part of sarama.ClusterAdmin used for lag.
type groupOffsets interface {
	ListConsumerGroupOffsets(group string, topicPartitions map[string][]int32) (*sarama.OffsetFetchResponse, error)
}

// SaramaDriver is a Kafka consumer-group source. A background claim loop
// feeds records into a bounded channel; Read drains it in batches and Ack
// marks the contiguous acknowledged prefix of each partition.
type SaramaDriver struct {
	cfg    Config
	vertex source.Vertex
	log    *slog.Logger

	cl    sarama.Client
	group sarama.ConsumerGroup
	lagCl offsetClient
	admin groupOffsets
	bp    *Controller
	cp    *Manager[int32, *sarama.ConsumerMessage]

	records chan claimed
	done    chan struct{}
	runErr  error
	cancel  context.CancelFunc

	mu       sync.Mutex
	pending  map[recordID]claimed
	assigned []int32
}

func newDriver(cfg Config, v source.Vertex) *SaramaDriver {
	return &SaramaDriver{
		cfg:     cfg,
		vertex:  v,
		log:     logging.With(v.Name, v.Replica).With("source", "kafka", "topic", cfg.Topic),
		bp:      NewController(cfg.BackPressure.Capacity, cfg.BackPressure.Capacity/10, cfg.BackPressure.CheckInt),
		cp:      NewManager[int32, *sarama.ConsumerMessage](cfg.Checkpoint.CommitInt),
		records: make(chan claimed, cfg.BatchSize),
		done:    make(chan struct{}),
		pending: make(map[recordID]claimed),
	}
}

func saramaConfig(cfg Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = "spout-" + uuid.NewString()
	sc.Consumer.Return.Errors = true
	// offsets are marked explicitly from Ack
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}
	switch cfg.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc, sc.Validate()
}

// Open connects to the brokers and starts consuming.
func Open(cfg Config, v source.Vertex) (*SaramaDriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	d := newDriver(cfg, v)
	if d.cl, err = sarama.NewClient(cfg.Brokers, sc); err != nil {
		return nil, err
	}
	if d.group, err = sarama.NewConsumerGroupFromClient(cfg.GroupID, d.cl); err != nil {
		_ = d.cl.Close()
		return nil, err
	}
	admin, err := sarama.NewClusterAdminFromClient(d.cl)
	if err != nil {
		_ = d.group.Close()
		_ = d.cl.Close()
		return nil, err
	}
	d.lagCl, d.admin = d.cl, admin

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.drainErrors()
	go d.run(ctx)
	return d, nil
}

func init() {
	source.Register("kafka", func(path string, v source.Vertex) (source.Source, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return Open(cfg, v)
	})
}

func (d *SaramaDriver) run(ctx context.Context) {
	defer close(d.done)
	handler := &groupHandler{driver: d}
	for {
		if err := d.group.Consume(ctx, []string{d.cfg.Topic}, handler); err != nil {
			if !errors.Is(err, sarama.ErrClosedConsumerGroup) {
				d.runErr = err
				d.log.Error("kafka consume loop stopped", "err", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (d *SaramaDriver) drainErrors() {
	for err := range d.group.Errors() {
		d.log.Warn("kafka consumer error", "err", err)
	}
}

func (*SaramaDriver) Name() string { return "kafka" }

// Read blocks for the first record, then keeps collecting until the batch is
// full or ReadTimeout elapsed.
func (d *SaramaDriver) Read(ctx context.Context) ([]*message.Message, error) {
	var batch []claimed
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, d.endErr()
	case c := <-d.records:
		batch = append(batch, c)
	}

	timer := time.NewTimer(d.cfg.ReadTimeout)
	defer timer.Stop()
fill:
	for len(batch) < d.cfg.BatchSize {
		select {
		case c := <-d.records:
			batch = append(batch, c)
		case <-timer.C:
			break fill
		case <-ctx.Done():
			// the batch is already taken off the claim loop; hand it out
			// rather than lose it
			break fill
		}
	}

	out := make([]*message.Message, 0, len(batch))
	d.mu.Lock()
	for i, c := range batch {
		off := message.NewIntOffset(c.msg.Offset, c.msg.Partition)
		out = append(out, toMessage(d.vertex.Name, off, int32(i), c.msg))
		d.pending[recordID{c.msg.Partition, c.msg.Offset}] = c
	}
	d.mu.Unlock()

	if d.cfg.CommitMode == CommitAuto {
		for _, m := range out {
			d.settle(m.Offset.(message.IntOffset))
		}
	}
	return out, nil
}

func (d *SaramaDriver) endErr() error {
	if d.runErr != nil {
		return fmt.Errorf("%w: %v", source.ErrStreamEnded, d.runErr)
	}
	return source.ErrStreamEnded
}

func toMessage(vertex string, off message.IntOffset, idx int32, msg *sarama.ConsumerMessage) *message.Message {
	m := &message.Message{
		Value:     msg.Value,
		Offset:    off,
		EventTime: msg.Timestamp,
		ID: message.MessageID{
			VertexName: vertex,
			Offset:     off.String(),
			Index:      idx,
		},
		Headers: toHeaderMap(msg.Headers),
	}
	if len(msg.Key) > 0 {
		m.Keys = []string{string(msg.Key)}
	}
	return m
}

// Ack settles the given offsets. Unknown, duplicate and stale offsets (from
// partitions revoked by a rebalance) are ignored.
func (d *SaramaDriver) Ack(ctx context.Context, offsets []message.Offset) error {
	for _, o := range offsets {
		if err := ctx.Err(); err != nil {
			return err
		}
		off, ok := o.(message.IntOffset)
		if !ok {
			return fmt.Errorf("kafka: unexpected offset type %T", o)
		}
		d.settle(off)
	}
	return nil
}

func (d *SaramaDriver) settle(o message.IntOffset) {
	rec := recordID{o.PartitionIdx, o.Value}
	d.mu.Lock()
	c, ok := d.pending[rec]
	if ok {
		delete(d.pending, rec)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	highest, due := c.resolve()
	if highest != nil {
		c.sess.MarkMessage(*highest, "")
	}
	if due {
		c.sess.Commit()
	}
	d.bp.Release(1)
	d.log.Debug("kafka ack released", "partition", rec.partition, "offset", rec.offset)
}

// Partitions are the partitions currently claimed by this member.
func (d *SaramaDriver) Partitions() []int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.assigned)
}

// Pending sums newest minus committed offset over the claimed partitions
// (every partition of the topic before the first assignment).
func (d *SaramaDriver) Pending(ctx context.Context) (*int64, error) {
	parts := d.Partitions()
	if len(parts) == 0 {
		var err error
		if parts, err = d.lagCl.Partitions(d.cfg.Topic); err != nil {
			return nil, source.Retryable(fmt.Errorf("kafka: list partitions: %w", err))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := d.admin.ListConsumerGroupOffsets(d.cfg.GroupID, map[string][]int32{d.cfg.Topic: parts})
	if err != nil {
		return nil, source.Retryable(fmt.Errorf("kafka: fetch committed offsets: %w", err))
	}

	var total int64
	for _, p := range parts {
		newest, err := d.lagCl.GetOffset(d.cfg.Topic, p, sarama.OffsetNewest)
		if err != nil {
			return nil, source.Retryable(fmt.Errorf("kafka: newest offset p%d: %w", p, err))
		}
		committed := int64(-1)
		if b := resp.GetBlock(d.cfg.Topic, p); b != nil && b.Err == sarama.ErrNoError {
			committed = b.Offset
		}
		if committed < 0 {
			if committed, err = d.lagCl.GetOffset(d.cfg.Topic, p, sarama.OffsetOldest); err != nil {
				return nil, source.Retryable(fmt.Errorf("kafka: oldest offset p%d: %w", p, err))
			}
		}
		total += max(newest-committed, 0)
	}
	return source.Count(total), nil
}

func (d *SaramaDriver) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	var errs []error
	if d.group != nil {
		errs = append(errs, d.group.Close())
	}
	// closes the shared client as well
	if a, ok := d.admin.(sarama.ClusterAdmin); ok {
		errs = append(errs, a.Close())
	}
	d.bp.Close()
	return errors.Join(errs...)
}

type groupHandler struct {
	driver *SaramaDriver
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	parts := slices.Clone(sess.Claims()[h.driver.cfg.Topic])
	slices.Sort(parts)
	h.driver.mu.Lock()
	h.driver.assigned = parts
	h.driver.mu.Unlock()
	h.driver.log.Info("kafka partitions assigned", "partitions", parts, "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error {
	h.driver.mu.Lock()
	dropped := len(h.driver.pending)
	h.driver.pending = make(map[recordID]claimed)
	h.driver.assigned = nil
	h.driver.mu.Unlock()

	// records buffered for Read belong to the old generation
	for drained := false; !drained; {
		select {
		case <-h.driver.records:
			dropped++
		default:
			drained = true
		}
	}

	h.driver.cp.Reset()
	if dropped > 0 {
		h.driver.bp.Release(int64(dropped))
		h.driver.log.Info("kafka rebalance – cleared pending records", "count", dropped)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.driver.bp.Acquire(ctx); err != nil {
				return nil
			}
			c := claimed{
				sess:    sess,
				msg:     msg,
				resolve: h.driver.cp.Track(msg.Partition, msg),
			}
			select {
			case h.driver.records <- c:
			case <-ctx.Done():
				h.driver.bp.Release(1)
				return nil
			}
		}
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for _, h := range src {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}
