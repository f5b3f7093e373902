package kafka

import (
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"spout/internal/logging"
	"spout/message"
	"spout/sink"
)

const idHeader = "spout-id"

var errClosed = errors.New("kafka-sink: closed")

type Config struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Acks     int16    `yaml:"required_acks"` // 0,1,-1
	ClientID string   `yaml:"client_id"`
}

type driver struct {
	cfg Config
	p   sarama.AsyncProducer

	newProducer func([]string, *sarama.Config) (sarama.AsyncProducer, error)

	mu       sync.Mutex // guards inflight+err+closed
	cond     *sync.Cond
	inflight int
	err      error
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

func newDriver() *driver {
	d := &driver{newProducer: sarama.NewAsyncProducer}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func producerConfig(cfg Config) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	return sc
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return fmt.Errorf("kafka-sink: brokers and topic are required")
	}
	d.cfg = cfg

	p, err := d.newProducer(cfg.Brokers, producerConfig(cfg))
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.p = p
	d.done = make(chan struct{})
	go d.drain()
	return nil
}

func (d *driver) Push(m *message.Message) error {
	d.mu.Lock()
	if d.closed || d.p == nil {
		d.mu.Unlock()
		return errClosed
	}
	d.inflight++
	d.mu.Unlock()

	d.p.Input() <- toProducerMessage(d.cfg.Topic, m)
	return nil
}

// Flush blocks until every pushed message is settled and returns the first
// delivery error seen since the previous Flush.
func (d *driver) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.inflight > 0 {
		d.cond.Wait()
	}
	err := d.err
	d.err = nil
	return err
}

func (d *driver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		if d.p != nil {
			d.p.AsyncClose()
			<-d.done
		}
	})
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *driver) drain() {
	defer close(d.done)
	succ, errs := d.p.Successes(), d.p.Errors()
	for succ != nil || errs != nil {
		select {
		case _, ok := <-succ:
			if !ok {
				succ = nil
				continue
			}
			d.settle(nil)
		case pe, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logging.L().Warn("kafka-sink delivery failed", "topic", d.cfg.Topic, "err", pe.Err)
			d.settle(pe.Err)
		}
	}
}

func (d *driver) settle(err error) {
	d.mu.Lock()
	if d.inflight > 0 {
		d.inflight--
	}
	if err != nil && d.err == nil {
		d.err = err
	}
	d.cond.Broadcast()
	d.mu.Unlock()
}

func toProducerMessage(topic string, m *message.Message) *sarama.ProducerMessage {
	pm := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(m.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(idHeader), Value: []byte(m.ID.String())},
		},
	}
	if len(m.Keys) > 0 {
		pm.Key = sarama.StringEncoder(m.Keys[0])
	}
	if !m.EventTime.IsZero() {
		pm.Timestamp = m.EventTime
	}
	for k, v := range m.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return pm
}

func init() { sink.Register("kafka", func() sink.Adapter { return newDriver() }) }
