// spout/sink/stdout/driver.go
package stdout

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"spout/message"
	"spout/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS       int       `yaml:"delay_ms"`        // artificial per-message delay
	PrintCounter  bool      `yaml:"print_counter"`   // prepend seq#
	PrintValue    bool      `yaml:"print_value"`     // append the payload
	ValueMaxBytes int       `yaml:"value_max_bytes"` // 0 = no truncation
	Out           io.Writer `yaml:"-"`               // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu  sync.Mutex // guards out+seq
	out io.Writer
	seq uint64
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.ValueMaxBytes < 0 {
		return fmt.Errorf("stdout-sink: value_max_bytes must be >= 0")
	}
	d.cfg = c
	d.out = c.Out
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Push(m *message.Message) error {
	if d.cfg.DelayMS > 0 {
		time.Sleep(time.Duration(d.cfg.DelayMS) * time.Millisecond)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out == nil {
		d.out = os.Stdout
	}
	d.seq++

	line := "[sink] " + m.ID.String()
	if d.cfg.PrintCounter {
		line = fmt.Sprintf("[sink %06d] %s", d.seq, m.ID)
	}
	if d.cfg.PrintValue {
		v := m.Value
		if n := d.cfg.ValueMaxBytes; n > 0 && len(v) > n {
			v = v[:n]
		}
		line += fmt.Sprintf(" value=%q", v)
	}
	_, err := fmt.Fprintln(d.out, line)
	return err
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
