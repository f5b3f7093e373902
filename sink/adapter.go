package sink

import (
	"fmt"
	"sort"

	"spout/message"
)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error         // driver-specific YAML ⇒ struct
	Push(*message.Message) error // consume one message
	Close() error                // idempotent
}

// Flusher is *optional*; sinks that hand messages off asynchronously
// implement it. The runner calls Flush after a batch and acks the source
// only when every sink reports the batch as delivered.
type Flusher interface {
	Flush() error
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q (known: %v)", name, Kinds())
}

// Kinds lists the registered sink names.
func Kinds() []string {
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
