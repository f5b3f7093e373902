package message

import (
	"strconv"
	"sync"
	"time"
)

// IDGenerator hands out record identities built from a nanosecond timestamp
// and the replica index. Timestamps are forced to be strictly increasing per
// generator, so two calls within the same clock tick still differ. Uniqueness
// across replicas relies on the replica index being part of the offset.
type IDGenerator struct {
	vertex  string
	replica int32
	now     func() time.Time

	mu   sync.Mutex
	last int64
}

func NewIDGenerator(vertex string, replica int32) *IDGenerator {
	return &IDGenerator{vertex: vertex, replica: replica, now: time.Now}
}

// Vertex returns the stage name stamped on every MessageID.
func (g *IDGenerator) Vertex() string { return g.vertex }

// Replica returns the replica index used as the offset partition.
func (g *IDGenerator) Replica() int32 { return g.replica }

func (g *IDGenerator) nextNanos() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.now().UnixNano()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return n
}

// Next returns a fresh offset together with the MessageID for slot index.
func (g *IDGenerator) Next(index int32) (StringOffset, MessageID) {
	off := NewStringOffset(strconv.FormatInt(g.nextNanos(), 10), g.replica)
	return off, MessageID{
		VertexName: g.vertex,
		Offset:     off.String(),
		Index:      index,
	}
}

// Build wraps value into a Message carrying a new identity.
func (g *IDGenerator) Build(value []byte, index int32) *Message {
	off, id := g.Next(index)
	return &Message{
		Value:  value,
		Offset: off,
		ID:     id,
	}
}
