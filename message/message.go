// Package message holds the record identity model produced by every source:
// the Message envelope, its Offset variants and the MessageID used downstream
// for deduplication.
package message

import (
	"fmt"
	"time"
)

// Message is one unit of data moving through the pipeline. It is built once per
// delivered payload and must not be mutated afterwards.
type Message struct {
	Keys      []string
	Value     []byte
	Offset    Offset // nil when the source has no position for the record
	EventTime time.Time
	ID        MessageID
	Headers   map[string]string
}

// MessageID identifies a message within a pipeline run.
type MessageID struct {
	VertexName string
	Offset     string
	Index      int32
}

func (id MessageID) String() string {
	return fmt.Sprintf("%s-%s-%d", id.VertexName, id.Offset, id.Index)
}
