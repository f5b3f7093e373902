package message

import (
	"fmt"
	"strconv"
)

// Offset is a source specific position marker. Concrete variants are
// StringOffset and IntOffset.
type Offset interface {
	fmt.Stringer
	Partition() int32
	isOffset()
}

// StringOffset is used by sources whose positions are opaque strings.
type StringOffset struct {
	Value        string
	PartitionIdx int32
}

func NewStringOffset(value string, partition int32) StringOffset {
	return StringOffset{Value: value, PartitionIdx: partition}
}

func (o StringOffset) String() string   { return fmt.Sprintf("%s-%d", o.Value, o.PartitionIdx) }
func (o StringOffset) Partition() int32 { return o.PartitionIdx }
func (StringOffset) isOffset()          {}

// IntOffset is used by log based brokers where positions are integers.
type IntOffset struct {
	Value        int64
	PartitionIdx int32
}

func NewIntOffset(value int64, partition int32) IntOffset {
	return IntOffset{Value: value, PartitionIdx: partition}
}

func (o IntOffset) String() string {
	return strconv.FormatInt(o.Value, 10) + "-" + strconv.FormatInt(int64(o.PartitionIdx), 10)
}
func (o IntOffset) Partition() int32 { return o.PartitionIdx }
func (IntOffset) isOffset()          {}
