// Package packetsink writes counter batches as a stream of length-prefixed
// packets in the tagged-field format, typically to a trace file. The packet
// grammar reuses the same wire shapes the configuration decoder understands,
// so a stream can be read back with fieldcodec.
package packetsink

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/tracepulse-dev/tracepulse-go/internal/fieldcodec"
	"github.com/tracepulse-dev/tracepulse-go/internal/sink"
)

// Packet fields.
const (
	FieldTimestamp    = 1
	FieldInstanceID   = 2
	FieldCounterEvent = 3
)

// Counter event fields.
const (
	FieldSample     = 1
	FieldDescriptor = 2
)

// Sample and descriptor fields.
const (
	FieldCounterID = 1
	// FieldValue is a fixed64 carrying the IEEE-754 bits of the sample
	// value.
	FieldValue = 2
	FieldName  = 2
)

// Sink writes packets to an io.Writer. Writes are serialized; the writer
// does not need to be safe for concurrent use.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

var _ sink.Sink = (*Sink)(nil)

// New creates a Sink writing to w.
func New(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Emit implements sink.Sink.
func (s *Sink) Emit(_ context.Context, batch *sink.Batch) error {
	payload := EncodePacket(batch)
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write packet prefix: %w", err)
	}
	if _, err := s.w.Write(payload); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

// Close implements sink.Sink. The underlying writer is closed when it
// implements io.Closer.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// EncodePacket encodes one batch as a packet payload (without the length
// prefix).
func EncodePacket(batch *sink.Batch) []byte {
	var event []byte
	for _, sample := range batch.Samples {
		var b []byte
		b = fieldcodec.AppendVarint(b, FieldCounterID, uint64(sample.CounterID))
		b = fieldcodec.AppendFixed64(b, FieldValue, math.Float64bits(sample.Value))
		event = fieldcodec.AppendDelimited(event, FieldSample, b)
	}
	for _, desc := range batch.Descriptors {
		var b []byte
		b = fieldcodec.AppendVarint(b, FieldCounterID, uint64(desc.CounterID))
		b = fieldcodec.AppendString(b, FieldName, desc.Name)
		event = fieldcodec.AppendDelimited(event, FieldDescriptor, b)
	}
	var payload []byte
	payload = fieldcodec.AppendVarint(payload, FieldTimestamp, batch.TimeUnixNano)
	payload = fieldcodec.AppendVarint(payload, FieldInstanceID, uint64(batch.InstanceID))
	payload = fieldcodec.AppendDelimited(payload, FieldCounterEvent, event)
	return payload
}
