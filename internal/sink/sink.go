// Package sink defines the boundary between the sampling loop and whatever
// consumes the produced telemetry.
package sink

import (
	"context"
	"sync"
)

// Sample is one counter reading.
type Sample struct {
	CounterID uint32
	Value     float64
}

// Descriptor binds a human-readable name to a counter id. Descriptors are
// emitted once per session activation.
type Descriptor struct {
	CounterID uint32
	Name      string
}

// Batch is the output of one sampling iteration for one instance.
type Batch struct {
	InstanceID   uint32
	TimeUnixNano uint64
	// ElapsedNs is the time since the sampling loop started; sample values
	// are a pure function of it.
	ElapsedNs   uint64
	Samples     []Sample
	Descriptors []Descriptor
}

// Sink receives batches from the sampling loop. Emit errors are fatal to the
// loop; a sink must not be relied on to be called again after returning one.
type Sink interface {
	Emit(ctx context.Context, batch *Batch) error
	Close() error
}

// Capture is a Sink that records batches in memory. It is used by tests.
type Capture struct {
	mu      sync.Mutex
	batches []*Batch
	err     error
}

var _ Sink = (*Capture)(nil)

// Emit implements Sink.
func (c *Capture) Emit(_ context.Context, batch *Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	cp := *batch
	cp.Samples = append([]Sample(nil), batch.Samples...)
	cp.Descriptors = append([]Descriptor(nil), batch.Descriptors...)
	c.batches = append(c.batches, &cp)
	return nil
}

// Close implements Sink.
func (c *Capture) Close() error {
	return nil
}

// FailWith makes all subsequent Emit calls return err.
func (c *Capture) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Batches returns the batches captured so far.
func (c *Capture) Batches() []*Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Batch(nil), c.batches...)
}
