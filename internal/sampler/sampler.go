// Package sampler runs the periodic emission loop: once per period it
// produces one batch of counter samples per active instance and hands it to
// the output sink.
package sampler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tracepulse-dev/tracepulse-go/internal/instances"
	"github.com/tracepulse-dev/tracepulse-go/internal/sink"
)

// DefaultFallbackPeriod is the inter-iteration delay when no populated
// instance configures a sampling period.
const DefaultFallbackPeriod = time.Second

// DefaultCounterIDs is the counter set used by sessions that do not configure
// their own.
var DefaultCounterIDs = []uint32{1, 2, 3}

// counterSpec names a counter and synthesizes its value from the elapsed time
// since loop start. Values are deterministic; there is no hidden state.
type counterSpec struct {
	name string
	fn   func(secs float64) float64
}

var builtins = map[uint32]counterSpec{
	1: {"sin", math.Sin},
	2: {"cos", math.Cos},
	3: {"tan", math.Tan},
}

func spec(id uint32) counterSpec {
	if s, ok := builtins[id]; ok {
		return s
	}
	// Phase-shift by the id so distinct counters disagree.
	return counterSpec{
		name: fmt.Sprintf("counter_%d", id),
		fn:   func(secs float64) float64 { return math.Sin(secs + float64(id)) },
	}
}

// Sampler drives the sampling loop over an instance table.
type Sampler struct {
	table    *instances.Table
	out      sink.Sink
	fallback time.Duration

	start time.Time
	now   func() time.Time
}

// New creates a Sampler. fallback <= 0 means DefaultFallbackPeriod.
func New(table *instances.Table, out sink.Sink, fallback time.Duration) *Sampler {
	if fallback <= 0 {
		fallback = DefaultFallbackPeriod
	}
	return &Sampler{
		table:    table,
		out:      out,
		fallback: fallback,
		now:      time.Now,
	}
}

// Run executes the loop until ctx is cancelled or the sink fails. A sink
// failure is returned as-is: the loop does not attempt to continue past a
// broken sink.
func (s *Sampler) Run(ctx context.Context) error {
	s.start = s.now()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		if err := s.SampleOnce(ctx); err != nil {
			return err
		}
		timer.Reset(s.table.MinPeriod(s.fallback))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// SampleOnce performs one iteration: snapshot the table, then emit one batch
// per active instance. The table lock is never held across an emission.
func (s *Sampler) SampleOnce(ctx context.Context) error {
	now := s.now()
	elapsed := now.Sub(s.start)
	for _, entry := range s.table.Snapshot() {
		if !entry.Active {
			continue
		}
		ids := entry.Config.CounterIDs
		if len(ids) == 0 {
			ids = DefaultCounterIDs
		}
		batch := &sink.Batch{
			InstanceID:   entry.ID,
			TimeUnixNano: uint64(now.UnixNano()),
			ElapsedNs:    uint64(elapsed),
			Samples:      make([]sink.Sample, 0, len(ids)),
		}
		secs := elapsed.Seconds()
		for _, id := range ids {
			batch.Samples = append(batch.Samples, sink.Sample{
				CounterID: id,
				Value:     spec(id).fn(secs),
			})
		}
		if s.table.TakeNeedsDescriptors(entry.ID) {
			batch.Descriptors = make([]sink.Descriptor, 0, len(ids))
			for _, id := range ids {
				batch.Descriptors = append(batch.Descriptors, sink.Descriptor{
					CounterID: id,
					Name:      spec(id).name,
				})
			}
		}
		if err := s.out.Emit(ctx, batch); err != nil {
			return fmt.Errorf("failed to emit samples for instance %d: %w", entry.ID, err)
		}
	}
	return nil
}
