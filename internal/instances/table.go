// Package instances holds the shared per-session state of the producer: a
// fixed-capacity table of slots keyed by instance id, mutated by lifecycle
// callbacks and read by the sampling loop. The table is the only shared
// mutable state in the producer and is guarded by a single mutex; no caller
// ever holds a reference into a slot outside the lock.
package instances

import (
	"fmt"
	"sync"
	"time"

	"github.com/tracepulse-dev/tracepulse-go/internal/sessioncfg"
)

// DefaultCapacity is the number of slots a producer offers unless configured
// otherwise.
const DefaultCapacity = 8

type state struct {
	config     sessioncfg.Config
	configHash string
	active     bool
	// needsDescriptors is set on start and consumed (read-and-clear) by
	// the first sampling iteration that observes it.
	needsDescriptors bool
}

// Table is a fixed-capacity mapping from instance ids to session state.
// All methods are safe for concurrent use.
type Table struct {
	mu    sync.Mutex
	slots []*state
}

// NewTable creates a table with the given capacity; capacity <= 0 means
// DefaultCapacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{slots: make([]*state, capacity)}
}

// Capacity returns the number of slots.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// check panics on an out-of-range id. Ids are supplied by the lifecycle
// framework and a value outside [0, capacity) is a contract violation, not a
// condition to recover from.
func (t *Table) check(id uint32) {
	if int(id) >= len(t.slots) {
		panic(fmt.Sprintf("instance id %d out of range [0, %d)", id, len(t.slots)))
	}
}

// Setup populates the slot with a fresh record, overwriting any previous
// state for the id. The new record is stopped and does not owe descriptors.
func (t *Table) Setup(id uint32, cfg sessioncfg.Config, configHash string) {
	t.check(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[id] = &state{config: cfg, configHash: configHash}
}

// Start marks the instance active and arms the descriptor flag. It reports
// false, and does nothing, when the id was never set up.
func (t *Table) Start(id uint32) bool {
	t.check(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slots[id]
	if s == nil {
		return false
	}
	s.active = true
	s.needsDescriptors = true
	return true
}

// Stop marks the instance stopped and disarms the descriptor flag. It reports
// false, and does nothing, when the id was never set up.
func (t *Table) Stop(id uint32) bool {
	t.check(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slots[id]
	if s == nil {
		return false
	}
	s.active = false
	s.needsDescriptors = false
	return true
}

// TakeNeedsDescriptors reads and clears the descriptor flag. It returns true
// at most once per activation.
func (t *Table) TakeNeedsDescriptors(id uint32) bool {
	t.check(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slots[id]
	if s == nil {
		return false
	}
	need := s.needsDescriptors
	s.needsDescriptors = false
	return need
}

// ConfigHash returns the fingerprint recorded at setup, or "" for an empty
// slot.
func (t *Table) ConfigHash(id uint32) string {
	t.check(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.slots[id]; s != nil {
		return s.configHash
	}
	return ""
}

// MinPeriod returns the smallest configured sampling period across populated
// slots, or fallback when no slot specifies one.
func (t *Table) MinPeriod(fallback time.Duration) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	min := fallback
	found := false
	for _, s := range t.slots {
		if s == nil || s.config.Period == 0 {
			continue
		}
		if !found || s.config.Period < min {
			min = s.config.Period
			found = true
		}
	}
	return min
}

// Entry is a copy of one populated slot, taken under the lock.
type Entry struct {
	ID     uint32
	Active bool
	Config sessioncfg.Config
}

// Snapshot copies the populated slots for one sampling pass. The lock is
// released before the caller emits anything.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var entries []Entry
	for id, s := range t.slots {
		if s == nil {
			continue
		}
		entries = append(entries, Entry{
			ID:     uint32(id),
			Active: s.active,
			Config: s.config,
		})
	}
	return entries
}
