package instances

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracepulse-dev/tracepulse-go/internal/sessioncfg"
)

func TestStartWithoutSetupIsNoop(t *testing.T) {
	tbl := NewTable(0)
	require.Equal(t, DefaultCapacity, tbl.Capacity())
	require.False(t, tbl.Start(3))
	require.False(t, tbl.Stop(3))
	require.False(t, tbl.TakeNeedsDescriptors(3))
	require.Empty(t, tbl.Snapshot())
}

func TestLifecycle(t *testing.T) {
	tbl := NewTable(8)
	cfg := sessioncfg.Config{Period: time.Second, CounterIDs: []uint32{1, 2}}
	tbl.Setup(2, cfg, "abc")

	entries := tbl.Snapshot()
	require.Len(t, entries, 1)
	require.Equal(t, uint32(2), entries[0].ID)
	require.False(t, entries[0].Active)
	require.Equal(t, cfg, entries[0].Config)
	require.Equal(t, "abc", tbl.ConfigHash(2))
	// Not started yet: no descriptors owed.
	require.False(t, tbl.TakeNeedsDescriptors(2))

	require.True(t, tbl.Start(2))
	require.True(t, tbl.Snapshot()[0].Active)
	// Read-and-clear: true exactly once per activation.
	require.True(t, tbl.TakeNeedsDescriptors(2))
	require.False(t, tbl.TakeNeedsDescriptors(2))

	require.True(t, tbl.Stop(2))
	require.False(t, tbl.Snapshot()[0].Active)
	require.False(t, tbl.TakeNeedsDescriptors(2))

	// Restarting arms the flag again.
	require.True(t, tbl.Start(2))
	require.True(t, tbl.TakeNeedsDescriptors(2))
}

func TestStopDisarmsDescriptorFlag(t *testing.T) {
	tbl := NewTable(8)
	tbl.Setup(0, sessioncfg.Config{}, "")
	require.True(t, tbl.Start(0))
	require.True(t, tbl.Stop(0))
	require.False(t, tbl.TakeNeedsDescriptors(0))
}

func TestSetupOverwrites(t *testing.T) {
	tbl := NewTable(8)
	tbl.Setup(1, sessioncfg.Config{Period: time.Second}, "old")
	require.True(t, tbl.Start(1))

	// Re-setup replaces the record with a fresh stopped one.
	tbl.Setup(1, sessioncfg.Config{Period: time.Minute}, "new")
	entries := tbl.Snapshot()
	require.Len(t, entries, 1)
	require.False(t, entries[0].Active)
	require.Equal(t, time.Minute, entries[0].Config.Period)
	require.Equal(t, "new", tbl.ConfigHash(1))
	require.False(t, tbl.TakeNeedsDescriptors(1))
}

func TestMinPeriod(t *testing.T) {
	tbl := NewTable(8)
	fallback := time.Second

	require.Equal(t, fallback, tbl.MinPeriod(fallback))

	tbl.Setup(0, sessioncfg.Config{Period: 500 * time.Millisecond}, "")
	tbl.Setup(1, sessioncfg.Config{Period: 2000 * time.Millisecond}, "")
	require.Equal(t, 500*time.Millisecond, tbl.MinPeriod(fallback))

	// Instances without a period don't participate.
	tbl.Setup(2, sessioncfg.Config{}, "")
	require.Equal(t, 500*time.Millisecond, tbl.MinPeriod(fallback))

	// A configured period above the fallback still wins over it.
	tbl2 := NewTable(8)
	tbl2.Setup(0, sessioncfg.Config{Period: 5 * time.Second}, "")
	require.Equal(t, 5*time.Second, tbl2.MinPeriod(fallback))
}

func TestOutOfRangeIDPanics(t *testing.T) {
	tbl := NewTable(8)
	require.Panics(t, func() { tbl.Setup(8, sessioncfg.Config{}, "") })
	require.Panics(t, func() { tbl.Start(100) })
	require.Panics(t, func() { tbl.TakeNeedsDescriptors(8) })
}

func TestConcurrentAccess(t *testing.T) {
	tbl := NewTable(8)
	var wg sync.WaitGroup
	// Lifecycle callbacks on distinct ids racing with a sampling reader.
	for id := uint32(0); id < 8; id++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tbl.Setup(id, sessioncfg.Config{Period: time.Duration(id+1) * time.Millisecond}, "")
				tbl.Start(id)
				tbl.TakeNeedsDescriptors(id)
				tbl.Stop(id)
			}
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			for _, e := range tbl.Snapshot() {
				_ = e.Config.Period
			}
			tbl.MinPeriod(time.Second)
		}
	}()
	wg.Wait()
}
