package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReceiveAddIdempotentAcrossDuplicates(t *testing.T) {
	r := NewReceive()
	now := time.Unix(0, 0)
	require.True(t, r.Add(0, now))
	require.False(t, r.Add(0, now)) // duplicate
	require.Equal(t, uint32(0), r.Lowest())
	require.Equal(t, uint32(1), r.Highest())
}

func TestReceiveShiftAdvancesOverContiguousRun(t *testing.T) {
	r := NewReceive()
	now := time.Unix(0, 0)
	r.Add(0, now)
	r.Add(1, now)
	r.Add(2, now)

	n := r.Shift()
	require.Equal(t, 3, n)
	require.Equal(t, uint32(3), r.Lowest())
}

func TestReceiveShiftStopsAtGap(t *testing.T) {
	// spec.md §8 S4: seqs [0, 1, 3] arrive; shift() returns 0 after 3
	// because 2 is missing.
	r := NewReceive()
	now := time.Unix(0, 0)
	r.Add(0, now)
	r.Add(1, now)
	r.Shift()
	require.Equal(t, uint32(2), r.Lowest())

	r.Add(3, now)
	n := r.Shift()
	require.Equal(t, 0, n)
	require.Equal(t, uint32(2), r.Lowest())
}

func TestReceiveMissingDetectsGapAfterThreshold(t *testing.T) {
	r := NewReceive()
	start := time.Unix(0, 0)
	r.Add(0, start)
	r.Add(1, start)
	r.Shift()
	require.Equal(t, uint32(2), r.Lowest())

	r.Add(3, start)

	// seq=3 is now older than the threshold, which confirms the gap at 2.
	later := start.Add(200 * time.Millisecond)
	missing := r.Missing(100*time.Millisecond, later)
	require.Equal(t, []uint32{2}, missing)
}

func TestReceiveMissingRequiresAgedEntry(t *testing.T) {
	r := NewReceive()
	now := time.Unix(0, 0)
	r.Add(0, now)
	r.Add(1, now)
	r.Shift()
	r.Add(3, now)

	// No present sequence is old enough yet to enter "missing mode".
	missing := r.Missing(time.Second, now)
	require.Empty(t, missing)
}

func TestReceiveLenAndOverflow(t *testing.T) {
	r := NewReceive()
	now := time.Unix(0, 0)
	for i := uint32(0); i < 10; i++ {
		r.Add(i*2, now) // every other seq, so lowest never advances
	}
	require.Equal(t, r.Highest()-r.Lowest(), r.Len())
	require.False(t, r.Overflowed())
}

func TestReceiveSeenSemantics(t *testing.T) {
	// Invariant 1: seen(k) true iff k < lowest or k present in the map.
	r := NewReceive()
	now := time.Unix(0, 0)
	r.Add(0, now)
	r.Add(1, now)
	r.Shift() // lowest now 2

	require.False(t, r.Add(0, now)) // k < lowest: already considered seen
	require.True(t, r.Add(5, now))  // not seen yet
	require.False(t, r.Add(5, now)) // now present in the map
}
