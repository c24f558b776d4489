// Package window implements the three sliding windows the connection
// state machine coordinates: the receive window of datagram sequence
// numbers, the per-channel ordered packet queue, and the split-fragment
// reassembly table (spec §4.4-§4.6).
package window

import "time"

// MaxReceiveWindow bounds how far the receive window may grow before the
// connection is considered abusive or badly desynced (spec §4.4/§5).
const MaxReceiveWindow = 2048

// Receive tracks which datagram sequence numbers have arrived, grounded
// on the teacher's ACKQueue/RecoveryQueue bookkeeping in
// source/protocol/raknet.go but generalized into the explicit
// add/shift/missing state machine spec.md §4.4 names.
type Receive struct {
	lowest  uint32
	highest uint32
	seenAt  map[uint32]time.Time
}

// NewReceive returns an empty receive window starting at sequence 0.
func NewReceive() *Receive {
	return &Receive{seenAt: make(map[uint32]time.Time)}
}

// Add records seq as received. It returns false (and does nothing) if
// seq is already behind the window's low edge or already present —
// duplicate datagrams are expected on an unreliable transport and must
// be idempotent to absorb (spec §4.4 invariant).
func (r *Receive) Add(seq uint32, now time.Time) bool {
	if seq < r.lowest {
		return false
	}
	if _, ok := r.seenAt[seq]; ok {
		return false
	}
	r.seenAt[seq] = now
	if seq+1 > r.highest {
		r.highest = seq + 1
	}
	return true
}

// Shift advances the low edge over the longest contiguous run of
// present sequences starting at lowest, and returns how many it
// advanced over.
func (r *Receive) Shift() int {
	n := 0
	for {
		if _, ok := r.seenAt[r.lowest]; !ok {
			break
		}
		delete(r.seenAt, r.lowest)
		r.lowest++
		n++
	}
	return n
}

// Missing scans [lowest, highest) for sequences that are either absent
// (a gap) or present but older than threshold, switching into "missing
// mode" once it finds an old-enough present entry — matching spec.md
// §4.4's descending scan. Found gaps are returned and, if present in
// the map, evicted. Missing always finishes with a Shift call.
func (r *Receive) Missing(threshold time.Duration, now time.Time) []uint32 {
	var missing []uint32
	inMissingMode := false
	for seq := r.highest; seq > r.lowest; seq-- {
		s := seq - 1
		at, present := r.seenAt[s]
		if present {
			if now.Sub(at) >= threshold {
				inMissingMode = true
			}
			continue
		}
		if inMissingMode {
			missing = append(missing, s)
		}
	}
	r.Shift()
	return missing
}

// Len reports the current window span, highest-lowest.
func (r *Receive) Len() uint32 {
	return r.highest - r.lowest
}

// Lowest returns the window's current low edge.
func (r *Receive) Lowest() uint32 {
	return r.lowest
}

// Highest returns the window's current high edge (exclusive).
func (r *Receive) Highest() uint32 {
	return r.highest
}

// Overflowed reports whether the window has grown past MaxReceiveWindow,
// at which point the connection must close with wire.KindWindowOverflow.
func (r *Receive) Overflowed() bool {
	return r.Len() > MaxReceiveWindow
}
