package window

import "github.com/vortexnet/raknet/wire"

// MaxSplitCount bounds how many fragments a single split group may
// declare, guarding against a malicious split_count inflating memory
// before any fragment payload has even arrived (spec.md §4.6/§5).
const MaxSplitCount = 1024

type splitGroup struct {
	count    uint32
	received uint32
	slots    [][]byte
}

// Split reassembles fragmented frames keyed by split_id, grounded on the
// teacher's SplitPackets map (source/protocol/raknet.go) but replacing
// its map[uint32]*EncapsulatedPacket indirection with a preallocated
// slice addressed by split_index, matching spec.md §4.6.
type Split struct {
	groups map[uint16]*splitGroup
}

// NewSplit returns an empty split table.
func NewSplit() *Split {
	return &Split{groups: make(map[uint16]*splitGroup)}
}

// Add stores one fragment of a split group. When the group's final
// fragment arrives it returns the reassembled payload with ok=true and
// drops the group's bookkeeping. It returns wire.KindSplitIndexOutOfRange
// if splitIndex >= splitCount, or wire.KindSplitCountMismatch if a later
// fragment disagrees with the count an earlier fragment established, or
// wire.KindSplitLimitExceeded if splitCount exceeds MaxSplitCount.
func (s *Split) Add(splitID uint16, splitCount, splitIndex uint32, payload []byte) (reassembled []byte, ok bool, err error) {
	if splitCount > MaxSplitCount {
		return nil, false, wire.NewError(wire.KindSplitLimitExceeded, "split.Add")
	}
	if splitIndex >= splitCount {
		return nil, false, wire.NewError(wire.KindSplitIndexOutOfRange, "split.Add")
	}

	g, exists := s.groups[splitID]
	if !exists {
		g = &splitGroup{count: splitCount, slots: make([][]byte, splitCount)}
		s.groups[splitID] = g
	} else if g.count != splitCount {
		return nil, false, wire.NewError(wire.KindSplitCountMismatch, "split.Add")
	}

	if g.slots[splitIndex] == nil {
		g.slots[splitIndex] = payload
		g.received++
	}

	if g.received < g.count {
		return nil, false, nil
	}

	delete(s.groups, splitID)
	total := 0
	for _, frag := range g.slots {
		total += len(frag)
	}
	out := make([]byte, 0, total)
	for _, frag := range g.slots {
		out = append(out, frag...)
	}
	return out, true, nil
}

// Len reports how many split groups are currently in flight.
func (s *Split) Len() int {
	return len(s.groups)
}
