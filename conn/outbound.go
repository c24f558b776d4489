package conn

import (
	"fmt"
	"time"

	"github.com/vortexnet/raknet/metrics"
	"github.com/vortexnet/raknet/wire"
)

// Send hands an application payload to the connection for delivery
// under the given reliability class and order channel (spec.md §4.7
// outbound encoding).
func (c *Conn) Send(payload []byte, reliability wire.Reliability, channel byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return fmt.Errorf("conn: Send called before Connected (state=%s)", c.state)
	}
	return c.sendApplicationLocked(payload, reliability, channel, time.Now())
}

func (c *Conn) sendApplicationLocked(payload []byte, reliability wire.Reliability, channel byte, now time.Time) error {
	plain, _ := wire.MaxFragmentSize(c.effectiveMTU())
	if len(payload) <= plain {
		f := wire.Frame{Reliability: reliability, OrderChannel: channel, Payload: payload}
		return c.sendFrameLocked(f, now)
	}

	fragments := wire.SplitFragments(payload, c.effectiveMTU())
	splitID := c.nextSplitID
	c.nextSplitID++
	ch := int(channel) % wire.MaxOrderChannel
	seqIndex, orderIndex := c.nextSeqIndex[ch], c.nextOrderIndex[ch]
	for i, frag := range fragments {
		// Every fragment of one payload carries the same sequence and
		// order index; sendFrameLocked advances them once per call.
		c.nextSeqIndex[ch], c.nextOrderIndex[ch] = seqIndex, orderIndex
		f := wire.Frame{
			Reliability:  reliability,
			OrderChannel: channel,
			Split:        true,
			SplitInfo:    wire.SplitInfo{Count: uint32(len(fragments)), ID: splitID, Index: uint32(i)},
			Payload:      frag,
		}
		if err := c.sendFrameLocked(f, now); err != nil {
			return err
		}
	}
	return nil
}

// sendFrameLocked assigns the frame its message/sequence/order indices,
// wraps it alone in a fresh datagram, records it in the retransmit table
// if reliable, and writes it out (spec.md §4.7). Called with c.mu held.
func (c *Conn) sendFrameLocked(f wire.Frame, now time.Time) error {
	if f.Reliability.Reliable() {
		f.MessageIndex = c.nextMessageIndex
		c.nextMessageIndex++
	}
	channel := int(f.OrderChannel) % wire.MaxOrderChannel
	if f.Reliability.Sequenced() {
		f.SeqIndex = c.nextSeqIndex[channel]
		c.nextSeqIndex[channel]++
	}
	if f.Reliability.Sequenced() || f.Reliability.Ordered() {
		f.OrderIndex = c.nextOrderIndex[channel]
		c.nextOrderIndex[channel]++
	}

	seq := c.nextDatagramSeq
	c.nextDatagramSeq++
	if f.Reliability.Reliable() {
		c.retransmit[seq] = retransmitEntry{frames: []wire.Frame{f}, sentAt: now}
	}
	dg := wire.Datagram{Sequence: seq, Frames: []wire.Frame{f}}
	metrics.DatagramsSent.Inc()
	return c.sendLocked(dg.Encode())
}
