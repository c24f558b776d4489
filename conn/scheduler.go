package conn

import (
	"context"
	"time"

	"github.com/vortexnet/raknet/metrics"
	"github.com/vortexnet/raknet/wire"
)

// Tick drives one 100ms step of the connection's lifecycle: client MTU
// probing/retries, the every-3rd-tick ack/nack flush and retransmit
// sweep, the every-5th-tick keepalive ping, and the 10s silence timeout
// (spec.md §4.8). Grounded on the teacher's Server.updateLoop ticker
// (source/server/server.go), moved to per-connection scope.
func (c *Conn) Tick(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return nil
	case StateClosing:
		c.state = StateClosed
		if c.wasConnected {
			metrics.ConnectionsActive.Dec()
		}
		metrics.ConnectionsClosed.WithLabelValues(closeReason(c.closeErr)).Inc()
		c.emitEvent(Event{Kind: EventClosed, Err: c.closeErr})
		close(c.Events)
		return nil
	}

	if c.client {
		if err := c.tickHandshake(now); err != nil {
			return err
		}
		if c.state == StateClosing {
			return nil
		}
	}

	c.tick++

	if now.Sub(c.lastReceive) > SilenceTimeout {
		c.state = StateClosing
		c.closeErr = wire.NewError(wire.KindTimeout, "conn.Tick")
		return nil
	}

	if c.state != StateConnected {
		return nil
	}

	if c.tick%ackFlushEvery == 0 {
		if err := c.flushAcksLocked(); err != nil {
			return err
		}
		c.checkRetransmitsLocked(now)
	}
	if c.tick%pingEvery == 0 {
		ping := wire.ConnectedPing{SendTimestamp: uint64(now.UnixMilli())}
		f := wire.Frame{Reliability: wire.Unreliable, Payload: ping.Encode()}
		if err := c.sendFrameLocked(f, now); err != nil {
			return err
		}
	}
	return nil
}

// tickHandshake advances the client's MTU-probe retry loop. Called with
// c.mu held.
func (c *Conn) tickHandshake(now time.Time) error {
	if c.state != StateMTUProbed {
		return nil
	}
	if now.Sub(c.lastProbeSent) < MTUProbeInterval {
		return nil
	}
	if c.mtuProbeAttempt >= MTUProbeRetries {
		c.mtuProbeIdx++
		c.mtuProbeAttempt = 0
		if c.mtuProbeIdx >= len(CandidateMTUs) {
			c.state = StateClosing
			c.closeErr = wire.NewError(wire.KindHandshakeFailed, "conn.tickHandshake")
			return nil
		}
	}
	return c.sendRequest1Locked(now)
}

func (c *Conn) flushAcksLocked() error {
	if len(c.pendingAck) > 0 {
		data := encodeAckDatagram(wire.FlagACK, c.pendingAck)
		if err := c.sendLocked(data); err != nil {
			return err
		}
		metrics.AcksSent.Inc()
		c.pendingAck = nil
	}
	if len(c.pendingNack) > 0 {
		data := encodeAckDatagram(wire.FlagNACK, c.pendingNack)
		if err := c.sendLocked(data); err != nil {
			return err
		}
		metrics.NacksSent.Inc()
		c.pendingNack = nil
	}
	return nil
}

func encodeAckDatagram(flag byte, seqs []uint32) []byte {
	body := wire.Acknowledgement{Sequences: seqs}.Encode()
	out := make([]byte, 0, 1+len(body))
	out = append(out, flag)
	return append(out, body...)
}

// checkRetransmitsLocked resends any retransmit-table entry older than
// max(rtt*2, MinRetransmitAge) under a fresh datagram sequence number.
// Called with c.mu held.
func (c *Conn) checkRetransmitsLocked(now time.Time) {
	maxAge := c.rtt * 2
	if maxAge < MinRetransmitAge {
		maxAge = MinRetransmitAge
	}
	for seq, entry := range c.retransmit {
		if now.Sub(entry.sentAt) >= maxAge {
			_ = c.resendLocked(seq, entry, now)
		}
	}
}

// closeReason renders err's wire.Kind as a metrics label, or "clean" for
// a graceful close with no recorded error.
func closeReason(err error) string {
	if err == nil {
		return "clean"
	}
	if wErr, ok := err.(*wire.Error); ok {
		return wErr.Kind.String()
	}
	return "unknown"
}

// Run drives Tick on a 100ms ticker until ctx is cancelled or the
// connection closes. One goroutine per connection, matching the
// cooperative per-connection task spec.md §5 describes.
func (c *Conn) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := c.Tick(now); err != nil {
				return
			}
			if c.State() == StateClosed {
				return
			}
		}
	}
}
