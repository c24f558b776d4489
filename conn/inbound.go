package conn

import (
	"time"

	"github.com/vortexnet/raknet/metrics"
	"github.com/vortexnet/raknet/wire"
)

// HandleInbound routes one UDP payload already addressed to this
// connection: ACK, NACK, reliability datagram, or an unconnected
// (offline) control message, per spec.md §4.7's dispatch-by-leading-byte
// rule. Parse-level errors are returned to the caller as a signal to
// drop the datagram; state-level errors mean the connection is now
// Closing.
func (c *Conn) HandleInbound(data []byte, now time.Time) error {
	if len(data) == 0 {
		return wire.NewError(wire.KindShortPayload, "conn.HandleInbound")
	}

	c.mu.Lock()

	c.lastReceive = now
	flag := data[0]

	var (
		delivered [][]byte
		err       error
	)
	switch {
	case flag&wire.FlagDatagram != 0:
		delivered, err = c.handleDatagram(data, now)
	case flag&wire.FlagACK != 0:
		err = c.handleAck(data)
	case flag&wire.FlagNACK != 0:
		err = c.handleNack(data, now)
	default:
		err = c.handleUnconnected(data, now)
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}

	var toApp [][]byte
	for _, payload := range delivered {
		if c.state != StateConnected {
			if hsErr := c.processHandshakePayload(payload, now); hsErr != nil {
				c.mu.Unlock()
				return hsErr
			}
			continue
		}
		if intercepted, err := c.interceptKeepalive(payload, now); err != nil {
			c.mu.Unlock()
			return err
		} else if intercepted {
			continue
		}
		toApp = append(toApp, payload)
	}
	c.mu.Unlock()

	for _, payload := range toApp {
		c.Inbound <- payload
	}
	return nil
}

// interceptKeepalive consumes ConnectedPing/ConnectedPong — transport
// keepalive traffic that never reaches the application — and reports
// whether it did so. Called with c.mu held.
func (c *Conn) interceptKeepalive(payload []byte, now time.Time) (bool, error) {
	if len(payload) == 0 {
		return false, nil
	}
	switch payload[0] {
	case wire.IDConnectedPing:
		msg, err := wire.DecodeMessage(payload, len(payload))
		if err != nil {
			return false, nil // malformed; let the application see raw bytes
		}
		ping, ok := msg.(wire.ConnectedPing)
		if !ok {
			return false, nil
		}
		pong := wire.ConnectedPong{SendTimestamp: ping.SendTimestamp, PongTimestamp: uint64(now.UnixMilli())}
		f := wire.Frame{Reliability: wire.Unreliable, Payload: pong.Encode()}
		if err := c.sendFrameLocked(f, now); err != nil {
			return true, err
		}
		return true, nil
	case wire.IDConnectedPong:
		msg, err := wire.DecodeMessage(payload, len(payload))
		if err != nil {
			return false, nil
		}
		pong, ok := msg.(wire.ConnectedPong)
		if !ok {
			return false, nil
		}
		c.rtt = estimateRTT(c.rtt, now.Sub(time.UnixMilli(int64(pong.SendTimestamp))))
		return true, nil
	default:
		return false, nil
	}
}

// handleDatagram implements spec.md §4.4/§4.7's reliability-layer
// receive path: admit the sequence number, decide whether to schedule a
// nack, then route each inner frame to its delivery path. Called with
// c.mu held.
func (c *Conn) handleDatagram(data []byte, now time.Time) ([][]byte, error) {
	dg, err := wire.DecodeDatagram(data)
	if err != nil {
		return nil, err
	}
	metrics.DatagramsReceived.Inc()
	if !c.recv.Add(dg.Sequence, now) {
		return nil, nil // already seen, drop
	}
	if c.recv.Overflowed() {
		return nil, c.fail(wire.KindWindowOverflow)
	}
	c.pendingAck = append(c.pendingAck, dg.Sequence)

	if c.recv.Shift() == 0 {
		missing := c.recv.Missing(c.missingThreshold(), now)
		if len(missing) > 0 {
			c.pendingNack = append(c.pendingNack, missing...)
		}
	}

	var delivered [][]byte
	for _, f := range dg.Frames {
		payloads, err := c.handleFrame(f, now)
		if err != nil {
			return delivered, err
		}
		delivered = append(delivered, payloads...)
	}
	return delivered, nil
}

func (c *Conn) missingThreshold() time.Duration {
	t := c.rtt + c.rtt/2
	if t <= 0 {
		t = 100 * time.Millisecond
	}
	return t
}

// handleFrame reassembles split fragments if needed and routes the
// resulting payload by reliability class (spec.md §4.5/§4.7). Called
// with c.mu held.
func (c *Conn) handleFrame(f wire.Frame, now time.Time) ([][]byte, error) {
	channel := int(f.OrderChannel) % wire.MaxOrderChannel

	payload := f.Payload
	if f.Split {
		reassembled, ok, err := c.split.Add(f.SplitInfo.ID, f.SplitInfo.Count, f.SplitInfo.Index, f.Payload)
		if err != nil {
			// Only a split_count beyond the resource cap is fatal to the
			// connection (spec.md §5/§7). SplitIndexOutOfRange and
			// SplitCountMismatch are per-frame parse failures: drop this
			// frame and keep going.
			if wErr, isWire := err.(*wire.Error); isWire && wErr.Kind == wire.KindSplitLimitExceeded {
				return nil, c.fail(wire.KindSplitLimitExceeded)
			}
			metrics.SplitReassemblyFailures.Inc()
			return nil, nil
		}
		if !ok {
			return nil, nil
		}
		payload = reassembled
	}

	switch {
	case f.Reliability.Ordered():
		if !c.ordered[channel].Put(f.OrderIndex, payload) {
			return nil, nil
		}
		return c.ordered[channel].Fetch(), nil
	case f.Reliability.Sequenced():
		if c.sawSeq[channel] && f.SeqIndex <= c.lastSeq[channel] {
			return nil, nil
		}
		c.sawSeq[channel] = true
		c.lastSeq[channel] = f.SeqIndex
		return [][]byte{payload}, nil
	default:
		return [][]byte{payload}, nil
	}
}

// handleAck removes acknowledged entries from the retransmit table and
// refreshes the RTT estimate. Called with c.mu held.
func (c *Conn) handleAck(data []byte) error {
	ack, err := wire.DecodeAcknowledgement(data[1:])
	if err != nil {
		return err
	}
	for _, seq := range ack.Sequences {
		if entry, ok := c.retransmit[seq]; ok {
			c.rtt = estimateRTT(c.rtt, time.Since(entry.sentAt))
			delete(c.retransmit, seq)
		}
	}
	return nil
}

// handleNack immediately resends every matching retransmit entry under
// a fresh datagram sequence number. Called with c.mu held.
func (c *Conn) handleNack(data []byte, now time.Time) error {
	nack, err := wire.DecodeAcknowledgement(data[1:])
	if err != nil {
		return err
	}
	for _, seq := range nack.Sequences {
		if entry, ok := c.retransmit[seq]; ok {
			if err := c.resendLocked(seq, entry, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Conn) resendLocked(oldSeq uint32, entry retransmitEntry, now time.Time) error {
	delete(c.retransmit, oldSeq)
	newSeq := c.nextDatagramSeq
	c.nextDatagramSeq++
	c.retransmit[newSeq] = retransmitEntry{frames: entry.frames, sentAt: now}
	dg := wire.Datagram{Sequence: newSeq, Frames: entry.frames}
	metrics.Retransmits.Inc()
	metrics.DatagramsSent.Inc()
	return c.sendLocked(dg.Encode())
}

// handleUnconnected processes offline handshake control messages that
// arrive outside the datagram/frame envelope (spec.md §4.2/§4.7). Called
// with c.mu held.
func (c *Conn) handleUnconnected(data []byte, now time.Time) error {
	msg, err := wire.DecodeMessage(data, len(data))
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case wire.UnconnectedPong:
		if c.client && c.state == StateUnconnected {
			c.state = StateMTUProbed
			c.mtuProbeIdx = 0
			c.mtuProbeAttempt = 0
			return c.sendRequest1Locked(now)
		}
	case wire.OpenConnectionReply1:
		if c.client && c.state == StateMTUProbed {
			negotiated := int(m.MTU)
			if candidate := CandidateMTUs[c.mtuProbeIdx]; negotiated > candidate {
				negotiated = candidate
			}
			c.mtu = negotiated
			c.state = StateOpened1
			req2 := wire.OpenConnectionRequest2{
				ServerAddress: wire.AddressFromUDP(c.remote),
				MTU:           uint16(c.mtu),
				ClientGUID:    c.localGUID,
			}
			return c.sendLocked(req2.Encode())
		}
	case wire.OpenConnectionReply2:
		if c.client && c.state == StateOpened1 {
			c.mtu = int(m.MTU)
			c.remoteGUID = m.ServerGUID
			c.state = StateOpened2
			req := wire.ConnectionRequest{ClientGUID: c.localGUID, RequestTimestamp: uint64(now.UnixMilli())}
			frame := wire.Frame{Reliability: wire.ReliableOrdered, Payload: req.Encode()}
			return c.sendFrameLocked(frame, now)
		}
	case wire.OpenConnectionRequest2:
		if !c.client && c.state == StateOpened2 {
			reply2 := wire.OpenConnectionReply2{
				ServerGUID:    c.localGUID,
				ClientAddress: wire.AddressFromUDP(c.remote),
				MTU:           uint16(c.mtu),
			}
			return c.sendLocked(reply2.Encode())
		}
	case wire.IncompatibleProtocolVersion:
		return c.fail(wire.KindHandshakeFailed)
	case wire.DisconnectNotification:
		return c.fail(wire.KindPeerDisconnected)
	}
	return nil
}

func (c *Conn) sendRequest1Locked(now time.Time) error {
	req := wire.OpenConnectionRequest1{
		ProtocolVersion: c.protocolVersion,
		PaddingLength:   paddingForMTU(CandidateMTUs[c.mtuProbeIdx]),
	}
	c.lastProbeSent = now
	c.mtuProbeAttempt++
	return c.sendLocked(req.Encode())
}

// paddingForMTU computes OpenConnectionRequest1's trailing padding so the
// whole datagram reaches targetMTU bytes (spec.md §4.2).
func paddingForMTU(targetMTU int) int {
	const headerOverhead = 20 + 8 + 1 + 16 + 1 // IP + UDP + id + magic + protocol
	p := targetMTU - headerOverhead
	if p < 0 {
		p = 0
	}
	return p
}

// processHandshakePayload interprets a payload delivered from the
// reliable-ordered handshake channel before the connection reaches
// Connected (spec.md §4.7: ConnectionRequest / ConnectionRequestAccepted
// / NewIncomingConnection all travel this way). Called with c.mu held.
func (c *Conn) processHandshakePayload(payload []byte, now time.Time) error {
	msg, err := wire.DecodeMessage(payload, len(payload))
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case wire.ConnectionRequest:
		if !c.client && c.state == StateOpened2 {
			c.remoteGUID = m.ClientGUID
			accepted := wire.ConnectionRequestAccepted{
				ClientAddress:     wire.AddressFromUDP(c.remote),
				RequestTimestamp:  m.RequestTimestamp,
				AcceptedTimestamp: uint64(now.UnixMilli()),
			}
			frame := wire.Frame{Reliability: wire.ReliableOrdered, Payload: accepted.Encode()}
			if err := c.sendFrameLocked(frame, now); err != nil {
				return err
			}
			c.state = StateConnected
			c.wasConnected = true
			metrics.ConnectionsActive.Inc()
			c.emitEvent(Event{Kind: EventConnected})
		}
	case wire.ConnectionRequestAccepted:
		if c.client && c.state == StateOpened2 {
			nic := wire.NewIncomingConnection{
				ServerAddress:     wire.AddressFromUDP(c.remote),
				RequestTimestamp:  m.RequestTimestamp,
				AcceptedTimestamp: m.AcceptedTimestamp,
			}
			frame := wire.Frame{Reliability: wire.ReliableOrdered, Payload: nic.Encode()}
			if err := c.sendFrameLocked(frame, now); err != nil {
				return err
			}
			c.state = StateConnected
			c.wasConnected = true
			metrics.ConnectionsActive.Inc()
			c.emitEvent(Event{Kind: EventConnected})
		}
	case wire.DisconnectNotification:
		return c.fail(wire.KindPeerDisconnected)
	}
	return nil
}
