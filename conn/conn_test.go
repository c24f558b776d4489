package conn

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vortexnet/raknet/wire"
)

type recorder struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recorder) SendTo(_ *net.UDPAddr, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, append([]byte(nil), data...))
	return nil
}

func (r *recorder) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func testRemote() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19132}
}

// TestScenarioS3SingleReliableOrderedFrame mirrors spec.md §8 S3: a single
// reliable-ordered frame datagram is delivered to the application, its
// sequence is queued for ack, and the next ack-flush tick emits it.
func TestScenarioS3SingleReliableOrderedFrame(t *testing.T) {
	rec := &recorder{}
	c := newConn(rec, testRemote(), false, 1)
	c.state = StateConnected
	c.mtu = 1492

	now := time.Unix(0, 0)
	f := wire.Frame{Reliability: wire.ReliableOrdered, MessageIndex: 0, OrderIndex: 0, Payload: []byte("hello")}
	dg := wire.Datagram{Sequence: 0, Frames: []wire.Frame{f}}
	require.NoError(t, c.HandleInbound(dg.Encode(), now))

	select {
	case payload := <-c.Inbound:
		require.Equal(t, []byte("hello"), payload)
	default:
		t.Fatal("expected one delivered payload")
	}

	require.Equal(t, []uint32{0}, c.pendingAck)

	c.tick = ackFlushEvery - 1
	require.NoError(t, c.Tick(now))
	last := rec.last()
	require.Equal(t, wire.FlagACK, last[0])

	ack, err := wire.DecodeAcknowledgement(last[1:])
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, ack.Sequences)
}

// TestScenarioS4GapThenNack mirrors spec.md §8 S4: a gap at seq=2 is
// confirmed missing once a later-arriving, now-aged datagram proves the
// gap is real, and is flushed as a NACK on the next scheduled tick.
func TestScenarioS4GapThenNack(t *testing.T) {
	rec := &recorder{}
	c := newConn(rec, testRemote(), false, 1)
	c.state = StateConnected

	base := time.Unix(0, 0)
	deliver := func(seq uint32, at time.Time) {
		f := wire.Frame{Reliability: wire.Unreliable, Payload: []byte{byte(seq)}}
		dg := wire.Datagram{Sequence: seq, Frames: []wire.Frame{f}}
		require.NoError(t, c.HandleInbound(dg.Encode(), at))
	}

	deliver(0, base)
	deliver(1, base)
	deliver(3, base)
	require.Equal(t, uint32(2), c.recv.Lowest()) // 2 is the gap

	later := base.Add(200 * time.Millisecond)
	deliver(4, later) // seq=3 is now old enough to confirm the gap at 2

	require.Contains(t, c.pendingNack, uint32(2))

	c.tick = ackFlushEvery - 1
	require.NoError(t, c.Tick(later))

	last := rec.last()
	require.Equal(t, wire.FlagNACK, last[0])
	nack, err := wire.DecodeAcknowledgement(last[1:])
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, nack.Sequences)
}

// TestScenarioS5DuplicateDatagram mirrors spec.md §8 S5.
func TestScenarioS5DuplicateDatagram(t *testing.T) {
	rec := &recorder{}
	c := newConn(rec, testRemote(), false, 1)
	c.state = StateConnected

	now := time.Unix(0, 0)
	f := wire.Frame{Reliability: wire.Unreliable, Payload: []byte("x")}
	dg := wire.Datagram{Sequence: 0, Frames: []wire.Frame{f}}

	require.NoError(t, c.HandleInbound(dg.Encode(), now))
	require.NoError(t, c.HandleInbound(dg.Encode(), now)) // duplicate

	require.Len(t, c.Inbound, 1)
	require.Equal(t, []uint32{0}, c.pendingAck)
}

// TestScenarioS6SplitReassembly mirrors spec.md §8 S6: a 4000-byte
// payload sent through the application Send API at mtu=1500 splits into
// 3 fragments which reassemble to the original bytes on the peer.
func TestScenarioS6SplitReassembly(t *testing.T) {
	senderRec := &recorder{}
	sender := newConn(senderRec, testRemote(), false, 1)
	sender.state = StateConnected
	sender.mtu = 1500 + IPUDPHeaderEstimate // effectiveMTU() subtracts 28 back out to 1500

	// byte(i+1) keeps the first byte off the ConnectedPing id (0x00), which
	// the receiving connection would consume as keepalive traffic.
	payload := make([]byte, 4000)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	require.NoError(t, sender.Send(payload, wire.ReliableOrdered, 0))
	require.Equal(t, 3, senderRec.count())

	receiverRec := &recorder{}
	receiver := newConn(receiverRec, testRemote(), false, 1)
	receiver.state = StateConnected

	now := time.Unix(0, 0)
	for _, raw := range senderRec.sent {
		require.NoError(t, receiver.HandleInbound(raw, now))
	}

	select {
	case got := <-receiver.Inbound:
		require.Equal(t, payload, got)
	default:
		t.Fatal("expected reassembled payload")
	}
}

// TestOrderedDeliveryAcrossMultipleFrames checks that reliable-ordered
// frames delivered out of order are buffered and released in index order
// (spec.md §8 invariant 3).
func TestOrderedDeliveryAcrossMultipleFrames(t *testing.T) {
	rec := &recorder{}
	c := newConn(rec, testRemote(), false, 1)
	c.state = StateConnected

	now := time.Unix(0, 0)
	send := func(seq uint32, orderIdx uint32, payload string) {
		f := wire.Frame{Reliability: wire.ReliableOrdered, OrderIndex: orderIdx, Payload: []byte(payload)}
		dg := wire.Datagram{Sequence: seq, Frames: []wire.Frame{f}}
		require.NoError(t, c.HandleInbound(dg.Encode(), now))
	}

	send(0, 1, "b") // arrives before its predecessor
	require.Len(t, c.Inbound, 0)

	send(1, 0, "a")
	require.Len(t, c.Inbound, 2)
	require.Equal(t, []byte("a"), <-c.Inbound)
	require.Equal(t, []byte("b"), <-c.Inbound)
}

// TestClientHandshakeFullSequence drives a client Conn through the full
// offline handshake against a scripted server peer and checks it reaches
// Connected (spec.md §4.7).
func TestClientHandshakeFullSequence(t *testing.T) {
	rec := &recorder{}
	remote := testRemote()
	client := NewClient(rec, remote, 0xAAAA, wire.DefaultProtocolVersion)

	now := time.Unix(0, 0)
	require.NoError(t, client.Dial(now))
	require.Equal(t, StateUnconnected, client.State())

	pong := wire.UnconnectedPong{SendTimestamp: 0, ServerGUID: 0xBEEF, Data: []byte("motd")}
	require.NoError(t, client.HandleInbound(pong.Encode(), now))
	require.Equal(t, StateMTUProbed, client.State())

	reply1 := wire.OpenConnectionReply1{ServerGUID: 0xBEEF, MTU: 1492}
	require.NoError(t, client.HandleInbound(reply1.Encode(), now))
	require.Equal(t, StateOpened1, client.State())

	reply2 := wire.OpenConnectionReply2{ServerGUID: 0xBEEF, ClientAddress: wire.AddressFromUDP(remote), MTU: 1492}
	require.NoError(t, client.HandleInbound(reply2.Encode(), now))
	require.Equal(t, StateOpened2, client.State())

	// The client should have queued a ConnectionRequest inside a
	// reliable-ordered frame as datagram sequence 0.
	lastSent := rec.last()
	require.Equal(t, wire.FlagDatagram, lastSent[0])

	accepted := wire.ConnectionRequestAccepted{
		ClientAddress:     wire.AddressFromUDP(remote),
		RequestTimestamp:  0,
		AcceptedTimestamp: 1,
	}
	f := wire.Frame{Reliability: wire.ReliableOrdered, Payload: accepted.Encode()}
	dg := wire.Datagram{Sequence: 0, Frames: []wire.Frame{f}}
	require.NoError(t, client.HandleInbound(dg.Encode(), now))
	require.Equal(t, StateConnected, client.State())
}

// TestServerHandshakeFullSequence mirrors the server-side mirror of
// spec.md §4.7: a Conn allocated after Request2/Reply2 accepts the
// client's in-band ConnectionRequest and reaches Connected.
func TestServerHandshakeFullSequence(t *testing.T) {
	rec := &recorder{}
	remote := testRemote()
	server := NewServerSide(rec, remote, 1492, 0xBEEF, 0xAAAA)
	require.Equal(t, StateOpened2, server.State())

	now := time.Unix(0, 0)
	req := wire.ConnectionRequest{ClientGUID: 0xAAAA, RequestTimestamp: 123}
	f := wire.Frame{Reliability: wire.ReliableOrdered, Payload: req.Encode()}
	dg := wire.Datagram{Sequence: 0, Frames: []wire.Frame{f}}
	require.NoError(t, server.HandleInbound(dg.Encode(), now))

	require.Equal(t, StateConnected, server.State())
	last := rec.last()
	require.Equal(t, wire.FlagDatagram, last[0])
}

// TestMTUProbeRetriesThenFails checks the client eventually gives up and
// moves to Closing when the server never replies to any MTU probe — via
// probe exhaustion or the silence timeout, whichever trips first.
func TestMTUProbeRetriesThenFails(t *testing.T) {
	rec := &recorder{}
	client := NewClient(rec, testRemote(), 1, wire.DefaultProtocolVersion)

	now := time.Unix(0, 0)
	require.NoError(t, client.Dial(now))
	pong := wire.UnconnectedPong{SendTimestamp: 0, ServerGUID: 1}
	require.NoError(t, client.HandleInbound(pong.Encode(), now))
	require.Equal(t, StateMTUProbed, client.State())

	elapsed := now
	for i := 0; i < len(CandidateMTUs)*MTUProbeRetries+1; i++ {
		elapsed = elapsed.Add(MTUProbeInterval)
		_ = client.Tick(elapsed)
		if client.State() == StateClosing {
			break
		}
	}
	require.Equal(t, StateClosing, client.State())
}
