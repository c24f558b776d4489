// Package conn implements the per-peer connection state machine: the
// handshake, inbound dispatch through the three sliding windows, and
// outbound framing with retransmission (spec.md §4.7-§4.8).
package conn

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vortexnet/raknet/metrics"
	"github.com/vortexnet/raknet/wire"
	"github.com/vortexnet/raknet/window"
)

// State is one stage of the handshake lifecycle (spec.md §4.7).
type State int

const (
	StateUnconnected State = iota
	StateMTUProbed
	StateOpened1
	StateOpened2
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateMTUProbed:
		return "mtu-probed"
	case StateOpened1:
		return "opened1"
	case StateOpened2:
		return "opened2"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CandidateMTUs are the client's MTU probe sizes, largest first
// (spec.md §4.7).
var CandidateMTUs = []int{1492, 1200, 576}

const (
	// MTUProbeRetries is how many times each candidate MTU is retried.
	MTUProbeRetries = 4
	// MTUProbeInterval is the spacing between retries of one candidate.
	MTUProbeInterval = 1200 * time.Millisecond
	// SilenceTimeout closes a connection after this much inbound silence.
	SilenceTimeout = 10 * time.Second
	// MinRetransmitAge floors the retransmit-eligible age regardless of RTT.
	MinRetransmitAge = 100 * time.Millisecond
	// IPUDPHeaderEstimate is subtracted from the negotiated MTU to get the
	// effective payload budget (spec.md §4.7).
	IPUDPHeaderEstimate = 28

	tickInterval  = 100 * time.Millisecond
	ackFlushEvery = 3
	pingEvery     = 5
)

// Sender is the shared outbound path a listener hands to every Conn it
// owns; writes are serialized by the caller (spec.md §5).
type Sender interface {
	SendTo(addr *net.UDPAddr, data []byte) error
}

// EventKind tags a lifecycle notification emitted on a Conn's Events channel.
type EventKind int

const (
	EventConnected EventKind = iota
	EventClosed
)

// Event is one lifecycle notification.
type Event struct {
	Kind EventKind
	Err  error
}

type retransmitEntry struct {
	frames []wire.Frame
	sentAt time.Time
}

// Conn is one peer connection: handshake state plus the receive window,
// per-channel ordered queues, and split table it coordinates. Grounded
// on the teacher's Session struct (source/protocol/raknet.go), with the
// client-side handshake half the teacher never implemented, and real
// out-of-order buffering in place of its TODO.
type Conn struct {
	mu sync.Mutex

	sender Sender
	remote *net.UDPAddr
	client bool

	state           State
	protocolVersion byte
	mtu             int // negotiated, wire-level MTU
	localGUID       uint64
	remoteGUID      uint64

	mtuProbeIdx     int
	mtuProbeAttempt int
	lastProbeSent   time.Time
	handshakeStart  time.Time

	nextMessageIndex uint32
	nextSeqIndex     [wire.MaxOrderChannel]uint32
	nextOrderIndex   [wire.MaxOrderChannel]uint32
	nextDatagramSeq  uint32
	nextSplitID      uint16

	recv     *window.Receive
	ordered  [wire.MaxOrderChannel]*window.Ordered
	split    *window.Split
	lastSeq  [wire.MaxOrderChannel]uint32
	sawSeq   [wire.MaxOrderChannel]bool

	pendingAck  []uint32
	pendingNack []uint32
	retransmit  map[uint32]retransmitEntry

	rtt time.Duration

	lastReceive time.Time
	lastSend    time.Time
	tick        uint64

	closeErr     error
	wasConnected bool

	// Inbound receives reassembled application payloads in delivery order
	// per channel (cross-channel order is not defined, per spec.md §5).
	Inbound chan []byte
	// Events receives lifecycle notifications; closed when the connection
	// is fully torn down.
	Events chan Event
}

// NewGUID returns a random 64-bit connection GUID (spec.md §4.2's
// ClientGUID/ServerGUID fields). Backed by crypto/rand rather than a
// pack dependency — see DESIGN.md's Open Question decision on GUIDs.
func NewGUID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("conn: failed to read random GUID: %v", err))
	}
	return binary.BigEndian.Uint64(b[:])
}

func newConn(sender Sender, remote *net.UDPAddr, client bool, localGUID uint64) *Conn {
	c := &Conn{
		sender:      sender,
		remote:      remote,
		client:      client,
		localGUID:   localGUID,
		recv:        window.NewReceive(),
		split:       window.NewSplit(),
		retransmit:  make(map[uint32]retransmitEntry),
		Inbound:     make(chan []byte, 256),
		Events:      make(chan Event, 4),
		lastReceive: time.Now(),
		lastSend:    time.Now(),
	}
	for i := range c.ordered {
		c.ordered[i] = window.NewOrdered()
	}
	return c
}

// NewClient starts an outbound connection attempt in StateUnconnected.
// Call Dial to send the first UnconnectedPing.
func NewClient(sender Sender, remote *net.UDPAddr, localGUID uint64, protocolVersion byte) *Conn {
	c := newConn(sender, remote, true, localGUID)
	c.protocolVersion = protocolVersion
	return c
}

// NewServerSide is created by the listener once it has replied to
// OpenConnectionRequest2 with OpenConnectionReply2. It starts in
// StateOpened2, awaiting the client's in-band ConnectionRequest frame.
func NewServerSide(sender Sender, remote *net.UDPAddr, mtu int, localGUID, remoteGUID uint64) *Conn {
	c := newConn(sender, remote, false, localGUID)
	c.state = StateOpened2
	c.mtu = mtu
	c.remoteGUID = remoteGUID
	return c
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteAddr returns the peer's UDP address.
func (c *Conn) RemoteAddr() *net.UDPAddr { return c.remote }

// effectiveMTU is the payload budget after subtracting the estimated
// IP+UDP header (spec.md §4.7).
func (c *Conn) effectiveMTU() int {
	m := c.mtu - IPUDPHeaderEstimate
	if m < 1 {
		m = 1
	}
	return m
}

// sendLocked writes data to the peer. Callers must hold c.mu — every
// send is a side effect of a locked state transition, so there is no
// benefit to releasing the lock first (the shared socket write itself
// is serialized by the Sender implementation, per spec.md §5).
func (c *Conn) sendLocked(data []byte) error {
	c.lastSend = time.Now()
	return c.sender.SendTo(c.remote, data)
}

// Dial kicks off the client-side handshake by sending the first
// UnconnectedPing (spec.md §4.7 Unconnected state).
func (c *Conn) Dial(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.client || c.state != StateUnconnected {
		return fmt.Errorf("conn: Dial called outside Unconnected client state")
	}
	c.handshakeStart = now
	ping := wire.UnconnectedPing{SendTimestamp: uint64(now.UnixMilli()), ClientGUID: c.localGUID}
	return c.sendLocked(ping.Encode())
}

func (c *Conn) fail(kind wire.Kind) error {
	c.state = StateClosing
	c.closeErr = wire.NewError(kind, "conn")
	return c.closeErr
}

func (c *Conn) emitEvent(ev Event) {
	select {
	case c.Events <- ev:
	default:
	}
}

func estimateRTT(prev, sample time.Duration) time.Duration {
	if sample < 0 {
		return prev
	}
	if prev == 0 {
		return sample
	}
	return prev + (sample-prev)/8
}

// Close transitions the connection to Closing; HandleInbound/Tick callers
// observe StateClosed once teardown completes on the next tick.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.state == StateClosing {
		return
	}
	c.state = StateClosing
}
