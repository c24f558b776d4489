// Package listener owns the shared UDP socket: it demultiplexes inbound
// datagrams to the owning conn.Conn by remote address, handles
// unconnected (pre-connection) control messages statelessly, and spins
// up a new server-side Conn once a client's handshake reaches
// OpenConnectionRequest2 (spec.md §4.9). Grounded on the teacher's
// Server.listen/updateLoop/sessionCleanupLoop (source/server/server.go)
// and evgarik's Listener.listen/handle (net.Listener-shaped Accept/Close
// API, sync.Map connection table, incoming channel).
package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vortexnet/raknet/conn"
	"github.com/vortexnet/raknet/ratelimit"
	"github.com/vortexnet/raknet/rlog"
	"github.com/vortexnet/raknet/wire"
)

// udpSender adapts a *net.UDPConn to conn.Sender, serializing writes to
// the one shared socket per spec.md §5.
type udpSender struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

func (s *udpSender) SendTo(addr *net.UDPAddr, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

// Listener is the transport's accept point: one shared socket, a
// connection table keyed by remote address, and an Accept channel for
// newly Connected peers.
type Listener struct {
	socket *net.UDPConn
	sender *udpSender
	log    zerolog.Logger

	localGUID       uint64
	protocolVersion byte
	motd            []byte

	limiter *ratelimit.Limiter

	mu          sync.Mutex
	connections map[string]*conn.Conn

	accept chan *conn.Conn

	ctx    context.Context
	cancel context.CancelFunc
}

// Options configures a Listener beyond its bind address.
type Options struct {
	ProtocolVersion byte
	MOTD            []byte
	RateLimitRPS    float64
	RateLimitBurst  int
}

// Listen binds a UDP socket at addr and starts the listener's read loop,
// tick loop, and stale-connection reaper.
func Listen(addr string, opts Options) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: resolve %q: %w", addr, err)
	}
	socket, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listener: listen %q: %w", addr, err)
	}

	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 20
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 40
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		socket:          socket,
		sender:          &udpSender{conn: socket},
		log:             rlog.For("listener"),
		localGUID:       conn.NewGUID(),
		protocolVersion: opts.ProtocolVersion,
		motd:            opts.MOTD,
		limiter:         ratelimit.New(opts.RateLimitRPS, opts.RateLimitBurst),
		connections:     make(map[string]*conn.Conn),
		accept:          make(chan *conn.Conn, 128),
		ctx:             ctx,
		cancel:          cancel,
	}
	l.log.Info().Str("addr", socket.LocalAddr().String()).Msg("listening")

	go l.readLoop()
	go l.tickLoop()
	go l.reapLoop()

	return l, nil
}

// Accept blocks until a connection completes its handshake and reaches
// Connected, or the listener is closed.
func (l *Listener) Accept() (*conn.Conn, error) {
	select {
	case c, ok := <-l.accept:
		if !ok {
			return nil, fmt.Errorf("listener: closed")
		}
		return c, nil
	case <-l.ctx.Done():
		return nil, fmt.Errorf("listener: closed")
	}
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.socket.LocalAddr() }

// Close shuts down the socket and every owned connection.
func (l *Listener) Close() error {
	l.cancel()
	l.mu.Lock()
	conns := make([]*conn.Conn, 0, len(l.connections))
	for _, c := range l.connections {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return l.socket.Close()
}

func (l *Listener) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, remote, err := l.socket.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.ctx.Done():
				return
			default:
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		l.handle(data, remote)
	}
}

// handle dispatches one inbound datagram to its owning connection, or to
// the stateless unconnected-message path if no connection owns this
// address yet (spec.md §4.9).
func (l *Listener) handle(data []byte, remote *net.UDPAddr) {
	if len(data) == 0 {
		return
	}

	key := remote.String()
	l.mu.Lock()
	c, owned := l.connections[key]
	l.mu.Unlock()

	if owned {
		// A parse-level error only drops this datagram. A state-level
		// error leaves c Closing; the next tick tears it down, and
		// awaitConnected or reapLoop removes it from the table.
		_ = c.HandleInbound(data, time.Now())
		return
	}

	if !l.limiter.Allow(remote) {
		return
	}

	if data[0]&wire.FlagDatagram != 0 || data[0]&wire.FlagACK != 0 || data[0]&wire.FlagNACK != 0 {
		// Framed traffic from an address we don't recognize as a
		// connection: drop (spec.md §4.9).
		return
	}

	l.handleUnconnected(data, remote)
}

// handleUnconnected answers offline handshake messages statelessly and
// creates a server-side Conn once OpenConnectionRequest2 arrives
// (spec.md §4.9).
func (l *Listener) handleUnconnected(data []byte, remote *net.UDPAddr) {
	msg, err := wire.DecodeMessage(data, len(data))
	if err != nil {
		return
	}

	switch m := msg.(type) {
	case wire.UnconnectedPing:
		pong := wire.UnconnectedPong{SendTimestamp: m.SendTimestamp, ServerGUID: l.localGUID, Data: l.motd}
		_ = l.sender.SendTo(remote, pong.Encode())

	case wire.OpenConnectionRequest1:
		if m.ProtocolVersion != l.protocolVersion {
			resp := wire.IncompatibleProtocolVersion{ServerProtocol: l.protocolVersion, ServerGUID: l.localGUID}
			_ = l.sender.SendTo(remote, resp.Encode())
			l.log.Info().Str("remote", remote.String()).Uint8("client_protocol", m.ProtocolVersion).Msg("protocol mismatch")
			return
		}
		mtu := wire.RequestedMTU(len(data))
		reply := wire.OpenConnectionReply1{ServerGUID: l.localGUID, MTU: uint16(mtu)}
		_ = l.sender.SendTo(remote, reply.Encode())

	case wire.OpenConnectionRequest2:
		l.createConnection(remote, int(m.MTU), m.ClientGUID)
	}
}

// createConnection builds the server-side Conn for remote, replies with
// OpenConnectionReply2 (handled inside conn.NewServerSide's caller), and
// registers it in the connection table.
func (l *Listener) createConnection(remote *net.UDPAddr, mtu int, clientGUID uint64) {
	key := remote.String()

	l.mu.Lock()
	if _, exists := l.connections[key]; exists {
		l.mu.Unlock()
		return
	}
	c := conn.NewServerSide(l.sender, remote, mtu, l.localGUID, clientGUID)
	l.connections[key] = c
	l.mu.Unlock()

	reply2 := wire.OpenConnectionReply2{ServerGUID: l.localGUID, ClientAddress: wire.AddressFromUDP(remote), MTU: uint16(mtu)}
	_ = l.sender.SendTo(remote, reply2.Encode())
	l.log.Info().Str("remote", remote.String()).Int("mtu", mtu).Msg("handshake started")

	go l.awaitConnected(c)
}

// awaitConnected watches a freshly created Conn's Events channel and
// forwards it to Accept once the in-band handshake completes, or drops
// it from the table if it closes first.
func (l *Listener) awaitConnected(c *conn.Conn) {
	for ev := range c.Events {
		switch ev.Kind {
		case conn.EventConnected:
			l.log.Info().Str("remote", c.RemoteAddr().String()).Msg("connected")
			select {
			case l.accept <- c:
			case <-l.ctx.Done():
				return
			}
		case conn.EventClosed:
			l.log.Info().Str("remote", c.RemoteAddr().String()).Err(ev.Err).Msg("closed")
			l.forget(c.RemoteAddr().String())
			return
		}
	}
}

func (l *Listener) forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.connections, key)
}

// tickLoop drives every owned connection's Tick once per interval,
// matching the teacher's Server.updateLoop ticker (source/server/server.go),
// lifted to the listener since connections no longer run their own
// dedicated goroutine ticker here (they're ticked centrally to keep one
// fixed-rate loop instead of one goroutine per connection).
func (l *Listener) tickLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			conns := make([]*conn.Conn, 0, len(l.connections))
			for _, c := range l.connections {
				conns = append(conns, c)
			}
			l.mu.Unlock()
			for _, c := range conns {
				_ = c.Tick(now)
			}
		}
	}
}

// reapLoop periodically drops connections that fully closed, matching
// the teacher's sessionCleanupLoop (source/server/server.go) cadence.
func (l *Listener) reapLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for key, c := range l.connections {
				if c.State() == conn.StateClosed {
					delete(l.connections, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Connections reports how many addresses currently hold a connection
// slot, for metrics/diagnostics.
func (l *Listener) Connections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.connections)
}
