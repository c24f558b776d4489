package wire

// Magic is the 16-byte sequence that gates every unconnected (offline)
// message (spec.md §3/§6).
var Magic = [16]byte{
	0x00, 0xFF, 0xFF, 0x00, 0xFE, 0xFE, 0xFE, 0xFE,
	0xFD, 0xFD, 0xFD, 0xFD, 0x12, 0x34, 0x56, 0x78,
}

// Message IDs recognized by the message codec (spec.md §4.2).
const (
	IDConnectedPing               = 0x00
	IDUnconnectedPing             = 0x01
	IDConnectedPong               = 0x03
	IDOpenConnectionRequest1      = 0x05
	IDOpenConnectionReply1        = 0x06
	IDOpenConnectionRequest2      = 0x07
	IDOpenConnectionReply2        = 0x08
	IDConnectionRequest           = 0x09
	IDConnectionRequestAccepted   = 0x10
	IDNewIncomingConnection       = 0x13
	IDDisconnectNotification      = 0x15
	IDIncompatibleProtocolVersion = 0x19
	IDUnconnectedPong             = 0x1C
)

// DefaultProtocolVersion is the protocol byte this transport negotiates
// by default (spec.md §6).
const DefaultProtocolVersion byte = 11

func readMagic(r *Reader) error {
	got, err := r.ReadBytes(16)
	if err != nil {
		return err
	}
	for i := range Magic {
		if got[i] != Magic[i] {
			return newErr(KindBadMagic, "read magic")
		}
	}
	return nil
}

func writeMagic(w *Writer) { w.WriteBytes(Magic[:]) }

// Message is implemented by every recognized control message plus
// Unknown. Encode/Decode are total functions over this sum (spec.md §9's
// redesign note: a static sum type in place of the source's
// serialize/deserialize trait).
type Message interface {
	ID() byte
	Encode() []byte
}

// Unknown wraps a message ID this codec doesn't recognize together with
// its raw payload (the bytes after the ID byte). Per spec.md §4.2 and
// §7, unrecognized IDs are not an error: they decode as Unknown and are
// forwarded.
type Unknown struct {
	MsgID   byte
	Payload []byte
}

func (u Unknown) ID() byte     { return u.MsgID }
func (u Unknown) Encode() []byte {
	out := make([]byte, 0, 1+len(u.Payload))
	out = append(out, u.MsgID)
	return append(out, u.Payload...)
}

// UnconnectedPing is sent by a client probing for a server (spec.md S1).
type UnconnectedPing struct {
	SendTimestamp uint64
	ClientGUID    uint64
}

func (UnconnectedPing) ID() byte { return IDUnconnectedPing }

func (m UnconnectedPing) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDUnconnectedPing)
	w.WriteUint64(m.SendTimestamp)
	writeMagic(w)
	w.WriteUint64(m.ClientGUID)
	return w.Bytes()
}

func decodeUnconnectedPing(r *Reader) (UnconnectedPing, error) {
	ts, err := r.ReadUint64()
	if err != nil {
		return UnconnectedPing{}, err
	}
	if err := readMagic(r); err != nil {
		return UnconnectedPing{}, err
	}
	guid, err := r.ReadUint64()
	if err != nil {
		return UnconnectedPing{}, err
	}
	return UnconnectedPing{SendTimestamp: ts, ClientGUID: guid}, nil
}

// UnconnectedPong is the server's reply to UnconnectedPing, carrying an
// opaque application payload (e.g. a formatted MOTD) that this transport
// neither generates nor interprets (spec.md §1/§9).
type UnconnectedPong struct {
	SendTimestamp uint64
	ServerGUID    uint64
	Data          []byte
}

func (UnconnectedPong) ID() byte { return IDUnconnectedPong }

func (m UnconnectedPong) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDUnconnectedPong)
	w.WriteUint64(m.SendTimestamp)
	w.WriteUint64(m.ServerGUID)
	writeMagic(w)
	w.WriteUint16(uint16(len(m.Data)))
	w.WriteBytes(m.Data)
	return w.Bytes()
}

func decodeUnconnectedPong(r *Reader) (UnconnectedPong, error) {
	ts, err := r.ReadUint64()
	if err != nil {
		return UnconnectedPong{}, err
	}
	guid, err := r.ReadUint64()
	if err != nil {
		return UnconnectedPong{}, err
	}
	if err := readMagic(r); err != nil {
		return UnconnectedPong{}, err
	}
	n, err := r.ReadUint16()
	if err != nil {
		return UnconnectedPong{}, err
	}
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return UnconnectedPong{}, err
	}
	return UnconnectedPong{SendTimestamp: ts, ServerGUID: guid, Data: data}, nil
}

// OpenConnectionRequest1 is the client's MTU-discovery probe. Its
// payload is padded with null bytes to reach the candidate MTU; the
// server infers the requested MTU from the received datagram length
// (spec.md §4.2).
type OpenConnectionRequest1 struct {
	ProtocolVersion byte
	PaddingLength   int // bytes of trailing padding, not serialized content
}

func (OpenConnectionRequest1) ID() byte { return IDOpenConnectionRequest1 }

func (m OpenConnectionRequest1) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDOpenConnectionRequest1)
	writeMagic(w)
	w.WriteByte(m.ProtocolVersion)
	w.WriteBytes(make([]byte, m.PaddingLength))
	return w.Bytes()
}

func decodeOpenConnectionRequest1(r *Reader, totalDatagramLen int) (OpenConnectionRequest1, error) {
	if err := readMagic(r); err != nil {
		return OpenConnectionRequest1{}, err
	}
	proto, err := r.ReadByte()
	if err != nil {
		return OpenConnectionRequest1{}, err
	}
	return OpenConnectionRequest1{ProtocolVersion: proto, PaddingLength: r.Len()}, nil
}

// RequestedMTU returns the MTU the sender targeted, derived from the
// size of the datagram that carried this message plus the IP and UDP
// headers its padding accounted for (spec.md §4.2).
func RequestedMTU(totalDatagramLen int) int { return totalDatagramLen + 20 + 8 }

// OpenConnectionReply1 answers an MTU probe with the server's GUID and
// the MTU it is willing to use (spec.md §9 fixes this field as a
// big-endian u16, not the source's inconsistent u16/u64).
type OpenConnectionReply1 struct {
	ServerGUID   uint64
	UseSecurity  bool
	MTU          uint16
}

func (OpenConnectionReply1) ID() byte { return IDOpenConnectionReply1 }

func (m OpenConnectionReply1) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDOpenConnectionReply1)
	writeMagic(w)
	w.WriteUint64(m.ServerGUID)
	if m.UseSecurity {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	w.WriteUint16(m.MTU)
	return w.Bytes()
}

func decodeOpenConnectionReply1(r *Reader) (OpenConnectionReply1, error) {
	if err := readMagic(r); err != nil {
		return OpenConnectionReply1{}, err
	}
	guid, err := r.ReadUint64()
	if err != nil {
		return OpenConnectionReply1{}, err
	}
	sec, err := r.ReadByte()
	if err != nil {
		return OpenConnectionReply1{}, err
	}
	mtu, err := r.ReadUint16()
	if err != nil {
		return OpenConnectionReply1{}, err
	}
	return OpenConnectionReply1{ServerGUID: guid, UseSecurity: sec != 0, MTU: mtu}, nil
}

// OpenConnectionRequest2 names the server address the client resolved
// and presents its own GUID plus the MTU negotiated in phase 1.
type OpenConnectionRequest2 struct {
	ServerAddress Address
	MTU           uint16
	ClientGUID    uint64
}

func (OpenConnectionRequest2) ID() byte { return IDOpenConnectionRequest2 }

func (m OpenConnectionRequest2) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDOpenConnectionRequest2)
	writeMagic(w)
	w.WriteAddress(m.ServerAddress)
	w.WriteUint16(m.MTU)
	w.WriteUint64(m.ClientGUID)
	return w.Bytes()
}

func decodeOpenConnectionRequest2(r *Reader) (OpenConnectionRequest2, error) {
	if err := readMagic(r); err != nil {
		return OpenConnectionRequest2{}, err
	}
	addr, err := r.ReadAddress()
	if err != nil {
		return OpenConnectionRequest2{}, err
	}
	mtu, err := r.ReadUint16()
	if err != nil {
		return OpenConnectionRequest2{}, err
	}
	guid, err := r.ReadUint64()
	if err != nil {
		return OpenConnectionRequest2{}, err
	}
	return OpenConnectionRequest2{ServerAddress: addr, MTU: mtu, ClientGUID: guid}, nil
}

// OpenConnectionReply2 echoes the client's address and the agreed MTU.
type OpenConnectionReply2 struct {
	ServerGUID    uint64
	ClientAddress Address
	MTU           uint16
	UseEncryption bool
}

func (OpenConnectionReply2) ID() byte { return IDOpenConnectionReply2 }

func (m OpenConnectionReply2) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDOpenConnectionReply2)
	writeMagic(w)
	w.WriteUint64(m.ServerGUID)
	w.WriteAddress(m.ClientAddress)
	w.WriteUint16(m.MTU)
	if m.UseEncryption {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	return w.Bytes()
}

func decodeOpenConnectionReply2(r *Reader) (OpenConnectionReply2, error) {
	if err := readMagic(r); err != nil {
		return OpenConnectionReply2{}, err
	}
	guid, err := r.ReadUint64()
	if err != nil {
		return OpenConnectionReply2{}, err
	}
	addr, err := r.ReadAddress()
	if err != nil {
		return OpenConnectionReply2{}, err
	}
	mtu, err := r.ReadUint16()
	if err != nil {
		return OpenConnectionReply2{}, err
	}
	enc, err := r.ReadByte()
	if err != nil {
		return OpenConnectionReply2{}, err
	}
	return OpenConnectionReply2{ServerGUID: guid, ClientAddress: addr, MTU: mtu, UseEncryption: enc != 0}, nil
}

// ConnectionRequest opens the logical (in-band) connection, sent inside
// a reliable-ordered frame once the offline handshake completes.
type ConnectionRequest struct {
	ClientGUID       uint64
	RequestTimestamp uint64
}

func (ConnectionRequest) ID() byte { return IDConnectionRequest }

func (m ConnectionRequest) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDConnectionRequest)
	w.WriteUint64(m.ClientGUID)
	w.WriteUint64(m.RequestTimestamp)
	return w.Bytes()
}

func decodeConnectionRequest(r *Reader) (ConnectionRequest, error) {
	guid, err := r.ReadUint64()
	if err != nil {
		return ConnectionRequest{}, err
	}
	ts, err := r.ReadUint64()
	if err != nil {
		return ConnectionRequest{}, err
	}
	return ConnectionRequest{ClientGUID: guid, RequestTimestamp: ts}, nil
}

// ConnectionRequestAccepted finalizes the handshake from the server.
type ConnectionRequestAccepted struct {
	ClientAddress     Address
	RequestTimestamp  uint64
	AcceptedTimestamp uint64
}

func (ConnectionRequestAccepted) ID() byte { return IDConnectionRequestAccepted }

func (m ConnectionRequestAccepted) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDConnectionRequestAccepted)
	w.WriteAddress(m.ClientAddress)
	w.WriteUint16(0) // system index, unused
	w.WriteUint64(m.RequestTimestamp)
	w.WriteUint64(m.AcceptedTimestamp)
	return w.Bytes()
}

func decodeConnectionRequestAccepted(r *Reader) (ConnectionRequestAccepted, error) {
	addr, err := r.ReadAddress()
	if err != nil {
		return ConnectionRequestAccepted{}, err
	}
	if _, err := r.ReadUint16(); err != nil {
		return ConnectionRequestAccepted{}, err
	}
	reqTS, err := r.ReadUint64()
	if err != nil {
		return ConnectionRequestAccepted{}, err
	}
	accTS, err := r.ReadUint64()
	if err != nil {
		return ConnectionRequestAccepted{}, err
	}
	return ConnectionRequestAccepted{ClientAddress: addr, RequestTimestamp: reqTS, AcceptedTimestamp: accTS}, nil
}

// NewIncomingConnection completes the client's side of the handshake.
type NewIncomingConnection struct {
	ServerAddress    Address
	RequestTimestamp uint64
	AcceptedTimestamp uint64
}

func (NewIncomingConnection) ID() byte { return IDNewIncomingConnection }

func (m NewIncomingConnection) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDNewIncomingConnection)
	w.WriteAddress(m.ServerAddress)
	w.WriteUint64(m.RequestTimestamp)
	w.WriteUint64(m.AcceptedTimestamp)
	return w.Bytes()
}

func decodeNewIncomingConnection(r *Reader) (NewIncomingConnection, error) {
	addr, err := r.ReadAddress()
	if err != nil {
		return NewIncomingConnection{}, err
	}
	reqTS, err := r.ReadUint64()
	if err != nil {
		return NewIncomingConnection{}, err
	}
	accTS, err := r.ReadUint64()
	if err != nil {
		return NewIncomingConnection{}, err
	}
	return NewIncomingConnection{ServerAddress: addr, RequestTimestamp: reqTS, AcceptedTimestamp: accTS}, nil
}

// ConnectedPing/ConnectedPong measure in-band RTT once connected.
type ConnectedPing struct{ SendTimestamp uint64 }

func (ConnectedPing) ID() byte { return IDConnectedPing }
func (m ConnectedPing) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDConnectedPing)
	w.WriteUint64(m.SendTimestamp)
	return w.Bytes()
}
func decodeConnectedPing(r *Reader) (ConnectedPing, error) {
	ts, err := r.ReadUint64()
	if err != nil {
		return ConnectedPing{}, err
	}
	return ConnectedPing{SendTimestamp: ts}, nil
}

type ConnectedPong struct {
	SendTimestamp uint64
	PongTimestamp uint64
}

func (ConnectedPong) ID() byte { return IDConnectedPong }
func (m ConnectedPong) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDConnectedPong)
	w.WriteUint64(m.SendTimestamp)
	w.WriteUint64(m.PongTimestamp)
	return w.Bytes()
}
func decodeConnectedPong(r *Reader) (ConnectedPong, error) {
	send, err := r.ReadUint64()
	if err != nil {
		return ConnectedPong{}, err
	}
	pong, err := r.ReadUint64()
	if err != nil {
		return ConnectedPong{}, err
	}
	return ConnectedPong{SendTimestamp: send, PongTimestamp: pong}, nil
}

// DisconnectNotification signals a clean, explicit disconnect.
type DisconnectNotification struct{}

func (DisconnectNotification) ID() byte     { return IDDisconnectNotification }
func (DisconnectNotification) Encode() []byte { return []byte{IDDisconnectNotification} }

// IncompatibleProtocolVersion is sent when a client's requested protocol
// version doesn't match the server's.
type IncompatibleProtocolVersion struct {
	ServerProtocol byte
	ServerGUID     uint64
}

func (IncompatibleProtocolVersion) ID() byte { return IDIncompatibleProtocolVersion }

func (m IncompatibleProtocolVersion) Encode() []byte {
	w := NewWriter()
	w.WriteByte(IDIncompatibleProtocolVersion)
	w.WriteByte(m.ServerProtocol)
	writeMagic(w)
	w.WriteUint64(m.ServerGUID)
	return w.Bytes()
}

func decodeIncompatibleProtocolVersion(r *Reader) (IncompatibleProtocolVersion, error) {
	proto, err := r.ReadByte()
	if err != nil {
		return IncompatibleProtocolVersion{}, err
	}
	if err := readMagic(r); err != nil {
		return IncompatibleProtocolVersion{}, err
	}
	guid, err := r.ReadUint64()
	if err != nil {
		return IncompatibleProtocolVersion{}, err
	}
	return IncompatibleProtocolVersion{ServerProtocol: proto, ServerGUID: guid}, nil
}

// DecodeMessage parses a full control message payload (leading ID byte
// included). totalDatagramLen is passed to OpenConnectionRequest1's
// decoder, which does not read it; the probed MTU comes from
// RequestedMTU. Unknown IDs decode as
// Unknown, never as an error (spec.md §4.2, §7).
func DecodeMessage(data []byte, totalDatagramLen int) (Message, error) {
	if len(data) < 1 {
		return nil, newErr(KindShortPayload, "decode message")
	}
	id := data[0]
	r := NewReader(data[1:])
	switch id {
	case IDUnconnectedPing:
		return decodeUnconnectedPing(r)
	case IDUnconnectedPong:
		return decodeUnconnectedPong(r)
	case IDOpenConnectionRequest1:
		return decodeOpenConnectionRequest1(r, totalDatagramLen)
	case IDOpenConnectionReply1:
		return decodeOpenConnectionReply1(r)
	case IDOpenConnectionRequest2:
		return decodeOpenConnectionRequest2(r)
	case IDOpenConnectionReply2:
		return decodeOpenConnectionReply2(r)
	case IDConnectionRequest:
		return decodeConnectionRequest(r)
	case IDConnectionRequestAccepted:
		return decodeConnectionRequestAccepted(r)
	case IDNewIncomingConnection:
		return decodeNewIncomingConnection(r)
	case IDConnectedPing:
		return decodeConnectedPing(r)
	case IDConnectedPong:
		return decodeConnectedPong(r)
	case IDDisconnectNotification:
		return DisconnectNotification{}, nil
	case IDIncompatibleProtocolVersion:
		return decodeIncompatibleProtocolVersion(r)
	default:
		payload := make([]byte, len(data)-1)
		copy(payload, data[1:])
		return Unknown{MsgID: id, Payload: payload}, nil
	}
}
