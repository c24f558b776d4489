package wire

import (
	"net"
)

// AddressFamily tags the variant carried by an Address record.
type AddressFamily byte

const (
	FamilyZero AddressFamily = 0
	FamilyIPv4 AddressFamily = 4
	FamilyIPv6 AddressFamily = 6
)

const ipv6FamilyConstant = 23

// Address is the tagged {IPv4, IPv6, Zero} endpoint record used in
// handshake messages (spec.md §3). A Zero address carries no real
// endpoint; RakNet uses it to pad the 10 "system address" slots most
// messages reserve but this transport doesn't otherwise populate.
type Address struct {
	Family AddressFamily
	IP     net.IP // 4 or 16 bytes, unset for FamilyZero
	Port   uint16
}

// addrSize returns the wire size of a (possibly unparsed) address record
// given only its leading family byte — 7 bytes for {Zero, IPv4}, 29
// bytes for IPv6.
func addrSize(family byte) int {
	if family == byte(FamilyZero) || family == byte(FamilyIPv4) {
		return 7
	}
	return 29
}

// AddrSize is the exported form of addrSize, usable before a full parse
// when only the leading byte of a buffer has been read.
func AddrSize(leadingByte byte) int { return addrSize(leadingByte) }

// ReadAddress parses an Address record per spec.md §3.
func (r *Reader) ReadAddress() (Address, error) {
	family, err := r.ReadByte()
	if err != nil {
		return Address{}, err
	}
	switch family {
	case byte(FamilyZero):
		// A leading family byte of 0 is its own tag (spec.md §4.1), but
		// still reads the same 7-byte IPv4-shaped layout: 4 inverted
		// address bytes followed by a 2-byte port.
		if _, err := r.ReadBytes(4); err != nil {
			return Address{}, err
		}
		port, err := r.ReadUint16()
		if err != nil {
			return Address{}, err
		}
		return Address{Family: FamilyZero, Port: port}, nil
	case byte(FamilyIPv4):
		raw, err := r.ReadBytes(4)
		if err != nil {
			return Address{}, err
		}
		if raw[0] == 0xFF && raw[1] == 0xFF && raw[2] == 0xFF && raw[3] == 0xFF {
			// Inverted all-zero: ~0x00 == 0xFF. This is the Zero address,
			// which reuses the IPv4 family byte (spec.md §3).
			port, err := r.ReadUint16()
			if err != nil {
				return Address{}, err
			}
			return Address{Family: FamilyZero, Port: port}, nil
		}
		ip := make(net.IP, 4)
		for i := range raw {
			ip[i] = ^raw[i]
		}
		port, err := r.ReadUint16()
		if err != nil {
			return Address{}, err
		}
		return Address{Family: FamilyIPv4, IP: ip, Port: port}, nil
	case byte(FamilyIPv6):
		if _, err := r.ReadUint16(); err != nil { // family constant, discarded
			return Address{}, err
		}
		port, err := r.ReadUint16()
		if err != nil {
			return Address{}, err
		}
		if _, err := r.ReadBytes(4); err != nil { // flow info
			return Address{}, err
		}
		ip, err := r.ReadBytes(16)
		if err != nil {
			return Address{}, err
		}
		if _, err := r.ReadBytes(4); err != nil { // scope id
			return Address{}, err
		}
		return Address{Family: FamilyIPv6, IP: net.IP(ip), Port: port}, nil
	default:
		return Address{}, newErr(KindBadAddressFamily, "read address")
	}
}

// WriteAddress serializes an Address record per spec.md §3.
func (w *Writer) WriteAddress(a Address) {
	switch a.Family {
	case FamilyIPv6:
		w.WriteByte(byte(FamilyIPv6))
		w.WriteUint16(ipv6FamilyConstant)
		w.WriteUint16(a.Port)
		w.WriteBytes(make([]byte, 4)) // flow info
		ip := a.IP.To16()
		if ip == nil {
			ip = make([]byte, 16)
		}
		w.WriteBytes(ip)
		w.WriteBytes(make([]byte, 4)) // scope id
	case FamilyZero:
		w.WriteByte(byte(FamilyIPv4))
		w.WriteBytes([]byte{0xFF, 0xFF, 0xFF, 0xFF})
		w.WriteUint16(0)
	default: // FamilyIPv4
		w.WriteByte(byte(FamilyIPv4))
		ip := a.IP.To4()
		if ip == nil {
			ip = make(net.IP, 4)
		}
		for _, b := range ip {
			w.WriteByte(^b)
		}
		w.WriteUint16(a.Port)
	}
}

// AddressFromUDP converts a *net.UDPAddr into the wire Address record.
func AddressFromUDP(addr *net.UDPAddr) Address {
	if addr == nil {
		return Address{Family: FamilyZero}
	}
	if v4 := addr.IP.To4(); v4 != nil {
		return Address{Family: FamilyIPv4, IP: v4, Port: uint16(addr.Port)}
	}
	return Address{Family: FamilyIPv6, IP: addr.IP.To16(), Port: uint16(addr.Port)}
}

// UDPAddr converts an Address record back into a *net.UDPAddr.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port)}
}
