package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressIPv4RoundTrip(t *testing.T) {
	addr := Address{Family: FamilyIPv4, IP: net.IPv4(192, 168, 1, 100).To4(), Port: 7777}

	w := NewWriter()
	w.WriteAddress(addr)
	require.Len(t, w.Bytes(), 7)

	// Invariant 5: encoded[1..5) equals the bitwise inversion of the
	// address bytes.
	raw := w.Bytes()
	for i, b := range addr.IP {
		require.Equal(t, ^b, raw[1+i])
	}

	r := NewReader(w.Bytes())
	got, err := r.ReadAddress()
	require.NoError(t, err)
	require.Equal(t, FamilyIPv4, got.Family)
	require.True(t, got.IP.Equal(addr.IP))
	require.Equal(t, addr.Port, got.Port)
}

func TestAddressIPv6RoundTrip(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	addr := Address{Family: FamilyIPv6, IP: ip, Port: 19132}

	w := NewWriter()
	w.WriteAddress(addr)
	require.Len(t, w.Bytes(), 29)

	r := NewReader(w.Bytes())
	got, err := r.ReadAddress()
	require.NoError(t, err)
	require.Equal(t, FamilyIPv6, got.Family)
	require.True(t, got.IP.Equal(ip))
	require.Equal(t, addr.Port, got.Port)
}

func TestAddressZero(t *testing.T) {
	w := NewWriter()
	w.WriteAddress(Address{Family: FamilyZero})
	require.Len(t, w.Bytes(), 7)

	r := NewReader(w.Bytes())
	got, err := r.ReadAddress()
	require.NoError(t, err)
	require.Equal(t, FamilyZero, got.Family)
}

func TestAddressZeroDecodesLiteralTagZero(t *testing.T) {
	// spec.md §4.1: a leading family byte of literal 0 is also a Zero
	// address, decoded through the same 7-byte IPv4-shaped layout as a
	// real IPv4 record (4 inverted address bytes + 2-byte port).
	buf := []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0x1F, 0x90} // port 8080
	r := NewReader(buf)
	got, err := r.ReadAddress()
	require.NoError(t, err)
	require.Equal(t, FamilyZero, got.Family)
	require.Equal(t, uint16(8080), got.Port)
}

func TestAddressBadFamily(t *testing.T) {
	r := NewReader([]byte{0x09, 0, 0, 0, 0, 0, 0})
	_, err := r.ReadAddress()
	require.Error(t, err)
	var wireErr *Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, KindBadAddressFamily, wireErr.Kind)
}

func TestAddrSize(t *testing.T) {
	require.Equal(t, 7, AddrSize(0))
	require.Equal(t, 7, AddrSize(4))
	require.Equal(t, 29, AddrSize(6))
}
