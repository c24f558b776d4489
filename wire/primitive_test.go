package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint24RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 255, 65535, 1 << 23, 1<<24 - 1}
	for _, v := range cases {
		w := NewWriter()
		w.WriteUint24(v)
		require.Len(t, w.Bytes(), 3)

		r := NewReader(w.Bytes())
		got, err := r.ReadUint24()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestUint24LEHelpers(t *testing.T) {
	got := ReadUint24LE(WriteUint24LE(0x123456))
	require.Equal(t, uint32(0x123456), got)
}

func TestBigEndianRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUint16(1234)
	w.WriteUint32(567890)
	w.WriteUint64(123456789012345)

	r := NewReader(w.Bytes())
	u16, err := r.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(1234), u16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(567890), u32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(123456789012345), u64)
}

func TestReadShortPayload(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.ReadUint32()
	require.Error(t, err)
	var wireErr *Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, KindShortPayload, wireErr.Kind)
}
