// Package wire implements the RakNet-compatible primitive, address,
// message, and frame codecs: big-endian integer reads/writes, the
// 24-bit little-endian counters used for sequence/message/order
// indices, address records, control messages, and reliability frames.
package wire

import "encoding/binary"

// Reader reads values off a byte slice, advancing an internal offset.
// It never panics; every method reports KindShortPayload once the
// slice is exhausted.
type Reader struct {
	data []byte
	off  int
}

// NewReader wraps data for sequential reads.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.data) - r.off }

// Bytes returns the unread tail without advancing the offset.
func (r *Reader) Bytes() []byte { return r.data[r.off:] }

func (r *Reader) take(n int) ([]byte, bool) {
	if r.off+n > len(r.data) {
		return nil, false
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, true
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, ok := r.take(1)
	if !ok {
		return 0, newErr(KindShortPayload, "read byte")
	}
	return b[0], nil
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, ok := r.take(n)
	if !ok {
		return nil, newErr(KindShortPayload, "read bytes")
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, ok := r.take(2)
	if !ok {
		return 0, newErr(KindShortPayload, "read u16")
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, ok := r.take(4)
	if !ok {
		return 0, newErr(KindShortPayload, "read u32")
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint64 reads a big-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	b, ok := r.take(8)
	if !ok {
		return 0, newErr(KindShortPayload, "read u64")
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadUint24 reads a 24-bit little-endian unsigned integer. Datagram
// sequence numbers and all frame indices use this encoding (spec.md §9
// fixes this as little-endian, the traditional RakNet wire format,
// despite one draft of the source treating it as big-endian).
func (r *Reader) ReadUint24() (uint32, error) {
	b, ok := r.take(3)
	if !ok {
		return 0, newErr(KindShortPayload, "read u24")
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

// Writer accumulates bytes for a message or frame being serialized.
type Writer struct {
	data []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{data: make([]byte, 0, 64)}
}

// Bytes returns the accumulated bytes.
func (w *Writer) Bytes() []byte { return w.data }

// WriteByte appends a single byte.
func (w *Writer) WriteByte(b byte) { w.data = append(w.data, b) }

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(b []byte) { w.data = append(w.data, b...) }

// WriteUint16 appends a big-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

// WriteUint32 appends a big-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

// WriteUint64 appends a big-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

// WriteUint24 appends a 24-bit little-endian unsigned integer, wrapping
// silently past 2^24 (callers are expected to wrap their own counters;
// this just emits the low 24 bits).
func (w *Writer) WriteUint24(v uint32) {
	w.data = append(w.data, byte(v), byte(v>>8), byte(v>>16))
}

// ReadUint24LE reads a 24-bit little-endian integer directly out of a
// byte slice, without a Reader. It returns 0 if b is shorter than 3
// bytes.
func ReadUint24LE(b []byte) uint32 {
	if len(b) < 3 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// WriteUint24LE encodes a 24-bit little-endian integer as a 3-byte slice.
func WriteUint24LE(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}
