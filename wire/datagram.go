package wire

// Datagram is a single reliability-layer UDP payload: the 0x80-flagged
// sequence number plus one or more concatenated frames (spec.md §4.7).
type Datagram struct {
	Sequence uint32
	Frames   []Frame
}

// Encode serializes the datagram: flag byte, little-endian u24
// sequence number, then each frame back to back.
func (d Datagram) Encode() []byte {
	w := NewWriter()
	w.WriteByte(FlagDatagram)
	w.WriteUint24(d.Sequence)
	for _, f := range d.Frames {
		w.WriteFrame(f)
	}
	return w.Bytes()
}

// DecodeDatagram parses a datagram payload (flag byte included) into its
// sequence number and constituent frames. Frames are parsed until the
// buffer is exhausted; a short trailing frame is reported as
// KindShortPayload and the datagram is dropped as a whole (spec.md §7:
// parse-level errors are local, the caller simply discards this
// datagram and keeps the connection alive).
func DecodeDatagram(data []byte) (Datagram, error) {
	r := NewReader(data)
	flag, err := r.ReadByte()
	if err != nil {
		return Datagram{}, err
	}
	if flag&FlagDatagram == 0 {
		return Datagram{}, newErr(KindShortPayload, "not a datagram")
	}
	seq, err := r.ReadUint24()
	if err != nil {
		return Datagram{}, err
	}
	d := Datagram{Sequence: seq}
	for r.Len() > 0 {
		f, err := r.ReadFrame()
		if err != nil {
			return Datagram{}, err
		}
		d.Frames = append(d.Frames, f)
	}
	return d, nil
}
