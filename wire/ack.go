package wire

import "sort"

// Datagram-level flag bits (spec.md §4.7): the high bits of a datagram's
// leading byte disambiguate ACK, NACK, and data datagrams.
const (
	FlagDatagram byte = 0x80
	FlagACK      byte = 0x40
	FlagNACK     byte = 0x20
)

const (
	recordRange  byte = 0
	recordSingle byte = 1
)

// Acknowledgement is a set of datagram sequence numbers carried by an
// ACK or NACK packet, range-coalesced on the wire (spec.md §4.7/§8 S4).
type Acknowledgement struct {
	Sequences []uint32
}

// Encode serializes the acknowledgement as consecutive runs collapsed
// into range records, matching how RakNet keeps ACK/NACK datagrams
// small when sequence numbers arrive in bursts.
func (a Acknowledgement) Encode() []byte {
	w := NewWriter()
	if len(a.Sequences) == 0 {
		w.WriteUint16(0)
		return w.Bytes()
	}

	seqs := append([]uint32(nil), a.Sequences...)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	type run struct{ first, last uint32 }
	var runs []run
	first, last := seqs[0], seqs[0]
	for _, s := range seqs[1:] {
		if s == last {
			continue // duplicate
		}
		if s == last+1 {
			last = s
			continue
		}
		runs = append(runs, run{first, last})
		first, last = s, s
	}
	runs = append(runs, run{first, last})

	w.WriteUint16(uint16(len(runs)))
	for _, rn := range runs {
		if rn.first == rn.last {
			w.WriteByte(recordSingle)
			w.WriteUint24(rn.first)
		} else {
			w.WriteByte(recordRange)
			w.WriteUint24(rn.first)
			w.WriteUint24(rn.last)
		}
	}
	return w.Bytes()
}

// DecodeAcknowledgement parses the record list following the flag byte
// (data[0] is expected to already be consumed/validated by the caller).
func DecodeAcknowledgement(data []byte) (Acknowledgement, error) {
	r := NewReader(data)
	count, err := r.ReadUint16()
	if err != nil {
		return Acknowledgement{}, err
	}
	var out Acknowledgement
	for i := uint16(0); i < count; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return Acknowledgement{}, err
		}
		switch kind {
		case recordSingle:
			seq, err := r.ReadUint24()
			if err != nil {
				return Acknowledgement{}, err
			}
			out.Sequences = append(out.Sequences, seq)
		case recordRange:
			start, err := r.ReadUint24()
			if err != nil {
				return Acknowledgement{}, err
			}
			end, err := r.ReadUint24()
			if err != nil {
				return Acknowledgement{}, err
			}
			for s := start; s <= end; s++ {
				out.Sequences = append(out.Sequences, s)
			}
		}
	}
	return out, nil
}
