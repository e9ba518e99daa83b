package message

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jabolina/go-rtps/internal/wire"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

var ErrMalformed = errors.New("malformed message")

var protocolId = [4]byte{'R', 'T', 'P', 'S'}

// Offsets from the end of octetsToInlineQos to the inline QoS.
const (
	dataOctetsToInlineQos     = 16
	dataFragOctetsToInlineQos = 28
)

// Encode the message into its wire representation. Submessages
// are written in little endian and aligned on 32-bit boundaries.
func Encode(m *Message) ([]byte, error) {
	w := wire.NewWriter(m.Length())
	w.Write(protocolId[:])
	w.Uint8(m.Header.Version.Major)
	w.Uint8(m.Header.Version.Minor)
	w.Write(m.Header.Vendor[:])
	w.Write(m.Header.GuidPrefix[:])

	for _, s := range m.Submessages {
		start := w.Len()
		w.Uint8(uint8(s.Kind()))
		w.Uint8(flags(s) | flagEndianness)
		w.Uint16(0)

		switch v := s.(type) {
		case *Data:
			encodeData(w, v)
		case *DataFrag:
			encodeDataFrag(w, v)
		case *Heartbeat:
			writeEntityId(w, v.ReaderId)
			writeEntityId(w, v.WriterId)
			writeSequenceNumber(w, v.FirstSN)
			writeSequenceNumber(w, v.LastSN)
			w.Int32(v.Count)
		case *AckNack:
			writeEntityId(w, v.ReaderId)
			writeEntityId(w, v.WriterId)
			writeSequenceNumberSet(w, v.ReaderSNState)
			w.Int32(v.Count)
		case *Gap:
			writeEntityId(w, v.ReaderId)
			writeEntityId(w, v.WriterId)
			writeSequenceNumber(w, v.GapStart)
			writeSequenceNumberSet(w, v.GapList)
		case *InfoTimestamp:
			if !v.Invalidate {
				w.Int32(v.Timestamp.Seconds)
				w.Uint32(v.Timestamp.Fraction)
			}
		case *InfoDestination:
			w.Write(v.GuidPrefix[:])
		default:
			return nil, fmt.Errorf("unsupported submessage %T", s)
		}

		w.Align()
		octets := w.Len() - start - SubmessageHeaderLength
		if octets > 0xffff {
			return nil, fmt.Errorf("submessage %v too large: %d bytes", s.Kind(), octets)
		}
		w.PutUint16At(start+2, uint16(octets))
	}
	return w.Bytes(), nil
}

func flags(s Submessage) uint8 {
	var f uint8
	switch v := s.(type) {
	case *Data:
		if v.InlineQos != nil {
			f |= flagDataInlineQos
		}
		if v.Payload != nil {
			if v.Key {
				f |= flagDataKey
			} else {
				f |= flagDataData
			}
		}
	case *DataFrag:
		if v.InlineQos != nil {
			f |= flagDataFragInlineQos
		}
		if v.Key {
			f |= flagDataFragKey
		}
	case *Heartbeat:
		if v.Final {
			f |= flagHeartbeatFinal
		}
		if v.Liveliness {
			f |= flagHeartbeatLiveliness
		}
	case *AckNack:
		if v.Final {
			f |= flagAckNackFinal
		}
	case *InfoTimestamp:
		if v.Invalidate {
			f |= flagInfoTimestampInvalidate
		}
	}
	return f
}

func encodeData(w *wire.Writer, d *Data) {
	w.Uint16(0)
	w.Uint16(dataOctetsToInlineQos)
	writeEntityId(w, d.ReaderId)
	writeEntityId(w, d.WriterId)
	writeSequenceNumber(w, d.WriterSN)
	if d.InlineQos != nil {
		d.InlineQos.encode(w)
	}
	if d.Payload != nil {
		writePayloadHeader(w, d.PayloadHeader, wire.Padding(len(d.Payload)))
		w.Write(d.Payload)
	}
}

func encodeDataFrag(w *wire.Writer, d *DataFrag) {
	w.Uint16(0)
	w.Uint16(dataFragOctetsToInlineQos)
	writeEntityId(w, d.ReaderId)
	writeEntityId(w, d.WriterId)
	writeSequenceNumber(w, d.WriterSN)
	w.Uint32(d.FragmentStartingNum)
	w.Uint16(d.FragmentsInSubmessage)
	w.Uint16(d.FragmentSize)
	w.Uint32(d.SampleSize)
	if d.InlineQos != nil {
		d.InlineQos.encode(w)
	}
	if d.FragmentStartingNum == 1 {
		writePayloadHeader(w, d.PayloadHeader, 0)
	}
	w.Write(d.Data)
}

func writePayloadHeader(w *wire.Writer, h PayloadHeader, padding int) {
	w.Uint16BE(h.Representation)
	w.Uint16BE(h.Options&^0x3 | uint16(padding))
}

func writeEntityId(w *wire.Writer, id types.EntityId) {
	w.Write(id.Key[:])
	w.Uint8(uint8(id.Kind))
}

func writeSequenceNumber(w *wire.Writer, s types.SequenceNumber) {
	high, low := s.Parts()
	w.Int32(high)
	w.Uint32(low)
}

func writeSequenceNumberSet(w *wire.Writer, s SequenceNumberSet) {
	writeSequenceNumber(w, s.Base)
	w.Uint32(s.NumBits)
	words := int((s.NumBits + 31) / 32)
	for i := 0; i < words; i++ {
		var word uint32
		if i < len(s.Bitmap) {
			word = s.Bitmap[i]
		}
		w.Uint32(word)
	}
}

// Decode a message from its wire representation. Submessages
// with an unknown identifier are skipped.
func Decode(data []byte) (*Message, error) {
	r := wire.NewReader(data)
	if r.Remaining() < HeaderLength {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}

	id, _ := r.Bytes(4)
	if [4]byte(id) != protocolId {
		return nil, fmt.Errorf("%w: invalid protocol id %q", ErrMalformed, id)
	}

	m := &Message{}
	m.Header.Version.Major, _ = r.Uint8()
	m.Header.Version.Minor, _ = r.Uint8()
	if m.Header.Version.Major != ProtocolVersion23.Major {
		return nil, fmt.Errorf("%w: unsupported version %d.%d", ErrMalformed, m.Header.Version.Major, m.Header.Version.Minor)
	}
	vendor, _ := r.Bytes(2)
	copy(m.Header.Vendor[:], vendor)
	prefix, _ := r.Bytes(types.GuidPrefixLength)
	copy(m.Header.GuidPrefix[:], prefix)

	for r.Remaining() >= SubmessageHeaderLength {
		kind, _ := r.Uint8()
		f, _ := r.Uint8()
		if f&flagEndianness != 0 {
			r.SetOrder(binary.LittleEndian)
		} else {
			r.SetOrder(binary.BigEndian)
		}
		octets, _ := r.Uint16()

		length := int(octets)
		if length == 0 && Kind(kind) != KindPad && Kind(kind) != KindInfoTimestamp {
			length = r.Remaining()
		}
		body, err := r.Bytes(length)
		if err != nil {
			return nil, fmt.Errorf("%w: submessage %v: %v", ErrMalformed, Kind(kind), err)
		}

		br := wire.NewReader(body)
		if f&flagEndianness != 0 {
			br.SetOrder(binary.LittleEndian)
		} else {
			br.SetOrder(binary.BigEndian)
		}

		var s Submessage
		switch Kind(kind) {
		case KindData:
			s, err = decodeData(br, f)
		case KindDataFrag:
			s, err = decodeDataFrag(br, f)
		case KindHeartbeat:
			s, err = decodeHeartbeat(br, f)
		case KindAckNack:
			s, err = decodeAckNack(br, f)
		case KindGap:
			s, err = decodeGap(br)
		case KindInfoTimestamp:
			s, err = decodeInfoTimestamp(br, f)
		case KindInfoDestination:
			s, err = decodeInfoDestination(br)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: submessage %v: %v", ErrMalformed, Kind(kind), err)
		}
		m.Submessages = append(m.Submessages, s)
	}
	return m, nil
}

func decodeData(r *wire.Reader, f uint8) (*Data, error) {
	d := &Data{Key: f&flagDataKey != 0}
	if err := r.Skip(2); err != nil {
		return nil, err
	}
	toInlineQos, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	if d.ReaderId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if d.WriterId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if d.WriterSN, err = readSequenceNumber(r); err != nil {
		return nil, err
	}
	if err = r.Skip(int(toInlineQos) - dataOctetsToInlineQos); err != nil {
		return nil, err
	}
	if f&flagDataInlineQos != 0 {
		if d.InlineQos, err = decodeParameterList(r); err != nil {
			return nil, err
		}
	}
	if f&(flagDataData|flagDataKey) != 0 {
		padding := 0
		if d.PayloadHeader, padding, err = readPayloadHeader(r); err != nil {
			return nil, err
		}
		size := r.Remaining() - padding
		if size < 0 {
			return nil, fmt.Errorf("padding %d larger than payload", padding)
		}
		payload, _ := r.Bytes(size)
		d.Payload = append([]byte{}, payload...)
	}
	return d, nil
}

func decodeDataFrag(r *wire.Reader, f uint8) (*DataFrag, error) {
	d := &DataFrag{Key: f&flagDataFragKey != 0}
	if err := r.Skip(2); err != nil {
		return nil, err
	}
	toInlineQos, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	if d.ReaderId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if d.WriterId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if d.WriterSN, err = readSequenceNumber(r); err != nil {
		return nil, err
	}
	if d.FragmentStartingNum, err = r.Uint32(); err != nil {
		return nil, err
	}
	if d.FragmentsInSubmessage, err = r.Uint16(); err != nil {
		return nil, err
	}
	if d.FragmentSize, err = r.Uint16(); err != nil {
		return nil, err
	}
	if d.SampleSize, err = r.Uint32(); err != nil {
		return nil, err
	}
	if err = r.Skip(int(toInlineQos) - dataFragOctetsToInlineQos); err != nil {
		return nil, err
	}
	if d.FragmentStartingNum == 0 || d.FragmentSize == 0 {
		return nil, fmt.Errorf("invalid fragment %d of size %d", d.FragmentStartingNum, d.FragmentSize)
	}
	if f&flagDataFragInlineQos != 0 {
		if d.InlineQos, err = decodeParameterList(r); err != nil {
			return nil, err
		}
	}
	if d.FragmentStartingNum == 1 {
		if d.PayloadHeader, _, err = readPayloadHeader(r); err != nil {
			return nil, err
		}
	}

	offset := uint64(d.FragmentStartingNum-1) * uint64(d.FragmentSize)
	if offset >= uint64(d.SampleSize) {
		return nil, fmt.Errorf("fragment %d outside sample of %d bytes", d.FragmentStartingNum, d.SampleSize)
	}
	size := uint64(d.FragmentsInSubmessage) * uint64(d.FragmentSize)
	if rest := uint64(d.SampleSize) - offset; rest < size {
		size = rest
	}
	data, err := r.Bytes(int(size))
	if err != nil {
		return nil, err
	}
	d.Data = append([]byte{}, data...)
	return d, nil
}

func decodeHeartbeat(r *wire.Reader, f uint8) (*Heartbeat, error) {
	h := &Heartbeat{
		Final:      f&flagHeartbeatFinal != 0,
		Liveliness: f&flagHeartbeatLiveliness != 0,
	}
	var err error
	if h.ReaderId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if h.WriterId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if h.FirstSN, err = readSequenceNumber(r); err != nil {
		return nil, err
	}
	if h.LastSN, err = readSequenceNumber(r); err != nil {
		return nil, err
	}
	if h.Count, err = r.Int32(); err != nil {
		return nil, err
	}
	return h, nil
}

func decodeAckNack(r *wire.Reader, f uint8) (*AckNack, error) {
	a := &AckNack{Final: f&flagAckNackFinal != 0}
	var err error
	if a.ReaderId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if a.WriterId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if a.ReaderSNState, err = readSequenceNumberSet(r); err != nil {
		return nil, err
	}
	if a.Count, err = r.Int32(); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeGap(r *wire.Reader) (*Gap, error) {
	g := &Gap{}
	var err error
	if g.ReaderId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if g.WriterId, err = readEntityId(r); err != nil {
		return nil, err
	}
	if g.GapStart, err = readSequenceNumber(r); err != nil {
		return nil, err
	}
	if g.GapList, err = readSequenceNumberSet(r); err != nil {
		return nil, err
	}
	return g, nil
}

func decodeInfoTimestamp(r *wire.Reader, f uint8) (*InfoTimestamp, error) {
	ts := &InfoTimestamp{Invalidate: f&flagInfoTimestampInvalidate != 0}
	if ts.Invalidate {
		return ts, nil
	}
	var err error
	if ts.Timestamp.Seconds, err = r.Int32(); err != nil {
		return nil, err
	}
	if ts.Timestamp.Fraction, err = r.Uint32(); err != nil {
		return nil, err
	}
	return ts, nil
}

func decodeInfoDestination(r *wire.Reader) (*InfoDestination, error) {
	prefix, err := r.Bytes(types.GuidPrefixLength)
	if err != nil {
		return nil, err
	}
	d := &InfoDestination{}
	copy(d.GuidPrefix[:], prefix)
	return d, nil
}

func readPayloadHeader(r *wire.Reader) (PayloadHeader, int, error) {
	var h PayloadHeader
	var err error
	if h.Representation, err = r.Uint16BE(); err != nil {
		return h, 0, err
	}
	if h.Options, err = r.Uint16BE(); err != nil {
		return h, 0, err
	}
	padding := int(h.Options & 0x3)
	h.Options &^= 0x3
	return h, padding, nil
}

func readEntityId(r *wire.Reader) (types.EntityId, error) {
	data, err := r.Bytes(4)
	if err != nil {
		return types.EntityIdUnknown, err
	}
	return types.EntityId{Key: [3]byte{data[0], data[1], data[2]}, Kind: types.EntityKind(data[3])}, nil
}

func readSequenceNumber(r *wire.Reader) (types.SequenceNumber, error) {
	high, err := r.Int32()
	if err != nil {
		return 0, err
	}
	low, err := r.Uint32()
	if err != nil {
		return 0, err
	}
	return types.SequenceNumberFromParts(high, low), nil
}

func readSequenceNumberSet(r *wire.Reader) (SequenceNumberSet, error) {
	var s SequenceNumberSet
	var err error
	if s.Base, err = readSequenceNumber(r); err != nil {
		return s, err
	}
	if s.NumBits, err = r.Uint32(); err != nil {
		return s, err
	}
	if s.NumBits > MaxSetBits {
		return s, fmt.Errorf("set with %d bits", s.NumBits)
	}
	words := int((s.NumBits + 31) / 32)
	if words == 0 {
		return s, nil
	}
	s.Bitmap = make([]uint32, words)
	for i := 0; i < words; i++ {
		if s.Bitmap[i], err = r.Uint32(); err != nil {
			return s, err
		}
	}
	return s, nil
}
