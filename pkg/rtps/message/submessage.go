package message

import (
	"fmt"
	"time"

	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Submessage identifier, as defined by the protocol.
type Kind uint8

const (
	KindPad             Kind = 0x01
	KindAckNack         Kind = 0x06
	KindHeartbeat       Kind = 0x07
	KindGap             Kind = 0x08
	KindInfoTimestamp   Kind = 0x09
	KindInfoSource      Kind = 0x0c
	KindInfoReplyIp4    Kind = 0x0d
	KindInfoDestination Kind = 0x0e
	KindInfoReply       Kind = 0x0f
	KindNackFrag        Kind = 0x12
	KindHeartbeatFrag   Kind = 0x13
	KindData            Kind = 0x15
	KindDataFrag        Kind = 0x16
)

func (k Kind) String() string {
	switch k {
	case KindPad:
		return "PAD"
	case KindAckNack:
		return "ACKNACK"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindGap:
		return "GAP"
	case KindInfoTimestamp:
		return "INFO_TS"
	case KindInfoSource:
		return "INFO_SRC"
	case KindInfoReplyIp4:
		return "INFO_REPLY_IP4"
	case KindInfoDestination:
		return "INFO_DST"
	case KindInfoReply:
		return "INFO_REPLY"
	case KindNackFrag:
		return "NACK_FRAG"
	case KindHeartbeatFrag:
		return "HEARTBEAT_FRAG"
	case KindData:
		return "DATA"
	case KindDataFrag:
		return "DATA_FRAG"
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(k))
}

// Flag bits carried on the submessage header.
const (
	flagEndianness = 0x01

	flagDataInlineQos = 0x02
	flagDataData      = 0x04
	flagDataKey       = 0x08

	flagDataFragInlineQos = 0x02
	flagDataFragKey       = 0x04

	flagHeartbeatFinal      = 0x02
	flagHeartbeatLiveliness = 0x04

	flagAckNackFinal = 0x02

	flagInfoTimestampInvalidate = 0x02
)

// One element of a message. The set of implementations is closed,
// every dispatch site switches over the concrete types.
type Submessage interface {
	Kind() Kind

	submessage()
}

// Representation of the serialized payload.
const (
	RepresentationCdrBE uint16 = 0x0000
	RepresentationCdrLE uint16 = 0x0001
)

// Encapsulation header preceding every serialized payload.
type PayloadHeader struct {
	Representation uint16

	// The two least significant bits count the padding
	// added after the payload.
	Options uint16
}

// Header used for payloads produced by local writers.
var DefaultPayloadHeader = PayloadHeader{Representation: RepresentationCdrLE}

// Carries one complete sample.
type Data struct {
	ReaderId types.EntityId
	WriterId types.EntityId
	WriterSN types.SequenceNumber

	// Optional inline QoS, nil when absent.
	InlineQos ParameterList

	// Header of the serialized payload, ignored when Payload is nil.
	PayloadHeader PayloadHeader

	// Sample bytes. Nil when the submessage only signals a dispose.
	Payload []byte

	// The payload carries the key instead of the data.
	Key bool
}

// Carries one or more fragments of a sample.
type DataFrag struct {
	ReaderId types.EntityId
	WriterId types.EntityId
	WriterSN types.SequenceNumber

	// Index of the first fragment carried, starts at 1.
	FragmentStartingNum uint32

	// How many consecutive fragments are carried.
	FragmentsInSubmessage uint16

	// Size of every fragment except the last one.
	FragmentSize uint16

	// Total size of the sample.
	SampleSize uint32

	// Optional inline QoS, only carried by the first fragment.
	InlineQos ParameterList

	// Encapsulation header, only written on the first fragment.
	PayloadHeader PayloadHeader

	// Fragment bytes.
	Data []byte

	Key bool
}

// Announces the range of changes available on a writer.
type Heartbeat struct {
	ReaderId types.EntityId
	WriterId types.EntityId
	FirstSN  types.SequenceNumber
	LastSN   types.SequenceNumber
	Count    int32

	// The reader is not required to answer.
	Final bool

	Liveliness bool
}

// A heartbeat is valid when FirstSN is positive and LastSN is not
// below FirstSN-1. An empty writer announces LastSN = FirstSN-1.
func (h *Heartbeat) IsValid() bool {
	return h.FirstSN > 0 && h.LastSN >= h.FirstSN-1
}

// Reports received and missing changes to a writer.
type AckNack struct {
	ReaderId      types.EntityId
	WriterId      types.EntityId
	ReaderSNState SequenceNumberSet
	Count         int32
	Final         bool
}

// Notifies a reader that a range of changes is not relevant
// anymore. Covers [GapStart, GapList.Base) and the GapList members.
type Gap struct {
	ReaderId types.EntityId
	WriterId types.EntityId
	GapStart types.SequenceNumber
	GapList  SequenceNumberSet
}

// A gap is valid when GapStart is positive and the list does not
// start before it.
func (g *Gap) IsValid() bool {
	return g.GapStart > 0 && g.GapList.Base >= g.GapStart
}

// Returns every sequence number covered by the gap.
func (g *Gap) Sequences() []types.SequenceNumber {
	var seqs []types.SequenceNumber
	for s := g.GapStart; s < g.GapList.Base; s++ {
		seqs = append(seqs, s)
	}
	return append(seqs, g.GapList.Sequences()...)
}

// Source timestamp applied to the following submessages.
type InfoTimestamp struct {
	Timestamp Time

	// Following submessages have no timestamp.
	Invalidate bool
}

// Destination of the following submessages.
type InfoDestination struct {
	GuidPrefix types.GuidPrefix
}

func (*Data) Kind() Kind            { return KindData }
func (*DataFrag) Kind() Kind        { return KindDataFrag }
func (*Heartbeat) Kind() Kind       { return KindHeartbeat }
func (*AckNack) Kind() Kind         { return KindAckNack }
func (*Gap) Kind() Kind             { return KindGap }
func (*InfoTimestamp) Kind() Kind   { return KindInfoTimestamp }
func (*InfoDestination) Kind() Kind { return KindInfoDestination }

func (*Data) submessage()            {}
func (*DataFrag) submessage()        {}
func (*Heartbeat) submessage()       {}
func (*AckNack) submessage()         {}
func (*Gap) submessage()             {}
func (*InfoTimestamp) submessage()   {}
func (*InfoDestination) submessage() {}

// Protocol time, seconds and fractions of second since the epoch.
type Time struct {
	Seconds  int32
	Fraction uint32
}

func NewTime(t time.Time) Time {
	nanos := uint64(t.Nanosecond())
	return Time{
		Seconds:  int32(t.Unix()),
		Fraction: uint32((nanos << 32) / uint64(time.Second)),
	}
}

func (t Time) Time() time.Time {
	nanos := (uint64(t.Fraction) * uint64(time.Second)) >> 32
	return time.Unix(int64(t.Seconds), int64(nanos))
}
