package message

import (
	"github.com/jabolina/go-rtps/internal/wire"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Version of the protocol implemented.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
}

var ProtocolVersion23 = ProtocolVersion{Major: 2, Minor: 3}

// Header present at the beginning of every message.
type Header struct {
	Version    ProtocolVersion
	Vendor     types.VendorId
	GuidPrefix types.GuidPrefix
}

// A message sent over the transport. Built once per send and
// never modified after built.
type Message struct {
	Header      Header
	Submessages []Submessage
}

// Creates a message sent by the participant with the given prefix.
func NewMessage(sender types.GuidPrefix, submessages ...Submessage) *Message {
	return &Message{
		Header: Header{
			Version:    ProtocolVersion23,
			Vendor:     types.VendorIdDefault,
			GuidPrefix: sender,
		},
		Submessages: submessages,
	}
}

// Encoded size of the whole message.
func (m *Message) Length() int {
	size := HeaderLength
	for _, s := range m.Submessages {
		size += Length(s)
	}
	return size
}

// Fixed sizes, in bytes, of the wire layout.
const (
	HeaderLength           = 20
	SubmessageHeaderLength = 4

	// extraFlags, octetsToInlineQos, readerId, writerId, writerSN.
	DataFixedLength = SubmessageHeaderLength + 2 + 2 + 4 + 4 + 8

	// DataFixedLength plus fragmentStartingNum, fragmentsInSubmessage,
	// fragmentSize and sampleSize.
	DataFragFixedLength = DataFixedLength + 4 + 2 + 2 + 4

	SerializedPayloadHeaderLength = 4

	HeartbeatLength       = SubmessageHeaderLength + 4 + 4 + 8 + 8 + 4
	InfoTimestampLength   = SubmessageHeaderLength + 8
	InfoDestinationLength = SubmessageHeaderLength + types.GuidPrefixLength
)

// Encoded size of the submessage, header and padding included.
func Length(s Submessage) int {
	switch v := s.(type) {
	case *Data:
		size := DataFixedLength + v.InlineQos.Length()
		if v.Payload != nil {
			size += SerializedPayloadHeaderLength + len(v.Payload) + wire.Padding(len(v.Payload))
		}
		return size
	case *DataFrag:
		size := DataFragFixedLength + v.InlineQos.Length() + len(v.Data) + wire.Padding(len(v.Data))
		if v.FragmentStartingNum == 1 {
			size += SerializedPayloadHeaderLength
		}
		return size
	case *Heartbeat:
		return HeartbeatLength
	case *AckNack:
		return SubmessageHeaderLength + 8 + v.ReaderSNState.length() + 4
	case *Gap:
		return SubmessageHeaderLength + 8 + 8 + v.GapList.length()
	case *InfoTimestamp:
		if v.Invalidate {
			return SubmessageHeaderLength
		}
		return InfoTimestampLength
	case *InfoDestination:
		return InfoDestinationLength
	}
	return 0
}
