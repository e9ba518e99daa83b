package types

import "time"

// One immutable unit of data written by a writer.
type CacheChange struct {
	// Writer that produced the change.
	WriterGuid Guid

	// Sequence number assigned by the writer.
	SequenceNumber SequenceNumber

	// Serialized sample, nil represents a dispose marker.
	Payload []byte

	// Source timestamp, zero if unknown.
	Timestamp time.Time
}
