package types

// Sequence number assigned by a writer to each change. The
// first change written is 1.
type SequenceNumber int64

const (
	// No change sent yet.
	SequenceNumberMin SequenceNumber = 0

	// Sentinel used on the wire when the value is not known.
	SequenceNumberUnknown SequenceNumber = -1 << 32
)

// Splits the sequence number into the wire representation.
func (s SequenceNumber) Parts() (high int32, low uint32) {
	return int32(int64(s) >> 32), uint32(int64(s))
}

// Builds a sequence number from the wire representation.
func SequenceNumberFromParts(high int32, low uint32) SequenceNumber {
	return SequenceNumber(int64(high)<<32 | int64(low))
}
