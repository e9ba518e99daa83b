package message

import "github.com/jabolina/go-rtps/pkg/rtps/types"

// Accumulates submessages while they fit in a single message.
// Not safe for concurrent use, every send path owns its own.
type Aggregator struct {
	// Sender of the built messages.
	sender types.GuidPrefix

	// Maximum size of the built message, header included.
	maxSize int

	// Size of the accumulated submessages.
	size int

	// Accumulated submessages, in insertion order.
	submessages []Submessage
}

func NewAggregator(sender types.GuidPrefix, maxSize int) *Aggregator {
	return &Aggregator{
		sender:  sender,
		maxSize: maxSize,
	}
}

// Add the submessage if the resulting message still fits.
// Returns false and keeps the state untouched otherwise.
func (a *Aggregator) Add(s Submessage) bool {
	length := Length(s)
	if HeaderLength+a.size+length > a.maxSize {
		return false
	}
	a.size += length
	a.submessages = append(a.submessages, s)
	return true
}

// Number of accumulated submessages.
func (a *Aggregator) Len() int {
	return len(a.submessages)
}

// Size of the message if built now.
func (a *Aggregator) Size() int {
	return HeaderLength + a.size
}

func (a *Aggregator) Reset() {
	a.size = 0
	a.submessages = nil
}

// Build the message with everything accumulated and reset the
// aggregator. Returns nil when nothing was added.
func (a *Aggregator) Build() *Message {
	if len(a.submessages) == 0 {
		return nil
	}
	m := NewMessage(a.sender, a.submessages...)
	a.Reset()
	return m
}
