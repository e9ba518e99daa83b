package fragment

import (
	"errors"
	"fmt"

	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

var (
	ErrMisalignedSubmessageSize = errors.New("submessage size must be aligned on 32-bit boundary")
	ErrFragmentSizeTooSmall     = errors.New("fragment size too small")
)

// Largest fragment size representable on the wire, aligned.
const maxFragmentSize = 0xffff &^ 0x3

// Splits a sample into DataFrag submessages that fit in the given
// submessage size. Fragments are produced on demand and the
// splitter can be consumed only once.
type Splitter struct {
	writerId  types.EntityId
	readerId  types.EntityId
	seq       types.SequenceNumber
	inlineQos message.ParameterList
	payload   []byte

	// Size of every fragment but the last.
	fragmentSize int

	// Number of fragments.
	count int

	// Index of the next fragment, starts at 1.
	next int
}

// Creates a splitter for the sample. The inline QoS is carried
// only by the first fragment but its size is reserved on every
// fragment, so all fragments share the same fragment size.
func NewSplitter(
	writerId, readerId types.EntityId,
	seq types.SequenceNumber,
	inlineQos message.ParameterList,
	payload []byte,
	maxSubmessageSize int,
) (*Splitter, error) {
	if maxSubmessageSize%4 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrMisalignedSubmessageSize, maxSubmessageSize)
	}

	overhead := message.DataFragFixedLength + message.SerializedPayloadHeaderLength + inlineQos.Length()
	size := maxSubmessageSize - overhead
	if size <= 0 {
		return nil, fmt.Errorf("%w: computed %d bytes, must be greater than 0, submessage size %d must exceed %d",
			ErrFragmentSizeTooSmall, size, maxSubmessageSize, overhead)
	}
	if size > maxFragmentSize {
		size = maxFragmentSize
	}

	return &Splitter{
		writerId:     writerId,
		readerId:     readerId,
		seq:          seq,
		inlineQos:    inlineQos,
		payload:      payload,
		fragmentSize: size,
		count:        (len(payload) + size - 1) / size,
		next:         1,
	}, nil
}

func (s *Splitter) FragmentSize() int {
	return s.fragmentSize
}

// Number of fragments produced in total.
func (s *Splitter) Count() int {
	return s.count
}

// Produce the next fragment. Returns `false` once every fragment
// was produced.
func (s *Splitter) Next() (*message.DataFrag, bool) {
	if s.next > s.count {
		return nil, false
	}
	start := (s.next - 1) * s.fragmentSize
	end := start + s.fragmentSize
	if end > len(s.payload) {
		end = len(s.payload)
	}

	frag := &message.DataFrag{
		ReaderId:              s.readerId,
		WriterId:              s.writerId,
		WriterSN:              s.seq,
		FragmentStartingNum:   uint32(s.next),
		FragmentsInSubmessage: 1,
		FragmentSize:          uint16(s.fragmentSize),
		SampleSize:            uint32(len(s.payload)),
		Data:                  s.payload[start:end],
	}
	if s.next == 1 {
		frag.InlineQos = s.inlineQos
		frag.PayloadHeader = message.DefaultPayloadHeader
	}
	s.next++
	return frag, true
}
