package core

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jabolina/go-rtps/pkg/rtps/fragment"
	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Destination of the built messages.
type Target struct {
	// Participant of the reader, unknown when the messages are
	// meant for any participant.
	GuidPrefix types.GuidPrefix

	// Reader addressed by the submessages.
	ReaderId types.EntityId
}

// Packs changes into as few messages as possible. Every message
// starts with an InfoDestination when the target participant is
// known, and an InfoTimestamp precedes each group of changes
// sharing the same source timestamp. Changes that do not fit in
// a single message are split into fragments, one per message.
type DataMessageBuilder struct {
	// Participant sending the messages.
	sender types.GuidPrefix

	// Maximum size of a message.
	packetSize int

	// Maximum size of a submessage once the message header and
	// the preamble are accounted.
	maxSubmessageSize int

	clock clock.Clock
}

func NewDataMessageBuilder(sender types.GuidPrefix, packetSize, maxSubmessageSize int, clk clock.Clock) *DataMessageBuilder {
	return &DataMessageBuilder{
		sender:            sender,
		packetSize:        packetSize,
		maxSubmessageSize: maxSubmessageSize,
		clock:             clk,
	}
}

// State of the message being built.
type packing struct {
	builder    *DataMessageBuilder
	target     Target
	aggregator *message.Aggregator
	messages   []*message.Message

	// Number of submessages added by the preamble.
	preamble int

	// Timestamp in effect for the next submessages.
	timestamp *message.Time
}

func (p *packing) start() {
	p.preamble = 0
	p.timestamp = nil
	if !p.target.GuidPrefix.IsUnknown() && p.target.GuidPrefix != p.builder.sender {
		p.aggregator.Add(&message.InfoDestination{GuidPrefix: p.target.GuidPrefix})
		p.preamble++
	}
}

func (p *packing) flush() {
	if p.aggregator.Len() > p.preamble {
		p.messages = append(p.messages, p.aggregator.Build())
	}
	p.aggregator.Reset()
	p.start()
}

// Adds every submessage or none of them.
func (p *packing) addAll(submessages ...message.Submessage) bool {
	size := p.aggregator.Size()
	for _, s := range submessages {
		size += message.Length(s)
	}
	if size > p.builder.packetSize {
		return false
	}
	for _, s := range submessages {
		p.aggregator.Add(s)
	}
	return true
}

// Adds the submessages preceded by the timestamp when it differs
// from the current one, opening a new message if needed.
func (p *packing) add(ts *message.Time, submessages ...message.Submessage) error {
	for attempt := 0; attempt < 2; attempt++ {
		all := submessages
		if ts != nil && (p.timestamp == nil || *p.timestamp != *ts) {
			all = append([]message.Submessage{&message.InfoTimestamp{Timestamp: *ts}}, submessages...)
		}
		if p.addAll(all...) {
			if ts != nil {
				p.timestamp = ts
			}
			return nil
		}
		if p.aggregator.Len() == p.preamble {
			break
		}
		p.flush()
	}
	size := 0
	for _, s := range submessages {
		size += message.Length(s)
	}
	return fmt.Errorf("submessages of %d bytes do not fit in a message of %d bytes", size, p.builder.packetSize)
}

// Build the messages carrying the changes of the writer to the
// target, followed by the extra submessages.
func (b *DataMessageBuilder) Build(
	target Target,
	writerId types.EntityId,
	changes []types.CacheChange,
	extra ...message.Submessage,
) ([]*message.Message, error) {
	p := &packing{
		builder:    b,
		target:     target,
		aggregator: message.NewAggregator(b.sender, b.packetSize),
	}
	p.start()

	for _, change := range changes {
		ts := b.timestamp(change.Timestamp)
		data := &message.Data{
			ReaderId:      target.ReaderId,
			WriterId:      writerId,
			WriterSN:      change.SequenceNumber,
			PayloadHeader: message.DefaultPayloadHeader,
			Payload:       change.Payload,
		}
		if err := p.add(ts, data); err == nil {
			continue
		}

		splitter, err := fragment.NewSplitter(writerId, target.ReaderId, change.SequenceNumber, nil, change.Payload, b.maxSubmessageSize)
		if err != nil {
			return nil, err
		}
		for frag, ok := splitter.Next(); ok; frag, ok = splitter.Next() {
			p.flush()
			if err := p.add(ts, frag); err != nil {
				return nil, err
			}
		}
		p.flush()
	}

	for _, s := range extra {
		if err := p.add(nil, s); err != nil {
			return nil, err
		}
	}
	p.flush()
	return p.messages, nil
}

func (b *DataMessageBuilder) timestamp(t time.Time) *message.Time {
	if t.IsZero() {
		t = b.clock.Now()
	}
	ts := message.NewTime(t)
	return &ts
}
