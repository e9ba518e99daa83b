package core

import (
	"time"

	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/metrics"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Inbound demultiplexer of a participant. Every received message
// is decoded and its submessages routed by kind and entity id to
// the local writers and readers.
type Receiver struct {
	prefix   types.GuidPrefix
	registry *Registry
	log      types.Logger
	metrics  *metrics.Metrics
}

func NewReceiver(prefix types.GuidPrefix, registry *Registry, log types.Logger, m *metrics.Metrics) *Receiver {
	return &Receiver{
		prefix:   prefix,
		registry: registry,
		log:      log,
		metrics:  m,
	}
}

// Decode and dispatch a datagram. Malformed datagrams are dropped.
func (r *Receiver) Receive(data []byte) {
	m, err := message.Decode(data)
	if err != nil {
		r.metrics.DecodeErrors.Inc()
		r.log.Debugf("dropping datagram of %d bytes. %v", len(data), err)
		return
	}
	r.Dispatch(m)
}

// State carried between the submessages of one message.
type receiveState struct {
	source      types.GuidPrefix
	destination types.GuidPrefix
	timestamp   time.Time
}

// Route every submessage of the message.
func (r *Receiver) Dispatch(m *message.Message) {
	state := receiveState{
		source:      m.Header.GuidPrefix,
		destination: r.prefix,
	}
	for _, s := range m.Submessages {
		switch sub := s.(type) {
		case *message.InfoDestination:
			state.destination = sub.GuidPrefix
			if state.destination.IsUnknown() {
				state.destination = r.prefix
			}
		case *message.InfoTimestamp:
			if sub.Invalidate {
				state.timestamp = time.Time{}
			} else {
				state.timestamp = sub.Timestamp.Time()
			}
		case *message.AckNack:
			if state.destination != r.prefix {
				continue
			}
			if w, ok := r.registry.Writer(sub.WriterId); ok {
				w.OnAckNack(state.source, sub)
			}
		case *message.Data:
			for _, rd := range r.readersFor(state, sub.ReaderId, sub.WriterId) {
				rd.OnData(state.source, sub, state.timestamp)
			}
		case *message.DataFrag:
			for _, rd := range r.readersFor(state, sub.ReaderId, sub.WriterId) {
				rd.OnDataFrag(state.source, sub, state.timestamp)
			}
		case *message.Heartbeat:
			for _, rd := range r.readersFor(state, sub.ReaderId, sub.WriterId) {
				rd.OnHeartbeat(state.source, sub)
			}
		case *message.Gap:
			for _, rd := range r.readersFor(state, sub.ReaderId, sub.WriterId) {
				rd.OnGap(state.source, sub)
			}
		}
	}
}

// The readers addressed by a writer submessage. An unknown reader
// id addresses every reader matched with the writer.
func (r *Receiver) readersFor(state receiveState, readerId, writerId types.EntityId) []ReaderEndpoint {
	if state.destination != r.prefix {
		return nil
	}
	if !readerId.IsUnknown() {
		if rd, ok := r.registry.Reader(readerId); ok {
			return []ReaderEndpoint{rd}
		}
		return nil
	}

	writer := types.NewGuid(state.source, writerId)
	var readers []ReaderEndpoint
	for _, rd := range r.registry.Readers() {
		if rd.IsMatched(writer) {
			readers = append(readers, rd)
		}
	}
	return readers
}
