package core

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jabolina/go-rtps/pkg/rtps/logging"
	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/metrics"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

var (
	localPrefix  = types.GuidPrefix{0x01, 0x0f, 0x01}
	remotePrefix = types.GuidPrefix{0x01, 0x0f, 0x02}

	localWriter  = types.NewGuid(localPrefix, types.NewEntityId(1, types.EntityKindUserWriterNoKey))
	localReader  = types.NewGuid(localPrefix, types.NewEntityId(2, types.EntityKindUserReaderNoKey))
	remoteWriter = types.NewGuid(remotePrefix, types.NewEntityId(1, types.EntityKindUserWriterNoKey))
	remoteReader = types.NewGuid(remotePrefix, types.NewEntityId(2, types.EntityKindUserReaderNoKey))

	remoteLocators = []types.Locator{types.NewUDPv4Locator(net.IPv4(127, 0, 0, 1), 7412)}
)

type sent struct {
	locator types.Locator
	message *message.Message
}

// Sink decoding and keeping every message sent.
type recordingSink struct {
	mutex    sync.Mutex
	messages []sent
}

func (s *recordingSink) Send(locator types.Locator, data []byte) error {
	m, err := message.Decode(data)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messages = append(s.messages, sent{locator: locator, message: m})
	return nil
}

func (s *recordingSink) Messages() []*message.Message {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var messages []*message.Message
	for _, m := range s.messages {
		messages = append(messages, m.message)
	}
	return messages
}

func (s *recordingSink) Submessages() []message.Submessage {
	var submessages []message.Submessage
	for _, m := range s.Messages() {
		submessages = append(submessages, m.Submessages...)
	}
	return submessages
}

func (s *recordingSink) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messages = nil
}

func heartbeats(s *recordingSink) []*message.Heartbeat {
	var hbs []*message.Heartbeat
	for _, sub := range s.Submessages() {
		if hb, ok := sub.(*message.Heartbeat); ok {
			hbs = append(hbs, hb)
		}
	}
	return hbs
}

func ackNacks(s *recordingSink) []*message.AckNack {
	var acks []*message.AckNack
	for _, sub := range s.Submessages() {
		if a, ok := sub.(*message.AckNack); ok {
			acks = append(acks, a)
		}
	}
	return acks
}

func dataSequences(s *recordingSink) []types.SequenceNumber {
	var seqs []types.SequenceNumber
	for _, sub := range s.Submessages() {
		if d, ok := sub.(*message.Data); ok {
			seqs = append(seqs, d.WriterSN)
		}
	}
	return seqs
}

func testConfiguration(clk clock.Clock) *types.Configuration {
	return &types.Configuration{
		GuidPrefix:          localPrefix,
		PacketBufferSize:    types.DefaultPacketBufferSize,
		HeartbeatPeriod:     100 * time.Millisecond,
		HistoryCacheMaxSize: 7,
		Reliability:         types.Reliable,
		FragmentTimeout:     time.Second,
		Logger:              logging.NewDefaultLogger(),
		Clock:               clk,
	}
}

func newTestWriter(t *testing.T, cfg *types.Configuration, sink Sink) *StatefulWriter {
	w, err := NewStatefulWriter(EntityConfiguration{
		Guid:          localWriter,
		Configuration: cfg,
		Sink:          sink,
		Metrics:       metrics.Discard(),
	})
	if err != nil {
		t.Fatalf("failed creating writer. %v", err)
	}
	return w
}

func newTestReader(t *testing.T, cfg *types.Configuration, sink Sink) *StatefulReader {
	r, err := NewStatefulReader(EntityConfiguration{
		Guid:          localReader,
		Configuration: cfg,
		Sink:          sink,
		Metrics:       metrics.Discard(),
	})
	if err != nil {
		t.Fatalf("failed creating reader. %v", err)
	}
	return r
}
