package core

import (
	"context"

	"github.com/jabolina/go-rtps/pkg/rtps/concurrent"
	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/metrics"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Byte level boundary with the network. Implementations are
// best-effort, a failed send is recovered by the protocol.
type Sink interface {
	Send(locator types.Locator, data []byte) error
}

// Collaborators used to create a writer or a reader.
type EntityConfiguration struct {
	// Identity of the entity.
	Guid types.Guid

	// Configuration of the owning participant.
	Configuration *types.Configuration

	// Where encoded messages are sent.
	Sink Sink

	// Instrumentation shared by the participant.
	Metrics *metrics.Metrics
}

// Dedicated asynchronous path used to send messages. Sends are
// executed in order on the path own goroutine so the caller
// never blocks on network I/O.
type sendPath struct {
	scheduler concurrent.Scheduler
	sink      Sink
	log       types.Logger
	metrics   *metrics.Metrics
}

func newSendPath(sink Sink, log types.Logger, m *metrics.Metrics) *sendPath {
	return &sendPath{
		scheduler: concurrent.NewScheduler(),
		sink:      sink,
		log:       log,
		metrics:   m,
	}
}

// Schedule the messages to every locator. Returns `false` when
// the path is already closed.
func (s *sendPath) send(locators []types.Locator, messages ...*message.Message) bool {
	if len(messages) == 0 || len(locators) == 0 {
		return true
	}
	return s.scheduler.Schedule(func(ctx context.Context) {
		for _, m := range messages {
			if ctx.Err() != nil {
				return
			}
			data, err := message.Encode(m)
			if err != nil {
				s.log.Errorf("failed encoding message. %v", err)
				continue
			}
			for _, locator := range locators {
				if err := s.sink.Send(locator, data); err != nil {
					s.metrics.SendErrors.Inc()
					s.log.Warnf("failed sending %d bytes to %s. %v", len(data), locator, err)
				}
			}
		}
	})
}

// Wait until every scheduled send finished.
func (s *sendPath) flush() {
	s.scheduler.Wait(0)
}

func (s *sendPath) close() {
	s.scheduler.Stop()
}
