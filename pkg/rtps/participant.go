package rtps

import (
	"fmt"
	"sync"

	"github.com/jabolina/go-rtps/pkg/rtps/core"
	"github.com/jabolina/go-rtps/pkg/rtps/helper"
	"github.com/jabolina/go-rtps/pkg/rtps/logging"
	"github.com/jabolina/go-rtps/pkg/rtps/metrics"
	"github.com/jabolina/go-rtps/pkg/rtps/network"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"go.uber.org/multierr"
)

// Entry point of the protocol. A participant owns the transport
// and every writer and reader created through it. Remote entities
// are matched explicitly, the participant never discovers them.
type Participant interface {
	// Identity shared by every entity of the participant.
	GuidPrefix() types.GuidPrefix

	// Where the participant receives unicast messages.
	Locators() []types.Locator

	// Create a reliable writer with the given entity key.
	CreateWriter(key uint32) (Writer, error)

	// Create a reader with the given entity key, every received
	// change is delivered to the subscriber.
	CreateReader(key uint32, subscriber core.Subscriber) (Reader, error)

	// Close every entity and the transport.
	Close() error
}

// A local writer.
type Writer interface {
	Guid() types.Guid

	// Publish a sample, returns the assigned sequence number.
	Write(payload []byte) (types.SequenceNumber, error)

	// Start sending changes to a remote reader.
	MatchReader(guid types.Guid, locators []types.Locator, qos types.ReaderQos) error

	// Stop sending changes to a remote reader.
	UnmatchReader(guid types.Guid)

	Close() error
}

// A local reader.
type Reader interface {
	Guid() types.Guid

	// Start accepting changes from a remote writer.
	MatchWriter(guid types.Guid, locators []types.Locator) error

	// Stop accepting changes from a remote writer.
	UnmatchWriter(guid types.Guid)

	Close() error
}

// Implements the Participant interface.
type participant struct {
	// Synchronize the created entities.
	mutex *sync.Mutex

	configuration *types.Configuration
	transport     network.Transport
	registry      *core.Registry
	receiver      *core.Receiver
	metrics       *metrics.Metrics
	log           types.Logger

	// Spawns the receive loop.
	invoker helper.Invoker

	writers map[types.EntityId]*writer
	readers map[types.EntityId]*reader

	closed helper.Flag
}

// Creates a participant bound to the UDP address in the
// configuration.
func NewParticipant(cfg *types.Configuration) (Participant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport, err := network.NewUDPTransport(cfg)
	if err != nil {
		return nil, err
	}
	p, err := NewParticipantWithTransport(cfg, transport)
	if err != nil {
		return nil, multierr.Append(err, transport.Close())
	}
	return p, nil
}

// Creates a participant using the given transport. The participant
// owns the transport and closes it.
func NewParticipantWithTransport(cfg *types.Configuration, transport network.Transport) (Participant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GuidPrefix.IsUnknown() {
		cfg.GuidPrefix = types.NewGuidPrefix(types.VendorIdDefault)
	}

	m, err := metrics.NewMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed registering metrics: %w", err)
	}

	log := logging.With(cfg.Logger, "participant", cfg.GuidPrefix.String())
	registry := core.NewRegistry()
	p := &participant{
		mutex:         &sync.Mutex{},
		configuration: cfg,
		transport:     transport,
		registry:      registry,
		receiver:      core.NewReceiver(cfg.GuidPrefix, registry, log, m),
		metrics:       m,
		log:           log,
		invoker:       helper.NewInvoker(),
		writers:       make(map[types.EntityId]*writer),
		readers:       make(map[types.EntityId]*reader),
	}
	if err := p.invoker.Spawn(p.poll); err != nil {
		m.Unregister(cfg.Registerer)
		return nil, err
	}
	log.Infof("participant started at %v", transport.Locators())
	return p, nil
}

// Dispatch every received datagram until the transport closes.
func (p *participant) poll() {
	for packet := range p.transport.Listen() {
		p.receiver.Receive(packet.Data)
	}
}

// Implements the Participant interface.
func (p *participant) GuidPrefix() types.GuidPrefix {
	return p.configuration.GuidPrefix
}

// Implements the Participant interface.
func (p *participant) Locators() []types.Locator {
	return p.transport.Locators()
}

func (p *participant) entity() core.EntityConfiguration {
	return core.EntityConfiguration{
		Configuration: p.configuration,
		Sink:          p.transport,
		Metrics:       p.metrics,
	}
}

// Implements the Participant interface.
func (p *participant) CreateWriter(key uint32) (Writer, error) {
	if p.closed.IsClosed() {
		return nil, types.ErrClosed
	}

	ec := p.entity()
	ec.Guid = types.NewGuid(p.GuidPrefix(), types.NewEntityId(key, types.EntityKindUserWriterNoKey))
	sw, err := core.NewStatefulWriter(ec)
	if err != nil {
		return nil, err
	}
	if err := p.registry.AddWriter(sw); err != nil {
		return nil, multierr.Append(err, sw.Close())
	}

	w := &writer{StatefulWriter: sw, participant: p}
	p.mutex.Lock()
	p.writers[ec.Guid.EntityId] = w
	p.mutex.Unlock()
	return w, nil
}

// Implements the Participant interface.
func (p *participant) CreateReader(key uint32, subscriber core.Subscriber) (Reader, error) {
	if p.closed.IsClosed() {
		return nil, types.ErrClosed
	}

	ec := p.entity()
	ec.Guid = types.NewGuid(p.GuidPrefix(), types.NewEntityId(key, types.EntityKindUserReaderNoKey))
	sr, err := core.NewStatefulReader(ec)
	if err != nil {
		return nil, err
	}
	if subscriber != nil {
		sr.Subscribe(subscriber)
	}
	if err := p.registry.AddReader(sr); err != nil {
		return nil, multierr.Append(err, sr.Close())
	}

	r := &reader{StatefulReader: sr, participant: p}
	p.mutex.Lock()
	p.readers[ec.Guid.EntityId] = r
	p.mutex.Unlock()
	return r, nil
}

func (p *participant) forgetWriter(id types.EntityId) {
	p.registry.RemoveWriter(id)
	p.mutex.Lock()
	delete(p.writers, id)
	p.mutex.Unlock()
}

func (p *participant) forgetReader(id types.EntityId) {
	p.registry.RemoveReader(id)
	p.mutex.Lock()
	delete(p.readers, id)
	p.mutex.Unlock()
}

// Implements the Participant interface.
func (p *participant) Close() error {
	if !p.closed.Close() {
		return nil
	}

	p.mutex.Lock()
	writers := make([]*writer, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	readers := make([]*reader, 0, len(p.readers))
	for _, r := range p.readers {
		readers = append(readers, r)
	}
	p.mutex.Unlock()

	var err error
	for _, w := range writers {
		err = multierr.Append(err, w.Close())
	}
	for _, r := range readers {
		err = multierr.Append(err, r.Close())
	}
	err = multierr.Append(err, p.transport.Close())
	p.invoker.Stop()
	p.metrics.Unregister(p.configuration.Registerer)
	p.log.Infof("participant closed")
	return err
}

// Implements the Writer interface.
type writer struct {
	*core.StatefulWriter
	participant *participant
}

func (w *writer) Write(payload []byte) (types.SequenceNumber, error) {
	return w.NewChange(payload)
}

func (w *writer) MatchReader(guid types.Guid, locators []types.Locator, qos types.ReaderQos) error {
	return w.MatchedReaderAdd(guid, locators, qos)
}

func (w *writer) UnmatchReader(guid types.Guid) {
	w.MatchedReaderRemove(guid)
}

// Unregister and close the writer.
func (w *writer) Close() error {
	w.participant.forgetWriter(w.Guid().EntityId)
	return w.StatefulWriter.Close()
}

// Implements the Reader interface.
type reader struct {
	*core.StatefulReader
	participant *participant
}

func (r *reader) MatchWriter(guid types.Guid, locators []types.Locator) error {
	return r.MatchedWriterAdd(guid, locators)
}

func (r *reader) UnmatchWriter(guid types.Guid) {
	r.MatchedWriterRemove(guid)
}

// Unregister and close the reader.
func (r *reader) Close() error {
	r.participant.forgetReader(r.Guid().EntityId)
	return r.StatefulReader.Close()
}
