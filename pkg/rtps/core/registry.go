package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Local writer as seen by the inbound dispatch.
type WriterEndpoint interface {
	Guid() types.Guid
	OnAckNack(source types.GuidPrefix, ackNack *message.AckNack)
}

// Local reader as seen by the inbound dispatch.
type ReaderEndpoint interface {
	Guid() types.Guid
	IsMatched(writer types.Guid) bool
	OnData(source types.GuidPrefix, data *message.Data, timestamp time.Time)
	OnDataFrag(source types.GuidPrefix, frag *message.DataFrag, timestamp time.Time)
	OnHeartbeat(source types.GuidPrefix, heartbeat *message.Heartbeat)
	OnGap(source types.GuidPrefix, gap *message.Gap)
}

// Local endpoints of one participant by entity id. Each
// participant owns its registry, nothing is shared.
type Registry struct {
	mutex   *sync.RWMutex
	writers map[types.EntityId]WriterEndpoint
	readers map[types.EntityId]ReaderEndpoint
}

func NewRegistry() *Registry {
	return &Registry{
		mutex:   &sync.RWMutex{},
		writers: make(map[types.EntityId]WriterEndpoint),
		readers: make(map[types.EntityId]ReaderEndpoint),
	}
}

func (r *Registry) exists(id types.EntityId) bool {
	_, w := r.writers[id]
	_, rd := r.readers[id]
	return w || rd
}

// Register a writer. Fails if the entity id is already in use.
func (r *Registry) AddWriter(w WriterEndpoint) error {
	id := w.Guid().EntityId
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.exists(id) {
		return fmt.Errorf("%w: %v", types.ErrDuplicateEntity, id)
	}
	r.writers[id] = w
	return nil
}

// Register a reader. Fails if the entity id is already in use.
func (r *Registry) AddReader(rd ReaderEndpoint) error {
	id := rd.Guid().EntityId
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.exists(id) {
		return fmt.Errorf("%w: %v", types.ErrDuplicateEntity, id)
	}
	r.readers[id] = rd
	return nil
}

func (r *Registry) RemoveWriter(id types.EntityId) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.writers, id)
}

func (r *Registry) RemoveReader(id types.EntityId) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.readers, id)
}

func (r *Registry) Writer(id types.EntityId) (WriterEndpoint, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	w, ok := r.writers[id]
	return w, ok
}

func (r *Registry) Reader(id types.EntityId) (ReaderEndpoint, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	rd, ok := r.readers[id]
	return rd, ok
}

// Snapshot of the registered writers.
func (r *Registry) Writers() []WriterEndpoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	writers := make([]WriterEndpoint, 0, len(r.writers))
	for _, w := range r.writers {
		writers = append(writers, w)
	}
	return writers
}

// Snapshot of the registered readers.
func (r *Registry) Readers() []ReaderEndpoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	readers := make([]ReaderEndpoint, 0, len(r.readers))
	for _, rd := range r.readers {
		readers = append(readers, rd)
	}
	return readers
}
