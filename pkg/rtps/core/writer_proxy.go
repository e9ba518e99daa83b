package core

import (
	"sort"
	"sync"

	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Bound on how many missing changes a single heartbeat can add.
const maxTrackedMissing = 1 << 16

// State a reader keeps about a matched remote writer.
//
// Every sequence number up to the available watermark is known,
// either received, irrelevant or lost. Above the watermark the
// proxy keeps the known numbers and the missing ones.
type WriterProxy struct {
	// Synchronize the proxy state.
	mutex *sync.Mutex

	// Identity of the remote writer.
	guid types.Guid

	// Where the writer receives messages.
	locators []types.Locator

	// Every change up to this value is known.
	available types.SequenceNumber

	// Known changes above the watermark.
	known map[types.SequenceNumber]struct{}

	// Changes announced by the writer and not received.
	missing map[types.SequenceNumber]struct{}

	// Highest sequence number received.
	highest types.SequenceNumber

	// Missing changes the writer does not provide anymore.
	lost int

	// Count of the last accepted heartbeat.
	heartbeatCount int32
}

func NewWriterProxy(guid types.Guid, locators []types.Locator) *WriterProxy {
	return &WriterProxy{
		mutex:     &sync.Mutex{},
		guid:      guid,
		locators:  append([]types.Locator(nil), locators...),
		available: types.SequenceNumberMin,
		known:     make(map[types.SequenceNumber]struct{}),
		missing:   make(map[types.SequenceNumber]struct{}),
		highest:   types.SequenceNumberMin,
	}
}

func (p *WriterProxy) isKnown(seq types.SequenceNumber) bool {
	if seq <= p.available {
		return true
	}
	_, ok := p.known[seq]
	return ok
}

// Advance the watermark while the next change is known.
func (p *WriterProxy) advance() {
	for {
		next := p.available + 1
		if _, ok := p.known[next]; !ok {
			return
		}
		delete(p.known, next)
		p.available = next
	}
}

func (p *WriterProxy) markKnown(seq types.SequenceNumber) {
	if p.isKnown(seq) {
		return
	}
	delete(p.missing, seq)
	p.known[seq] = struct{}{}
	p.advance()
}

// Whether the change was already received or is not relevant.
func (p *WriterProxy) IsKnown(seq types.SequenceNumber) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.isKnown(seq)
}

// Mark the change as received.
func (p *WriterProxy) ReceivedChangeSet(seq types.SequenceNumber) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if seq > p.highest {
		p.highest = seq
	}
	p.markKnown(seq)
}

// Mark the change as not relevant, it will never be received.
func (p *WriterProxy) IrrelevantChangeSet(seq types.SequenceNumber) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.markKnown(seq)
}

// Mark every change in [first, last] as not relevant.
func (p *WriterProxy) IrrelevantChangeRange(first, last types.SequenceNumber) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if first < 1 || last < first || last <= p.available {
		return
	}
	if first <= p.available+1 {
		for seq := range p.known {
			if seq <= last {
				delete(p.known, seq)
			}
		}
		for seq := range p.missing {
			if seq <= last {
				delete(p.missing, seq)
			}
		}
		p.available = last
		p.advance()
		return
	}
	for i := int64(0); i < span(first, last); i++ {
		p.markKnown(first + types.SequenceNumber(i))
	}
}

// Every change announced in the range and not known is missing.
func (p *WriterProxy) MissingChangesUpdate(first, last types.SequenceNumber) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	start := first
	if start <= p.available {
		start = p.available + 1
	}
	if start < 1 || last < start {
		return
	}
	for i := int64(0); i < span(start, last); i++ {
		seq := start + types.SequenceNumber(i)
		if !p.isKnown(seq) {
			p.missing[seq] = struct{}{}
		}
	}
}

// Size of [first, last] capped at maxTrackedMissing. Requires
// 0 < first <= last.
func span(first, last types.SequenceNumber) int64 {
	if d := int64(last - first); d < maxTrackedMissing {
		return d + 1
	}
	return maxTrackedMissing
}

// The writer does not provide changes below first anymore. The
// missing ones are lost. Returns how many were lost.
func (p *WriterProxy) LostChangesUpdate(first types.SequenceNumber) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	lost := 0
	for seq := range p.missing {
		if seq < first {
			delete(p.missing, seq)
			lost++
		}
	}
	p.lost += lost

	if first > 0 && first-1 > p.available {
		for seq := range p.known {
			if seq < first {
				delete(p.known, seq)
			}
		}
		p.available = first - 1
		p.advance()
	}
	return lost
}

// Missing changes, ascending.
func (p *WriterProxy) Missing() []types.SequenceNumber {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	missing := make([]types.SequenceNumber, 0, len(p.missing))
	for seq := range p.missing {
		missing = append(missing, seq)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// Every change up to the returned value is known.
func (p *WriterProxy) AvailableChangesMax() types.SequenceNumber {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.available
}

func (p *WriterProxy) HighestSeqNum() types.SequenceNumber {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.highest
}

// Number of changes lost so far.
func (p *WriterProxy) LostChanges() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.lost
}

// Accept the heartbeat count if it is newer than the last one.
func (p *WriterProxy) UpdateHeartbeatCount(count int32) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if count <= p.heartbeatCount {
		return false
	}
	p.heartbeatCount = count
	return true
}

func (p *WriterProxy) Guid() types.Guid {
	return p.guid
}

func (p *WriterProxy) Locators() []types.Locator {
	return p.locators
}
