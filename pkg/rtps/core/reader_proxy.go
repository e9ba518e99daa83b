package core

import (
	"sort"
	"sync"

	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// State a writer keeps about a matched remote reader.
type ReaderProxy struct {
	// Synchronize the acknowledgment state.
	mutex *sync.Mutex

	// Identity of the remote reader.
	guid types.Guid

	// Where the reader receives messages.
	locators []types.Locator

	// QoS informed when the reader was matched.
	qos types.ReaderQos

	// Every change up to this value was acknowledged.
	highestAckedSeqNum types.SequenceNumber

	// Changes the reader reported as missing, ascending.
	requestedChanges []types.SequenceNumber
}

func NewReaderProxy(guid types.Guid, locators []types.Locator, qos types.ReaderQos) *ReaderProxy {
	return &ReaderProxy{
		mutex:              &sync.Mutex{},
		guid:               guid,
		locators:           append([]types.Locator(nil), locators...),
		qos:                qos,
		highestAckedSeqNum: types.SequenceNumberMin,
		requestedChanges:   []types.SequenceNumber{},
	}
}

// Mark every change up to the given value as acknowledged and
// drop them from the requested changes. A value below the current
// watermark comes from a stale AckNack and is ignored.
func (p *ReaderProxy) AckedChanges(seq types.SequenceNumber) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if seq < p.highestAckedSeqNum {
		return
	}
	p.highestAckedSeqNum = seq

	kept := p.requestedChanges[:0]
	for _, s := range p.requestedChanges {
		if s > seq {
			kept = append(kept, s)
		}
	}
	p.requestedChanges = kept
}

// Replace the requested changes with the given ones. Every
// AckNack carries the complete set, so nothing is merged. Values
// already acknowledged come from a stale AckNack and are dropped.
func (p *ReaderProxy) SetRequestedChanges(seqs []types.SequenceNumber) {
	sorted := append([]types.SequenceNumber(nil), seqs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p.mutex.Lock()
	defer p.mutex.Unlock()
	unique := make([]types.SequenceNumber, 0, len(sorted))
	for i, s := range sorted {
		if s <= p.highestAckedSeqNum || (i > 0 && s == sorted[i-1]) {
			continue
		}
		unique = append(unique, s)
	}
	p.requestedChanges = unique
}

func (p *ReaderProxy) RequestedChanges() []types.SequenceNumber {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]types.SequenceNumber{}, p.requestedChanges...)
}

func (p *ReaderProxy) HighestAckedSeqNum() types.SequenceNumber {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.highestAckedSeqNum
}

func (p *ReaderProxy) Guid() types.Guid {
	return p.guid
}

func (p *ReaderProxy) Locators() []types.Locator {
	return p.locators
}

func (p *ReaderProxy) Qos() types.ReaderQos {
	return p.qos
}
