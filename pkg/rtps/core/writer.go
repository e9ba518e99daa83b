package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/jabolina/go-rtps/pkg/rtps/concurrent"
	"github.com/jabolina/go-rtps/pkg/rtps/helper"
	"github.com/jabolina/go-rtps/pkg/rtps/history"
	"github.com/jabolina/go-rtps/pkg/rtps/logging"
	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/metrics"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// A reader matched with the writer and its send path.
type matchedReader struct {
	proxy *ReaderProxy
	path  *sendPath
}

// Reliable writer keeping the state of every matched reader.
//
// Each published change is stored in the writer history and pushed
// to every matched reader. Periodically the writer announces the
// available changes with a heartbeat and evicts from the history
// the changes acknowledged by all readers. Changes requested by a
// reader are sent again, or answered with a Gap when evicted.
type StatefulWriter struct {
	// Synchronize the matched readers and the sequence number.
	mutex *sync.Mutex

	guid          types.Guid
	configuration *types.Configuration
	sink          Sink
	metrics       *metrics.Metrics
	log           types.Logger

	// Matched readers by Guid.
	readers map[types.Guid]*matchedReader

	// The writer own changes.
	cache history.HistoryCache

	builder *DataMessageBuilder

	// Last sequence number assigned.
	lastSeq types.SequenceNumber

	// Count of the last heartbeat sent.
	heartbeatCount int32

	// Heartbeat and cleanup task, started by the first matched reader.
	periodic *concurrent.Periodic

	closed helper.Flag
}

func NewStatefulWriter(ec EntityConfiguration) (*StatefulWriter, error) {
	if !ec.Guid.EntityId.IsWriter() {
		return nil, fmt.Errorf("%w: %v is not a writer", types.ErrInvalidConfiguration, ec.Guid.EntityId)
	}
	cfg := ec.Configuration
	w := &StatefulWriter{
		mutex:         &sync.Mutex{},
		guid:          ec.Guid,
		configuration: cfg,
		sink:          ec.Sink,
		metrics:       ec.Metrics,
		log:           logging.With(cfg.Logger, "writer", ec.Guid.String()),
		readers:       make(map[types.Guid]*matchedReader),
		cache:         history.NewHistoryCache(),
		builder:       NewDataMessageBuilder(ec.Guid.Prefix, cfg.PacketBufferSize, cfg.MaxSubmessageSize(), cfg.Clock),
		lastSeq:       types.SequenceNumberMin,
	}
	w.periodic = concurrent.NewPeriodic(cfg.Clock, cfg.HeartbeatPeriod, w.poll)
	return w, nil
}

func (w *StatefulWriter) Guid() types.Guid {
	return w.guid
}

func (w *StatefulWriter) History() history.HistoryCache {
	return w.cache
}

// Publish a new change. The change is stored and sent to every
// matched reader without waiting for the network.
func (w *StatefulWriter) NewChange(payload []byte) (types.SequenceNumber, error) {
	if w.closed.IsClosed() {
		return types.SequenceNumberUnknown, types.ErrClosed
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.lastSeq++
	change := types.CacheChange{
		WriterGuid:     w.guid,
		SequenceNumber: w.lastSeq,
		Payload:        payload,
		Timestamp:      w.configuration.Clock.Now(),
	}
	w.cache.AddChange(change)
	w.reportSize()

	for _, r := range w.readers {
		w.send(r, []types.CacheChange{change})
		w.metrics.DataSent.Inc()
	}
	return change.SequenceNumber, nil
}

// Send the last published change again to every reader. Used when
// the network may have dropped it and no heartbeat is expected soon.
func (w *StatefulWriter) RepeatLastChange() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.lastSeq == types.SequenceNumberMin {
		return
	}
	changes := w.cache.FindAll(w.guid, []types.SequenceNumber{w.lastSeq})
	for _, r := range w.readers {
		w.send(r, changes)
	}
}

// Build the messages and schedule them on the reader send path.
// Must be called with the mutex held.
func (w *StatefulWriter) send(r *matchedReader, changes []types.CacheChange, extra ...message.Submessage) {
	target := Target{GuidPrefix: r.proxy.Guid().Prefix, ReaderId: r.proxy.Guid().EntityId}
	messages, err := w.builder.Build(target, w.guid.EntityId, changes, extra...)
	if err != nil {
		w.log.Errorf("failed building messages to %s. %v", r.proxy.Guid(), err)
		return
	}
	if !r.path.send(r.proxy.Locators(), messages...) {
		w.log.Debugf("send path of %s already closed", r.proxy.Guid())
	}
}

// Match a remote reader. Matching an already matched reader
// does nothing. The first matched reader starts the heartbeat.
func (w *StatefulWriter) MatchedReaderAdd(guid types.Guid, locators []types.Locator, qos types.ReaderQos) error {
	if w.closed.IsClosed() {
		return types.ErrClosed
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closed.IsClosed() {
		return types.ErrClosed
	}
	if _, ok := w.readers[guid]; ok {
		w.log.Debugf("reader %s already matched", guid)
		return nil
	}

	r := &matchedReader{
		proxy: NewReaderProxy(guid, locators, qos),
		path:  newSendPath(w.sink, w.log, w.metrics),
	}
	w.readers[guid] = r
	w.log.Infof("matched reader %s at %v", guid, locators)

	if qos.Durability == types.TransientLocal {
		if changes := w.cache.Changes(w.guid); len(changes) > 0 {
			w.send(r, changes)
		}
	}

	if len(w.readers) == 1 {
		w.periodic.Start()
	}
	return nil
}

// Remove a matched reader, pending sends to it are discarded.
func (w *StatefulWriter) MatchedReaderRemove(guid types.Guid) {
	w.mutex.Lock()
	r, ok := w.readers[guid]
	delete(w.readers, guid)
	w.mutex.Unlock()

	if ok {
		w.log.Infof("removed reader %s", guid)
		r.path.close()
	}
}

// Remove every reader of the participant with the given prefix.
func (w *StatefulWriter) MatchedReadersRemove(prefix types.GuidPrefix) {
	w.mutex.Lock()
	var removed []*matchedReader
	for guid, r := range w.readers {
		if guid.Prefix == prefix {
			removed = append(removed, r)
			delete(w.readers, guid)
		}
	}
	w.mutex.Unlock()

	for _, r := range removed {
		w.log.Infof("removed reader %s", r.proxy.Guid())
		r.path.close()
	}
}

// The proxy of a matched reader.
func (w *StatefulWriter) ReaderProxy(guid types.Guid) (*ReaderProxy, bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	r, ok := w.readers[guid]
	if !ok {
		return nil, false
	}
	return r.proxy, true
}

func (w *StatefulWriter) MatchedReaders() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.readers)
}

// Handle an AckNack sent by a matched reader. Acknowledged changes
// update the reader watermark and every requested change is sent
// again. Requested changes not in the history anymore are answered
// with a Gap.
func (w *StatefulWriter) OnAckNack(source types.GuidPrefix, ackNack *message.AckNack) {
	if w.closed.IsClosed() {
		return
	}

	guid := types.NewGuid(source, ackNack.ReaderId)
	w.mutex.Lock()
	defer w.mutex.Unlock()
	r, ok := w.readers[guid]
	if !ok {
		w.log.Debugf("ignoring acknack from unknown reader %s", guid)
		return
	}

	r.proxy.AckedChanges(ackNack.ReaderSNState.Base - 1)
	r.proxy.SetRequestedChanges(ackNack.ReaderSNState.Sequences())

	var requested []types.SequenceNumber
	for _, seq := range r.proxy.RequestedChanges() {
		if seq > types.SequenceNumberMin && seq <= w.lastSeq {
			requested = append(requested, seq)
		}
	}
	if len(requested) == 0 {
		return
	}

	found := w.cache.FindAll(w.guid, requested)
	var lost []types.SequenceNumber
	next := 0
	for _, seq := range requested {
		if next < len(found) && found[next].SequenceNumber == seq {
			next++
			continue
		}
		lost = append(lost, seq)
	}

	gaps := gapsFor(guid.EntityId, w.guid.EntityId, lost)
	w.log.Debugf("reader %s requested %v, sending %d changes and %d gaps", guid, requested, len(found), len(gaps))
	w.metrics.Retransmissions.Add(float64(len(found)))
	w.metrics.GapsSent.Add(float64(len(gaps)))
	w.send(r, found, gaps...)
}

// Gap submessages covering the given ascending sequence numbers.
func gapsFor(readerId, writerId types.EntityId, lost []types.SequenceNumber) []message.Submessage {
	var gaps []message.Submessage
	for len(lost) > 0 {
		start := lost[0]
		base := start + 1
		end := 1
		for end < len(lost) && lost[end] < base+message.MaxSetBits {
			end++
		}
		gaps = append(gaps, &message.Gap{
			ReaderId: readerId,
			WriterId: writerId,
			GapStart: start,
			GapList:  message.NewSequenceNumberSet(base, lost[1:end]),
		})
		lost = lost[end:]
	}
	return gaps
}

// Executed every heartbeat period.
func (w *StatefulWriter) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.sendHeartbeat()
	w.cleanup()
}

// Announce the available changes to every reader.
func (w *StatefulWriter) sendHeartbeat() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if len(w.readers) == 0 || w.cache.IsEmpty(w.guid) {
		return
	}

	w.heartbeatCount++
	first, last := w.cache.SeqNumMin(w.guid), w.cache.SeqNumMax(w.guid)
	for _, r := range w.readers {
		m := message.NewMessage(w.guid.Prefix,
			&message.InfoDestination{GuidPrefix: r.proxy.Guid().Prefix},
			&message.Heartbeat{
				ReaderId: r.proxy.Guid().EntityId,
				WriterId: w.guid.EntityId,
				FirstSN:  first,
				LastSN:   last,
				Count:    w.heartbeatCount,
			})
		r.path.send(r.proxy.Locators(), m)
		w.metrics.HeartbeatsSent.Inc()
	}
}

// Evict the changes acknowledged by every reader, keeping at most
// the configured history size. The last change is never evicted and
// nothing is evicted while no reader is matched.
func (w *StatefulWriter) cleanup() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if len(w.readers) == 0 || w.lastSeq == types.SequenceNumberMin {
		return
	}

	var acked types.SequenceNumber = -1
	for _, r := range w.readers {
		if a := r.proxy.HighestAckedSeqNum(); acked < 0 || a < acked {
			acked = a
		}
	}

	threshold := acked + 1
	if bound := w.lastSeq - types.SequenceNumber(w.configuration.HistoryCacheMaxSize) + 1; bound > threshold {
		threshold = bound
	}
	if threshold > w.lastSeq {
		threshold = w.lastSeq
	}

	before := w.cache.NumberOfChanges(w.guid)
	w.cache.RemoveAllBelow(threshold)
	if removed := before - w.cache.NumberOfChanges(w.guid); removed > 0 {
		w.log.Debugf("evicted %d changes below %d", removed, threshold)
		w.reportSize()
	}
}

func (w *StatefulWriter) reportSize() {
	w.metrics.HistorySize.WithLabelValues(w.guid.String()).Set(float64(w.cache.NumberOfChanges(w.guid)))
}

// Wait until every scheduled send finished. Used by tests and
// before closing.
func (w *StatefulWriter) Flush() {
	w.mutex.Lock()
	paths := make([]*sendPath, 0, len(w.readers))
	for _, r := range w.readers {
		paths = append(paths, r.path)
	}
	w.mutex.Unlock()
	for _, p := range paths {
		p.flush()
	}
}

// Stop the heartbeat and release every send path. Safe to call
// more than once.
func (w *StatefulWriter) Close() error {
	if !w.closed.Close() {
		return nil
	}
	w.periodic.Stop()

	w.mutex.Lock()
	readers := w.readers
	w.readers = make(map[types.Guid]*matchedReader)
	w.mutex.Unlock()

	for _, r := range readers {
		r.path.close()
	}
	w.metrics.HistorySize.DeleteLabelValues(w.guid.String())
	w.log.Debugf("writer closed")
	return nil
}
