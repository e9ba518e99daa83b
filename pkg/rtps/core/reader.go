package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/jabolina/go-rtps/pkg/rtps/fragment"
	"github.com/jabolina/go-rtps/pkg/rtps/helper"
	"github.com/jabolina/go-rtps/pkg/rtps/history"
	"github.com/jabolina/go-rtps/pkg/rtps/logging"
	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/metrics"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Receives the changes delivered by a reader.
type Subscriber func(change types.CacheChange)

// Reliable reader keeping the state of every matched writer.
//
// Received changes are delivered as soon as they arrive, without
// waiting for missing ones. Heartbeats from a writer are answered
// with an AckNack carrying the changes still missing.
type StatefulReader struct {
	// Synchronize the matched writers and subscribers.
	mutex *sync.Mutex

	guid          types.Guid
	configuration *types.Configuration
	metrics       *metrics.Metrics
	log           types.Logger

	// Matched writers by Guid.
	writers map[types.Guid]*WriterProxy

	// Received changes of every matched writer.
	cache history.HistoryCache

	// Reassembles fragmented samples.
	joiner *fragment.Joiner

	subscribers []Subscriber

	// Count of the last AckNack sent.
	ackNackCount int32

	// Where the AckNacks are sent.
	path *sendPath

	closed helper.Flag
}

func NewStatefulReader(ec EntityConfiguration) (*StatefulReader, error) {
	if !ec.Guid.EntityId.IsReader() {
		return nil, fmt.Errorf("%w: %v is not a reader", types.ErrInvalidConfiguration, ec.Guid.EntityId)
	}
	cfg := ec.Configuration
	log := logging.With(cfg.Logger, "reader", ec.Guid.String())
	return &StatefulReader{
		mutex:         &sync.Mutex{},
		guid:          ec.Guid,
		configuration: cfg,
		metrics:       ec.Metrics,
		log:           log,
		writers:       make(map[types.Guid]*WriterProxy),
		cache:         history.NewHistoryCache(),
		joiner:        fragment.NewJoiner(cfg.FragmentTimeout, log),
		path:          newSendPath(ec.Sink, log, ec.Metrics),
	}, nil
}

func (r *StatefulReader) Guid() types.Guid {
	return r.guid
}

func (r *StatefulReader) History() history.HistoryCache {
	return r.cache
}

// Register a function receiving every delivered change.
func (r *StatefulReader) Subscribe(subscriber Subscriber) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.subscribers = append(r.subscribers, subscriber)
}

// Match a remote writer. Matching an already matched writer
// does nothing.
func (r *StatefulReader) MatchedWriterAdd(guid types.Guid, locators []types.Locator) error {
	if r.closed.IsClosed() {
		return types.ErrClosed
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.writers[guid]; ok {
		r.log.Debugf("writer %s already matched", guid)
		return nil
	}
	r.writers[guid] = NewWriterProxy(guid, locators)
	r.log.Infof("matched writer %s at %v", guid, locators)
	return nil
}

// Remove a matched writer and the changes received from it.
func (r *StatefulReader) MatchedWriterRemove(guid types.Guid) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.writers[guid]; !ok {
		return
	}
	delete(r.writers, guid)
	r.cache.RemoveWriter(guid)
	r.log.Infof("removed writer %s", guid)
}

func (r *StatefulReader) IsMatched(guid types.Guid) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, ok := r.writers[guid]
	return ok
}

// The proxy of a matched writer.
func (r *StatefulReader) WriterProxy(guid types.Guid) (*WriterProxy, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	p, ok := r.writers[guid]
	return p, ok
}

// Handle a complete sample sent by a matched writer.
func (r *StatefulReader) OnData(source types.GuidPrefix, data *message.Data, timestamp time.Time) {
	writer := types.NewGuid(source, data.WriterId)
	r.receive(types.CacheChange{
		WriterGuid:     writer,
		SequenceNumber: data.WriterSN,
		Payload:        data.Payload,
		Timestamp:      timestamp,
	})
}

// Handle a fragment. The change is delivered once every fragment
// of the sample arrived.
func (r *StatefulReader) OnDataFrag(source types.GuidPrefix, frag *message.DataFrag, timestamp time.Time) {
	writer := types.NewGuid(source, frag.WriterId)
	if r.closed.IsClosed() || !r.IsMatched(writer) {
		return
	}
	if p, ok := r.WriterProxy(writer); ok && p.IsKnown(frag.WriterSN) {
		return
	}

	payload, complete := r.joiner.Add(writer, frag)
	if !complete {
		return
	}
	r.receive(types.CacheChange{
		WriterGuid:     writer,
		SequenceNumber: frag.WriterSN,
		Payload:        payload,
		Timestamp:      timestamp,
	})
}

func (r *StatefulReader) receive(change types.CacheChange) {
	if r.closed.IsClosed() {
		return
	}

	r.mutex.Lock()
	proxy, ok := r.writers[change.WriterGuid]
	if !ok {
		r.mutex.Unlock()
		r.log.Debugf("ignoring change %d from unknown writer %s", change.SequenceNumber, change.WriterGuid)
		return
	}
	if proxy.IsKnown(change.SequenceNumber) {
		r.mutex.Unlock()
		r.log.Debugf("ignoring duplicate change %d from %s", change.SequenceNumber, change.WriterGuid)
		return
	}

	if !r.cache.AddChange(change) {
		r.log.Debugf("change %d from %s arrived out of order", change.SequenceNumber, change.WriterGuid)
	}
	proxy.ReceivedChangeSet(change.SequenceNumber)
	limit := r.configuration.HistoryCacheMaxSize
	if r.cache.NumberOfChanges(change.WriterGuid) > limit {
		threshold := r.cache.SeqNumMax(change.WriterGuid) - types.SequenceNumber(limit) + 1
		r.cache.RemoveWriterBelow(change.WriterGuid, threshold)
	}
	r.metrics.DataReceived.Inc()
	r.metrics.HistorySize.WithLabelValues(r.guid.String()).Set(float64(r.cache.Size()))
	subscribers := append([]Subscriber(nil), r.subscribers...)
	r.mutex.Unlock()

	for _, s := range subscribers {
		s(change)
	}
}

// Handle a heartbeat of a matched writer. Answers with an AckNack
// unless the heartbeat is final and nothing is missing.
func (r *StatefulReader) OnHeartbeat(source types.GuidPrefix, heartbeat *message.Heartbeat) {
	if r.closed.IsClosed() || r.configuration.Reliability == types.BestEffort {
		return
	}

	writer := types.NewGuid(source, heartbeat.WriterId)
	if !heartbeat.IsValid() {
		r.log.Debugf("ignoring invalid heartbeat [%d, %d] from %s", heartbeat.FirstSN, heartbeat.LastSN, writer)
		return
	}
	proxy, ok := r.WriterProxy(writer)
	if !ok {
		r.log.Debugf("ignoring heartbeat from unknown writer %s", writer)
		return
	}
	if !proxy.UpdateHeartbeatCount(heartbeat.Count) {
		r.log.Debugf("ignoring stale heartbeat %d from %s", heartbeat.Count, writer)
		return
	}

	proxy.MissingChangesUpdate(heartbeat.FirstSN, heartbeat.LastSN)
	if lost := proxy.LostChangesUpdate(heartbeat.FirstSN); lost > 0 {
		r.log.Warnf("lost %d changes from %s", lost, writer)
		r.metrics.LostChanges.Add(float64(lost))
	}

	missing := proxy.Missing()
	if heartbeat.Final && len(missing) == 0 {
		return
	}

	r.mutex.Lock()
	r.ackNackCount++
	count := r.ackNackCount
	r.mutex.Unlock()

	ackNack := &message.AckNack{
		ReaderId:      r.guid.EntityId,
		WriterId:      heartbeat.WriterId,
		ReaderSNState: message.NewSequenceNumberSet(proxy.AvailableChangesMax()+1, missing),
		Count:         count,
		Final:         len(missing) == 0,
	}
	m := message.NewMessage(r.guid.Prefix, &message.InfoDestination{GuidPrefix: source}, ackNack)
	if r.path.send(proxy.Locators(), m) {
		r.metrics.AckNacksSent.Inc()
	}
}

// Handle a Gap, the changes it names will never be sent.
func (r *StatefulReader) OnGap(source types.GuidPrefix, gap *message.Gap) {
	if r.closed.IsClosed() {
		return
	}
	writer := types.NewGuid(source, gap.WriterId)
	if !gap.IsValid() {
		r.log.Debugf("ignoring invalid gap starting at %d from %s", gap.GapStart, writer)
		return
	}
	proxy, ok := r.WriterProxy(writer)
	if !ok {
		return
	}
	proxy.IrrelevantChangeRange(gap.GapStart, gap.GapList.Base-1)
	for _, seq := range gap.GapList.Sequences() {
		proxy.IrrelevantChangeSet(seq)
	}
}

// Wait until every scheduled AckNack was sent.
func (r *StatefulReader) Flush() {
	r.path.flush()
}

// Release the send path and the pending fragments. Safe to call
// more than once.
func (r *StatefulReader) Close() error {
	if !r.closed.Close() {
		return nil
	}
	r.path.close()
	r.joiner.Close()
	r.metrics.HistorySize.DeleteLabelValues(r.guid.String())
	r.log.Debugf("reader closed")
	return nil
}
