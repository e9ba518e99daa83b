package core

import (
	"bytes"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jabolina/go-rtps/pkg/rtps/fragment"
	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type collector struct {
	mutex   sync.Mutex
	changes []types.CacheChange
}

func (c *collector) deliver(change types.CacheChange) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.changes = append(c.changes, change)
}

func (c *collector) sequences() []types.SequenceNumber {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var seqs []types.SequenceNumber
	for _, change := range c.changes {
		seqs = append(seqs, change.SequenceNumber)
	}
	return seqs
}

func data(seq types.SequenceNumber, payload string) *message.Data {
	return &message.Data{
		ReaderId:      localReader.EntityId,
		WriterId:      remoteWriter.EntityId,
		WriterSN:      seq,
		PayloadHeader: message.DefaultPayloadHeader,
		Payload:       []byte(payload),
	}
}

func heartbeat(first, last types.SequenceNumber, count int32, final bool) *message.Heartbeat {
	return &message.Heartbeat{
		ReaderId: localReader.EntityId,
		WriterId: remoteWriter.EntityId,
		FirstSN:  first,
		LastSN:   last,
		Count:    count,
		Final:    final,
	}
}

func newMatchedReader(t *testing.T, cfg *types.Configuration, sink Sink) (*StatefulReader, *collector) {
	r := newTestReader(t, cfg, sink)
	c := &collector{}
	r.Subscribe(c.deliver)
	require.NoError(t, r.MatchedWriterAdd(remoteWriter, remoteLocators))
	return r, c
}

func Test_ShouldDeliverWithoutWaitingForMissing(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, c := newMatchedReader(t, testConfiguration(clock.NewMock()), &recordingSink{})
	defer r.Close()

	ts := time.Unix(42, 0)
	r.OnData(remotePrefix, data(1, "one"), ts)
	r.OnData(remotePrefix, data(3, "three"), ts)
	r.OnData(remotePrefix, data(1, "one"), ts)

	require.Equal(t, []types.SequenceNumber{1, 3}, c.sequences())
	require.Equal(t, ts, c.changes[0].Timestamp)
	require.Equal(t, remoteWriter, c.changes[0].WriterGuid)
	require.Equal(t, 2, r.History().NumberOfChanges(remoteWriter))

	proxy, ok := r.WriterProxy(remoteWriter)
	require.True(t, ok)
	require.Equal(t, types.SequenceNumber(1), proxy.AvailableChangesMax())
	require.Equal(t, types.SequenceNumber(3), proxy.HighestSeqNum())
}

func Test_ShouldIgnoreUnmatchedWriter(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := newTestReader(t, testConfiguration(clock.NewMock()), &recordingSink{})
	defer r.Close()
	c := &collector{}
	r.Subscribe(c.deliver)

	r.OnData(remotePrefix, data(1, "one"), time.Time{})
	require.Empty(t, c.sequences())
	require.Equal(t, 0, r.History().Size())
}

func Test_ShouldTrimHistoryPerWriter(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfiguration(clock.NewMock())
	r, c := newMatchedReader(t, cfg, &recordingSink{})
	defer r.Close()

	for i := 1; i <= 10; i++ {
		r.OnData(remotePrefix, data(types.SequenceNumber(i), "x"), time.Time{})
	}
	require.Len(t, c.sequences(), 10)
	require.Equal(t, cfg.HistoryCacheMaxSize, r.History().NumberOfChanges(remoteWriter))
	require.Equal(t, types.SequenceNumber(4), r.History().SeqNumMin(remoteWriter))

	// Trimmed changes are still known and not delivered again.
	r.OnData(remotePrefix, data(2, "x"), time.Time{})
	require.Len(t, c.sequences(), 10)
}

func Test_ShouldRequestMissingChanges(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &recordingSink{}
	r, _ := newMatchedReader(t, testConfiguration(clock.NewMock()), sink)
	defer r.Close()

	r.OnData(remotePrefix, data(1, "one"), time.Time{})
	r.OnData(remotePrefix, data(3, "three"), time.Time{})
	r.OnHeartbeat(remotePrefix, heartbeat(1, 4, 1, false))
	r.Flush()

	acks := ackNacks(sink)
	require.Len(t, acks, 1)
	require.Equal(t, types.SequenceNumber(2), acks[0].ReaderSNState.Base)
	require.Equal(t, []types.SequenceNumber{2, 4}, acks[0].ReaderSNState.Sequences())
	require.Equal(t, int32(1), acks[0].Count)
	require.False(t, acks[0].Final)
	require.Equal(t, remoteWriter.EntityId, acks[0].WriterId)
	require.Equal(t, localReader.EntityId, acks[0].ReaderId)

	m := sink.Messages()[0]
	require.Equal(t, &message.InfoDestination{GuidPrefix: remotePrefix}, m.Submessages[0])

	// Same count is stale and ignored.
	r.OnHeartbeat(remotePrefix, heartbeat(1, 4, 1, false))
	r.Flush()
	require.Len(t, ackNacks(sink), 1)
}

func Test_ShouldAcknowledgeWhenNothingMissing(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &recordingSink{}
	r, _ := newMatchedReader(t, testConfiguration(clock.NewMock()), sink)
	defer r.Close()

	r.OnData(remotePrefix, data(1, "one"), time.Time{})
	r.OnHeartbeat(remotePrefix, heartbeat(1, 1, 1, true))
	r.Flush()
	require.Empty(t, ackNacks(sink))

	r.OnHeartbeat(remotePrefix, heartbeat(1, 1, 2, false))
	r.Flush()
	acks := ackNacks(sink)
	require.Len(t, acks, 1)
	require.Equal(t, types.SequenceNumber(2), acks[0].ReaderSNState.Base)
	require.True(t, acks[0].ReaderSNState.IsEmpty())
	require.True(t, acks[0].Final)
}

func Test_ShouldCountLostChanges(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &recordingSink{}
	r, _ := newMatchedReader(t, testConfiguration(clock.NewMock()), sink)
	defer r.Close()

	r.OnHeartbeat(remotePrefix, heartbeat(1, 3, 1, false))
	r.OnHeartbeat(remotePrefix, heartbeat(3, 4, 2, false))
	r.Flush()

	proxy, _ := r.WriterProxy(remoteWriter)
	require.Equal(t, 2, proxy.LostChanges())

	acks := ackNacks(sink)
	require.Len(t, acks, 2)
	require.Equal(t, types.SequenceNumber(3), acks[1].ReaderSNState.Base)
	require.Equal(t, []types.SequenceNumber{3, 4}, acks[1].ReaderSNState.Sequences())
}

func Test_ShouldSkipChangesNamedByGap(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &recordingSink{}
	r, _ := newMatchedReader(t, testConfiguration(clock.NewMock()), sink)
	defer r.Close()

	r.OnData(remotePrefix, data(1, "one"), time.Time{})
	r.OnData(remotePrefix, data(4, "four"), time.Time{})
	r.OnGap(remotePrefix, &message.Gap{
		ReaderId: localReader.EntityId,
		WriterId: remoteWriter.EntityId,
		GapStart: 2,
		GapList:  message.NewSequenceNumberSet(3, []types.SequenceNumber{3}),
	})

	proxy, _ := r.WriterProxy(remoteWriter)
	require.Equal(t, types.SequenceNumber(4), proxy.AvailableChangesMax())

	r.OnHeartbeat(remotePrefix, heartbeat(1, 4, 1, true))
	r.Flush()
	require.Empty(t, ackNacks(sink))
}

func Test_ShouldIgnoreHeartbeatWhenBestEffort(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &recordingSink{}
	cfg := testConfiguration(clock.NewMock())
	cfg.Reliability = types.BestEffort
	r, _ := newMatchedReader(t, cfg, sink)
	defer r.Close()

	r.OnHeartbeat(remotePrefix, heartbeat(1, 4, 1, false))
	r.Flush()
	require.Empty(t, ackNacks(sink))
}

func Test_ShouldReassembleFragments(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, c := newMatchedReader(t, testConfiguration(clock.NewMock()), &recordingSink{})
	defer r.Close()

	payload := bytes.Repeat([]byte("fragmented"), 10)
	s, err := fragment.NewSplitter(remoteWriter.EntityId, localReader.EntityId, 1, nil, payload, 64)
	require.NoError(t, err)
	require.Greater(t, s.Count(), 1)

	var frags []*message.DataFrag
	for frag, ok := s.Next(); ok; frag, ok = s.Next() {
		frags = append(frags, frag)
	}
	for i := len(frags) - 1; i >= 0; i-- {
		require.Empty(t, c.sequences())
		r.OnDataFrag(remotePrefix, frags[i], time.Time{})
	}

	require.Equal(t, []types.SequenceNumber{1}, c.sequences())
	require.Equal(t, payload, c.changes[0].Payload)

	// Fragments of a delivered change are ignored.
	r.OnDataFrag(remotePrefix, frags[0], time.Time{})
	require.Len(t, c.sequences(), 1)
}

func Test_ShouldForgetRemovedWriter(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, _ := newMatchedReader(t, testConfiguration(clock.NewMock()), &recordingSink{})
	defer r.Close()

	r.OnData(remotePrefix, data(1, "one"), time.Time{})
	require.True(t, r.IsMatched(remoteWriter))
	r.MatchedWriterRemove(remoteWriter)

	require.False(t, r.IsMatched(remoteWriter))
	require.Equal(t, 0, r.History().NumberOfChanges(remoteWriter))
}

func Test_ShouldIgnoreInvalidHeartbeat(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &recordingSink{}
	r, c := newMatchedReader(t, testConfiguration(clock.NewMock()), sink)
	defer r.Close()

	r.OnHeartbeat(remotePrefix, heartbeat(math.MinInt64, 3, 1, false))
	r.OnHeartbeat(remotePrefix, heartbeat(0, 3, 2, false))
	r.OnHeartbeat(remotePrefix, heartbeat(5, 2, 3, false))
	r.Flush()
	require.Empty(t, ackNacks(sink))

	proxy, _ := r.WriterProxy(remoteWriter)
	require.Equal(t, types.SequenceNumberMin, proxy.AvailableChangesMax())
	require.Empty(t, proxy.Missing())

	r.OnData(remotePrefix, data(1, "one"), time.Time{})
	require.Equal(t, []types.SequenceNumber{1}, c.sequences())

	// Rejected heartbeats do not consume the count.
	r.OnHeartbeat(remotePrefix, heartbeat(1, 2, 1, false))
	r.Flush()
	acks := ackNacks(sink)
	require.Len(t, acks, 1)
	require.Equal(t, []types.SequenceNumber{2}, acks[0].ReaderSNState.Sequences())
}

func Test_ShouldAnswerHeartbeatNearLargestSequence(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &recordingSink{}
	r, _ := newMatchedReader(t, testConfiguration(clock.NewMock()), sink)
	defer r.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.OnHeartbeat(remotePrefix, heartbeat(math.MaxInt64-2, math.MaxInt64, 1, false))
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("heartbeat handling did not return")
	}
	r.Flush()

	proxy, _ := r.WriterProxy(remoteWriter)
	require.Equal(t, types.SequenceNumber(math.MaxInt64-3), proxy.AvailableChangesMax())
	require.Len(t, proxy.Missing(), 3)

	acks := ackNacks(sink)
	require.Len(t, acks, 1)
	require.Equal(t, types.SequenceNumber(math.MaxInt64-2), acks[0].ReaderSNState.Base)
	require.Len(t, acks[0].ReaderSNState.Sequences(), 3)
}

func Test_ShouldIgnoreInvalidGap(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, c := newMatchedReader(t, testConfiguration(clock.NewMock()), &recordingSink{})
	defer r.Close()

	r.OnGap(remotePrefix, &message.Gap{
		ReaderId: localReader.EntityId,
		WriterId: remoteWriter.EntityId,
		GapStart: math.MinInt64,
		GapList:  message.NewSequenceNumberSet(math.MaxInt64, nil),
	})

	proxy, _ := r.WriterProxy(remoteWriter)
	require.Equal(t, types.SequenceNumberMin, proxy.AvailableChangesMax())
	r.OnData(remotePrefix, data(1, "one"), time.Time{})
	require.Equal(t, []types.SequenceNumber{1}, c.sequences())
}
