package history

import (
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

var (
	writerA = types.NewGuid(types.GuidPrefix{1}, types.NewEntityId(1, types.EntityKindUserWriterNoKey))
	writerB = types.NewGuid(types.GuidPrefix{2}, types.NewEntityId(1, types.EntityKindUserWriterNoKey))
)

func change(writer types.Guid, seq types.SequenceNumber) types.CacheChange {
	return types.CacheChange{WriterGuid: writer, SequenceNumber: seq, Payload: []byte{byte(seq)}}
}

func seqs(changes []types.CacheChange) []types.SequenceNumber {
	var out []types.SequenceNumber
	for _, c := range changes {
		out = append(out, c.SequenceNumber)
	}
	return out
}

func Test_ShouldCountDistinctChanges(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		cache := NewHistoryCache()
		inserted := map[types.SequenceNumber]bool{}
		for i := 0; i < 40; i++ {
			seq := types.SequenceNumber(r.Intn(60) + 1)
			cache.AddChange(change(writerA, seq))
			inserted[seq] = true
		}

		if cache.NumberOfChanges(writerA) != len(inserted) {
			t.Fatalf("round %d: expected %d changes, found %d", round, len(inserted), cache.NumberOfChanges(writerA))
		}

		var requested, expected []types.SequenceNumber
		for seq := types.SequenceNumber(70); seq > 0; seq -= 3 {
			requested = append(requested, seq)
			if inserted[seq] {
				expected = append(expected, seq)
			}
		}
		sort.Slice(expected, func(i, j int) bool { return expected[i] < expected[j] })
		found := seqs(cache.FindAll(writerA, requested))
		if !reflect.DeepEqual(expected, found) {
			t.Fatalf("round %d: expected %v, found %v", round, expected, found)
		}
	}
}

func Test_ShouldSignalDuplicateAndOutOfOrder(t *testing.T) {
	cache := NewHistoryCache()
	if !cache.AddChange(change(writerA, 1)) {
		t.Errorf("first change did not extend the maximum")
	}
	if !cache.AddChange(change(writerA, 5)) {
		t.Errorf("change 5 did not extend the maximum")
	}
	if cache.AddChange(change(writerA, 5)) {
		t.Errorf("duplicate change accepted")
	}
	if cache.AddChange(change(writerA, 3)) {
		t.Errorf("out of order change extended the maximum")
	}
	if !cache.ContainsChange(writerA, 3) {
		t.Errorf("out of order change was not stored")
	}
	if cache.SeqNumMax(writerA) != 5 || cache.SeqNumMin(writerA) != 1 {
		t.Errorf("unexpected bounds [%d, %d]", cache.SeqNumMin(writerA), cache.SeqNumMax(writerA))
	}
	if cache.NumberOfChanges(writerA) != 3 {
		t.Errorf("expected 3 changes, found %d", cache.NumberOfChanges(writerA))
	}
}

func Test_ShouldStartWithMinimumBounds(t *testing.T) {
	w := NewWriterChanges()
	if w.SeqNumMin() != types.SequenceNumberMin || w.SeqNumMax() != types.SequenceNumberMin {
		t.Errorf("unexpected initial bounds [%d, %d]", w.SeqNumMin(), w.SeqNumMax())
	}
	cache := NewHistoryCache()
	if !cache.IsEmpty(writerA) || cache.FindAll(writerA, []types.SequenceNumber{1}) != nil {
		t.Errorf("unknown writer is not empty")
	}
}

func Test_ShouldRemoveBelowThresholdIdempotently(t *testing.T) {
	cache := NewHistoryCache()
	for seq := types.SequenceNumber(1); seq <= 10; seq++ {
		cache.AddChange(change(writerA, seq))
		cache.AddChange(change(writerB, seq+5))
	}

	cache.RemoveAllBelow(7)
	if cache.SeqNumMin(writerA) < 7 || cache.SeqNumMin(writerB) < 7 {
		t.Errorf("minimum below threshold: %d and %d", cache.SeqNumMin(writerA), cache.SeqNumMin(writerB))
	}
	if cache.SeqNumMax(writerA) != 10 || cache.SeqNumMax(writerB) != 15 {
		t.Errorf("maximum changed: %d and %d", cache.SeqNumMax(writerA), cache.SeqNumMax(writerB))
	}
	if cache.Size() != 4+9 {
		t.Fatalf("expected 13 changes, found %d", cache.Size())
	}

	for _, threshold := range []types.SequenceNumber{7, 3} {
		cache.RemoveAllBelow(threshold)
		if cache.Size() != 13 || cache.SeqNumMin(writerA) != 7 {
			t.Errorf("repeated removal with %d changed the cache", threshold)
		}
	}

	cache.RemoveAllBelow(100)
	if !cache.IsEmpty(writerA) || cache.SeqNumMax(writerA) != 10 {
		t.Errorf("emptied writer lost its maximum or kept changes")
	}
	if cache.AddChange(change(writerA, 4)) {
		t.Errorf("change below the preserved maximum extended it")
	}
	if cache.SeqNumMin(writerA) != 4 {
		t.Errorf("expected minimum 4, found %d", cache.SeqNumMin(writerA))
	}
}

func Test_ShouldRemoveSingleWriter(t *testing.T) {
	cache := NewHistoryCache()
	for seq := types.SequenceNumber(1); seq <= 5; seq++ {
		cache.AddChange(change(writerA, seq))
		cache.AddChange(change(writerB, seq))
	}

	cache.RemoveWriterBelow(writerA, 4)
	expected := []types.SequenceNumber{4, 5}
	if found := seqs(cache.Changes(writerA)); !reflect.DeepEqual(expected, found) {
		t.Errorf("expected %v, found %v", expected, found)
	}
	if cache.NumberOfChanges(writerB) != 5 {
		t.Errorf("other writer was trimmed")
	}

	cache.RemoveWriter(writerB)
	if cache.Size() != 2 {
		t.Errorf("expected 2 changes, found %d", cache.Size())
	}
}

func Test_ShouldHandleConcurrentAccess(t *testing.T) {
	cache := NewHistoryCache()
	group := &sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		group.Add(1)
		go func(offset int) {
			defer group.Done()
			for seq := 1; seq <= 250; seq++ {
				cache.AddChange(change(writerA, types.SequenceNumber(seq*4-offset)))
				if seq%50 == 0 {
					cache.RemoveAllBelow(types.SequenceNumber(seq))
				}
			}
		}(i)
	}
	group.Wait()

	if cache.SeqNumMax(writerA) != 1000 {
		t.Errorf("expected maximum 1000, found %d", cache.SeqNumMax(writerA))
	}
}
