package history

import (
	"sort"
	"strconv"
	"sync"

	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"github.com/wangjia184/sortedset"
)

// Store of changes, one entry per writer. A writer owns a cache
// with its own changes and a reader owns one entry per matched
// writer. Every method is thread-safe.
type HistoryCache interface {
	// Add the change to the entry of its writer.
	// Returns `false` if the change already exists or if the
	// sequence number does not extend the current maximum. In the
	// latter case the change is still stored.
	AddChange(change types.CacheChange) bool

	// Find the requested changes of the writer, sorted by sequence
	// number. Sequence numbers not present are skipped.
	FindAll(writer types.Guid, seqs []types.SequenceNumber) []types.CacheChange

	// Every change of the writer, sorted by sequence number.
	Changes(writer types.Guid) []types.CacheChange

	// Evict every change below the threshold across all writers.
	RemoveAllBelow(threshold types.SequenceNumber)

	// Evict changes below the threshold of a single writer.
	RemoveWriterBelow(writer types.Guid, threshold types.SequenceNumber)

	// Forget the writer and all its changes.
	RemoveWriter(writer types.Guid)

	ContainsChange(writer types.Guid, seq types.SequenceNumber) bool

	// How many changes the writer has stored.
	NumberOfChanges(writer types.Guid) int

	// How many changes are stored across all writers.
	Size() int

	// Lowest stored sequence number of the writer.
	SeqNumMin(writer types.Guid) types.SequenceNumber

	// Highest sequence number ever stored for the writer.
	SeqNumMax(writer types.Guid) types.SequenceNumber

	IsEmpty(writer types.Guid) bool
}

// Changes of a single writer, kept inside a sorted set scored by
// the sequence number. The set guarantees unique items while
// keeping the changes ordered.
type WriterChanges struct {
	// Changes by sequence number.
	set *sortedset.SortedSet

	// Lowest stored sequence number.
	seqNumMin types.SequenceNumber

	// Highest sequence number ever stored, eviction does not
	// change this value.
	seqNumMax types.SequenceNumber
}

func NewWriterChanges() *WriterChanges {
	return &WriterChanges{
		set:       sortedset.New(),
		seqNumMin: types.SequenceNumberMin,
		seqNumMax: types.SequenceNumberMin,
	}
}

func key(seq types.SequenceNumber) string {
	return strconv.FormatInt(int64(seq), 10)
}

func (w *WriterChanges) AddChange(change types.CacheChange) bool {
	k := key(change.SequenceNumber)
	if w.set.GetByKey(k) != nil {
		return false
	}

	if w.set.GetCount() == 0 || change.SequenceNumber < w.seqNumMin {
		w.seqNumMin = change.SequenceNumber
	}
	w.set.AddOrUpdate(k, sortedset.SCORE(change.SequenceNumber), change)

	if change.SequenceNumber <= w.seqNumMax {
		return false
	}
	w.seqNumMax = change.SequenceNumber
	return true
}

func (w *WriterChanges) FindAll(seqs []types.SequenceNumber) []types.CacheChange {
	var changes []types.CacheChange
	for _, seq := range seqs {
		if node := w.set.GetByKey(key(seq)); node != nil {
			changes = append(changes, node.Value.(types.CacheChange))
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].SequenceNumber < changes[j].SequenceNumber
	})
	return dedup(changes)
}

func (w *WriterChanges) All() []types.CacheChange {
	if w.set.GetCount() == 0 {
		return nil
	}
	min, max := w.set.PeekMin(), w.set.PeekMax()
	nodes := w.set.GetByScoreRange(min.Score(), max.Score(), nil)
	changes := make([]types.CacheChange, 0, len(nodes))
	for _, node := range nodes {
		changes = append(changes, node.Value.(types.CacheChange))
	}
	return changes
}

// Removes every change below the threshold.
func (w *WriterChanges) RemoveAllBelow(threshold types.SequenceNumber) {
	for {
		head := w.set.PeekMin()
		if head == nil || types.SequenceNumber(head.Score()) >= threshold {
			break
		}
		w.set.Remove(head.Key())
	}
	if head := w.set.PeekMin(); head != nil {
		w.seqNumMin = types.SequenceNumber(head.Score())
	}
}

func (w *WriterChanges) Contains(seq types.SequenceNumber) bool {
	return w.set.GetByKey(key(seq)) != nil
}

func (w *WriterChanges) Len() int {
	return w.set.GetCount()
}

func (w *WriterChanges) SeqNumMin() types.SequenceNumber {
	return w.seqNumMin
}

func (w *WriterChanges) SeqNumMax() types.SequenceNumber {
	return w.seqNumMax
}

func dedup(changes []types.CacheChange) []types.CacheChange {
	if len(changes) < 2 {
		return changes
	}
	out := changes[:1]
	for _, c := range changes[1:] {
		if c.SequenceNumber != out[len(out)-1].SequenceNumber {
			out = append(out, c)
		}
	}
	return out
}

// Implements the HistoryCache interface.
type sortedHistory struct {
	// Synchronize operations, held for the duration of a call.
	mutex *sync.Mutex

	// Changes of each known writer.
	writers map[types.Guid]*WriterChanges
}

func NewHistoryCache() HistoryCache {
	return &sortedHistory{
		mutex:   &sync.Mutex{},
		writers: make(map[types.Guid]*WriterChanges),
	}
}

// Implements the HistoryCache interface.
func (h *sortedHistory) AddChange(change types.CacheChange) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	changes, ok := h.writers[change.WriterGuid]
	if !ok {
		changes = NewWriterChanges()
		h.writers[change.WriterGuid] = changes
	}
	return changes.AddChange(change)
}

// Implements the HistoryCache interface.
func (h *sortedHistory) FindAll(writer types.Guid, seqs []types.SequenceNumber) []types.CacheChange {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if changes, ok := h.writers[writer]; ok {
		return changes.FindAll(seqs)
	}
	return nil
}

// Implements the HistoryCache interface.
func (h *sortedHistory) Changes(writer types.Guid) []types.CacheChange {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if changes, ok := h.writers[writer]; ok {
		return changes.All()
	}
	return nil
}

// Implements the HistoryCache interface.
func (h *sortedHistory) RemoveAllBelow(threshold types.SequenceNumber) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, changes := range h.writers {
		changes.RemoveAllBelow(threshold)
	}
}

// Implements the HistoryCache interface.
func (h *sortedHistory) RemoveWriterBelow(writer types.Guid, threshold types.SequenceNumber) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if changes, ok := h.writers[writer]; ok {
		changes.RemoveAllBelow(threshold)
	}
}

// Implements the HistoryCache interface.
func (h *sortedHistory) RemoveWriter(writer types.Guid) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.writers, writer)
}

// Implements the HistoryCache interface.
func (h *sortedHistory) ContainsChange(writer types.Guid, seq types.SequenceNumber) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	changes, ok := h.writers[writer]
	return ok && changes.Contains(seq)
}

// Implements the HistoryCache interface.
func (h *sortedHistory) NumberOfChanges(writer types.Guid) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if changes, ok := h.writers[writer]; ok {
		return changes.Len()
	}
	return 0
}

// Implements the HistoryCache interface.
func (h *sortedHistory) Size() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	size := 0
	for _, changes := range h.writers {
		size += changes.Len()
	}
	return size
}

// Implements the HistoryCache interface.
func (h *sortedHistory) SeqNumMin(writer types.Guid) types.SequenceNumber {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if changes, ok := h.writers[writer]; ok {
		return changes.SeqNumMin()
	}
	return types.SequenceNumberMin
}

// Implements the HistoryCache interface.
func (h *sortedHistory) SeqNumMax(writer types.Guid) types.SequenceNumber {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if changes, ok := h.writers[writer]; ok {
		return changes.SeqNumMax()
	}
	return types.SequenceNumberMin
}

// Implements the HistoryCache interface.
func (h *sortedHistory) IsEmpty(writer types.Guid) bool {
	return h.NumberOfChanges(writer) == 0
}
