package fragment

import (
	"fmt"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Fragments received for a single sample.
type fragmentSet struct {
	sampleSize   uint32
	fragmentSize uint16

	// How many fragments complete the sample.
	total uint32

	// Fragment data by fragment number.
	fragments map[uint32][]byte
}

func (f *fragmentSet) complete() bool {
	return uint32(len(f.fragments)) == f.total
}

func (f *fragmentSet) join() []byte {
	payload := make([]byte, 0, f.sampleSize)
	for i := uint32(1); i <= f.total; i++ {
		payload = append(payload, f.fragments[i]...)
	}
	return payload
}

// Rejoins fragments into the original sample. Incomplete samples
// are kept in a cache and discarded if not completed before the
// timeout.
type Joiner struct {
	// Synchronize the read-modify-write of the fragment sets.
	mutex *sync.Mutex

	// Incomplete fragment sets by writer and sequence number.
	pending *ttlcache.Cache

	log types.Logger
}

func NewJoiner(timeout time.Duration, log types.Logger) *Joiner {
	c := ttlcache.NewCache()
	c.SetTTL(timeout)
	c.SetExpirationCallback(func(key string, value interface{}) {
		set := value.(*fragmentSet)
		log.Debugf("discarding incomplete sample %s with %d of %d fragments", key, len(set.fragments), set.total)
	})
	return &Joiner{
		mutex:   &sync.Mutex{},
		pending: c,
		log:     log,
	}
}

func sampleKey(writer types.Guid, seq types.SequenceNumber) string {
	return fmt.Sprintf("%s#%d", writer, seq)
}

// Add the fragments carried by the submessage. Returns the whole
// payload and `true` once the last missing fragment arrives.
func (j *Joiner) Add(writer types.Guid, frag *message.DataFrag) ([]byte, bool) {
	if frag.FragmentSize == 0 || frag.FragmentStartingNum == 0 {
		j.log.Warnf("discarding invalid fragment %d of size %d from %s", frag.FragmentStartingNum, frag.FragmentSize, writer)
		return nil, false
	}

	key := sampleKey(writer, frag.WriterSN)
	j.mutex.Lock()
	defer j.mutex.Unlock()

	var set *fragmentSet
	if value, ok := j.pending.Get(key); ok {
		set = value.(*fragmentSet)
	} else {
		size := uint32(frag.FragmentSize)
		set = &fragmentSet{
			sampleSize:   frag.SampleSize,
			fragmentSize: frag.FragmentSize,
			total:        (frag.SampleSize + size - 1) / size,
			fragments:    make(map[uint32][]byte),
		}
	}

	if set.sampleSize != frag.SampleSize || set.fragmentSize != frag.FragmentSize {
		j.log.Warnf("discarding fragment of %s, sample size %d and fragment size %d differ from %d and %d",
			key, frag.SampleSize, frag.FragmentSize, set.sampleSize, set.fragmentSize)
		return nil, false
	}

	size := int(frag.FragmentSize)
	for i := 0; i < int(frag.FragmentsInSubmessage); i++ {
		start := i * size
		if start >= len(frag.Data) {
			break
		}
		end := start + size
		if end > len(frag.Data) {
			end = len(frag.Data)
		}
		number := frag.FragmentStartingNum + uint32(i)
		if number > set.total {
			j.log.Warnf("discarding fragment %d of %s, sample has %d fragments", number, key, set.total)
			break
		}
		if _, exists := set.fragments[number]; !exists {
			set.fragments[number] = append([]byte(nil), frag.Data[start:end]...)
		}
	}

	if !set.complete() {
		j.pending.Set(key, set)
		return nil, false
	}

	j.pending.Remove(key)
	payload := set.join()
	if uint32(len(payload)) != set.sampleSize {
		j.log.Warnf("discarding sample %s, joined %d bytes, expected %d", key, len(payload), set.sampleSize)
		return nil, false
	}
	return payload, true
}

// How many samples are waiting for fragments.
func (j *Joiner) Pending() int {
	return j.pending.Count()
}

func (j *Joiner) Close() {
	j.pending.Close()
}
