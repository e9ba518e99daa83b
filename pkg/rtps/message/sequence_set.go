package message

import (
	"sort"

	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

// Largest number of sequence numbers a set can represent.
const MaxSetBits = 256

// A base sequence number followed by a bitmap, bit i set means
// that Base+i belongs to the set.
type SequenceNumberSet struct {
	Base    types.SequenceNumber
	NumBits uint32
	Bitmap  []uint32
}

// Creates a set with the given base holding every member that
// fits in the bitmap window. Members outside the window are left
// out and can be requested again later.
func NewSequenceNumberSet(base types.SequenceNumber, members []types.SequenceNumber) SequenceNumberSet {
	set := SequenceNumberSet{Base: base}
	sorted := append([]types.SequenceNumber(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var highest types.SequenceNumber = -1
	for _, s := range sorted {
		if s >= base && s-base < MaxSetBits {
			highest = s
		}
	}
	if highest < 0 {
		return set
	}

	set.NumBits = uint32(highest-base) + 1
	set.Bitmap = make([]uint32, (set.NumBits+31)/32)
	for _, s := range sorted {
		if s < base || s > highest {
			continue
		}
		bit := uint32(s - base)
		set.Bitmap[bit/32] |= 1 << (31 - bit%32)
	}
	return set
}

func (s SequenceNumberSet) Contains(seq types.SequenceNumber) bool {
	if seq < s.Base || seq-s.Base >= types.SequenceNumber(s.NumBits) {
		return false
	}
	bit := uint32(seq - s.Base)
	if int(bit/32) >= len(s.Bitmap) {
		return false
	}
	return s.Bitmap[bit/32]&(1<<(31-bit%32)) != 0
}

// Members of the set, ascending.
func (s SequenceNumberSet) Sequences() []types.SequenceNumber {
	var seqs []types.SequenceNumber
	for bit := uint32(0); bit < s.NumBits; bit++ {
		if int(bit/32) >= len(s.Bitmap) {
			break
		}
		if s.Bitmap[bit/32]&(1<<(31-bit%32)) != 0 {
			seqs = append(seqs, s.Base+types.SequenceNumber(bit))
		}
	}
	return seqs
}

func (s SequenceNumberSet) IsEmpty() bool {
	return len(s.Sequences()) == 0
}

// Encoded size in bytes.
func (s SequenceNumberSet) length() int {
	return 8 + 4 + 4*int((s.NumBits+31)/32)
}
