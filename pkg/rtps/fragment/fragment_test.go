package fragment

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/jabolina/go-rtps/pkg/rtps/logging"
	"github.com/jabolina/go-rtps/pkg/rtps/message"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"go.uber.org/goleak"
)

var (
	writerId = types.NewEntityId(1, types.EntityKindUserWriterNoKey)
	readerId = types.NewEntityId(2, types.EntityKindUserReaderNoKey)
	writer   = types.NewGuid(types.GuidPrefix{1, 2, 3}, writerId)
)

// Minimal submessage size that still leaves room for one byte.
const minimumSize = message.DataFragFixedLength + message.SerializedPayloadHeaderLength + 4

func drain(s *Splitter) []*message.DataFrag {
	var frags []*message.DataFrag
	for {
		f, ok := s.Next()
		if !ok {
			return frags
		}
		frags = append(frags, f)
	}
}

func Test_ShouldSplitIntoSingleFullFragment(t *testing.T) {
	s, err := NewSplitter(writerId, readerId, 1, nil, []byte("abcd"), minimumSize)
	if err != nil {
		t.Fatalf("failed creating splitter. %v", err)
	}
	frags := drain(s)
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment, found %d", len(frags))
	}
	if string(frags[0].Data) != "abcd" || frags[0].FragmentSize != 4 || frags[0].SampleSize != 4 {
		t.Errorf("unexpected fragment %#v", frags[0])
	}
	if frags[0].FragmentStartingNum != 1 {
		t.Errorf("fragments must start at 1, found %d", frags[0].FragmentStartingNum)
	}
}

func Test_ShouldProducePartialLastFragment(t *testing.T) {
	s, err := NewSplitter(writerId, readerId, 1, nil, []byte("abcdefghij"), minimumSize)
	if err != nil {
		t.Fatalf("failed creating splitter. %v", err)
	}
	frags := drain(s)
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, found %d", len(frags))
	}
	if string(frags[2].Data) != "ij" {
		t.Errorf("expected remainder ij, found %q", frags[2].Data)
	}
	if _, ok := s.Next(); ok {
		t.Errorf("exhausted splitter produced a fragment")
	}
}

func Test_ShouldFailOnMisalignedSize(t *testing.T) {
	for _, size := range []int{minimumSize + 1, minimumSize + 2, 1001, 65507} {
		s, err := NewSplitter(writerId, readerId, 1, nil, []byte("abcd"), size)
		if !errors.Is(err, ErrMisalignedSubmessageSize) || s != nil {
			t.Errorf("size %d: expected misaligned error, found %v", size, err)
		}
	}
}

func Test_ShouldFailWhenFragmentTooSmall(t *testing.T) {
	_, err := NewSplitter(writerId, readerId, 1, nil, []byte("abcd"), minimumSize-4)
	if !errors.Is(err, ErrFragmentSizeTooSmall) {
		t.Fatalf("expected too small error, found %v", err)
	}

	qos := message.ParameterList{{Id: 0x70, Value: []byte{1, 2, 3, 4}}}
	_, err = NewSplitter(writerId, readerId, 1, qos, []byte("abcd"), minimumSize)
	if !errors.Is(err, ErrFragmentSizeTooSmall) {
		t.Errorf("inline qos not accounted, found %v", err)
	}
}

func Test_ShouldReproducePayloadForAnySize(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 100; round++ {
		payload := make([]byte, r.Intn(5000)+1)
		r.Read(payload)
		size := minimumSize + 4*r.Intn(300)

		s, err := NewSplitter(writerId, readerId, 9, nil, payload, size)
		if err != nil {
			t.Fatalf("failed creating splitter with %d. %v", size, err)
		}
		f := s.FragmentSize()
		expected := (len(payload) + f - 1) / f

		var joined []byte
		frags := drain(s)
		for i, frag := range frags {
			if int(frag.FragmentStartingNum) != i+1 {
				t.Fatalf("fragment %d numbered %d", i, frag.FragmentStartingNum)
			}
			if int(frag.FragmentSize) != f || int(frag.SampleSize) != len(payload) {
				t.Fatalf("fragment %d has inconsistent sizes", i)
			}
			if message.Length(frag) > size {
				t.Fatalf("fragment %d of %d bytes over %d", i, message.Length(frag), size)
			}
			joined = append(joined, frag.Data...)
		}
		if len(frags) != expected {
			t.Errorf("expected %d fragments, found %d", expected, len(frags))
		}
		if !bytes.Equal(payload, joined) {
			t.Errorf("joined fragments differ from payload")
		}
	}
}

func Test_ShouldKeepInlineQosOnFirstFragment(t *testing.T) {
	qos := message.ParameterList{{Id: 0x70, Value: []byte{1, 2, 3, 4}}}
	s, err := NewSplitter(writerId, readerId, 1, qos, bytes.Repeat([]byte{1}, 100), 80)
	if err != nil {
		t.Fatalf("failed creating splitter. %v", err)
	}
	for i, frag := range drain(s) {
		if (i == 0) != (frag.InlineQos != nil) {
			t.Errorf("fragment %d carries inline qos: %v", i+1, frag.InlineQos)
		}
		if message.Length(frag) > 80 {
			t.Errorf("fragment %d of %d bytes over 80", i+1, message.Length(frag))
		}
	}
}

func newTestLogger() types.Logger {
	l := logging.NewDefaultLogger()
	l.ToggleDebug(true)
	return l
}

func Test_ShouldJoinOutOfOrderFragments(t *testing.T) {
	defer goleak.VerifyNone(t)
	j := NewJoiner(time.Minute, newTestLogger())
	defer j.Close()

	payload := bytes.Repeat([]byte("0123456789"), 50)
	s, err := NewSplitter(writerId, readerId, 3, nil, payload, 100)
	if err != nil {
		t.Fatalf("failed creating splitter. %v", err)
	}
	frags := drain(s)
	rand.New(rand.NewSource(1)).Shuffle(len(frags), func(i, k int) { frags[i], frags[k] = frags[k], frags[i] })

	for i, frag := range frags {
		data, ok := j.Add(writer, frag)
		if i < len(frags)-1 {
			if ok {
				t.Fatalf("completed after %d of %d fragments", i+1, len(frags))
			}
			// Duplicates do not complete the sample.
			if _, ok := j.Add(writer, frag); ok {
				t.Fatalf("duplicate completed the sample")
			}
			continue
		}
		if !ok || !bytes.Equal(payload, data) {
			t.Fatalf("sample not rejoined")
		}
	}
	if j.Pending() != 0 {
		t.Errorf("completed sample still pending")
	}
}

func Test_ShouldJoinMultipleFragmentsPerSubmessage(t *testing.T) {
	defer goleak.VerifyNone(t)
	j := NewJoiner(time.Minute, newTestLogger())
	defer j.Close()

	frag := &message.DataFrag{
		WriterId:              writerId,
		WriterSN:              1,
		FragmentStartingNum:   1,
		FragmentsInSubmessage: 3,
		FragmentSize:          4,
		SampleSize:            10,
		Data:                  []byte("abcdefghij"),
	}
	data, ok := j.Add(writer, frag)
	if !ok || string(data) != "abcdefghij" {
		t.Errorf("expected complete sample, found %q", data)
	}
}

func Test_ShouldDiscardInconsistentFragment(t *testing.T) {
	defer goleak.VerifyNone(t)
	j := NewJoiner(time.Minute, newTestLogger())
	defer j.Close()

	first := &message.DataFrag{WriterSN: 1, FragmentStartingNum: 1, FragmentsInSubmessage: 1, FragmentSize: 4, SampleSize: 8, Data: []byte("abcd")}
	other := &message.DataFrag{WriterSN: 1, FragmentStartingNum: 2, FragmentsInSubmessage: 1, FragmentSize: 4, SampleSize: 12, Data: []byte("efgh")}
	if _, ok := j.Add(writer, first); ok {
		t.Fatalf("completed with first fragment")
	}
	if _, ok := j.Add(writer, other); ok {
		t.Fatalf("completed with inconsistent fragment")
	}
	if j.Pending() != 1 {
		t.Errorf("expected one pending sample, found %d", j.Pending())
	}
}

func Test_ShouldExpireIncompleteSamples(t *testing.T) {
	defer goleak.VerifyNone(t)
	j := NewJoiner(50*time.Millisecond, newTestLogger())
	defer j.Close()

	frag := &message.DataFrag{WriterSN: 1, FragmentStartingNum: 1, FragmentsInSubmessage: 1, FragmentSize: 4, SampleSize: 8, Data: []byte("abcd")}
	j.Add(writer, frag)

	deadline := time.Now().Add(2 * time.Second)
	for j.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("incomplete sample never expired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
