package message

import "github.com/jabolina/go-rtps/internal/wire"

const (
	ParameterIdPad      uint16 = 0x0000
	ParameterIdSentinel uint16 = 0x0001
)

// A single entry of a parameter list.
type Parameter struct {
	Id    uint16
	Value []byte
}

// Sequence of parameters, terminated by a sentinel on the wire.
type ParameterList []Parameter

// Encoded size, including padding and the sentinel.
func (p ParameterList) Length() int {
	if p == nil {
		return 0
	}
	size := 4
	for _, param := range p {
		size += 4 + len(param.Value) + wire.Padding(len(param.Value))
	}
	return size
}

func (p ParameterList) encode(w *wire.Writer) {
	for _, param := range p {
		pad := wire.Padding(len(param.Value))
		w.Uint16(param.Id)
		w.Uint16(uint16(len(param.Value) + pad))
		w.Write(param.Value)
		w.Align()
	}
	w.Uint16(ParameterIdSentinel)
	w.Uint16(0)
}

func decodeParameterList(r *wire.Reader) (ParameterList, error) {
	list := ParameterList{}
	for {
		id, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		length, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		if id == ParameterIdSentinel {
			return list, nil
		}
		value, err := r.Bytes(int(length))
		if err != nil {
			return nil, err
		}
		if id == ParameterIdPad {
			continue
		}
		list = append(list, Parameter{Id: id, Value: append([]byte(nil), value...)})
	}
}
