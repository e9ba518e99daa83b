// Package wire holds the byte level reader and writer used by the
// RTPS codec. Both honor the byte order chosen per submessage.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShortBuffer = errors.New("short buffer")

// Byte order able to both read and append values.
type Order interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Appends values to a growing buffer.
type Writer struct {
	buf   []byte
	order Order
}

func NewWriter(capacity int) *Writer {
	return &Writer{
		buf:   make([]byte, 0, capacity),
		order: binary.LittleEndian,
	}
}

// Changes the byte order used by the next writes.
func (w *Writer) SetOrder(order Order) {
	w.order = order
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) Uint16(v uint16) {
	w.buf = w.order.AppendUint16(w.buf, v)
}

func (w *Writer) Uint32(v uint32) {
	w.buf = w.order.AppendUint32(w.buf, v)
}

func (w *Writer) Int32(v int32) {
	w.Uint32(uint32(v))
}

// Big endian regardless of the current order, used by the
// encapsulation header.
func (w *Writer) Uint16BE(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) Write(data []byte) {
	w.buf = append(w.buf, data...)
}

// Writes zeros until the buffer length is a multiple of 4.
// Returns how many bytes were added.
func (w *Writer) Align() int {
	pad := Padding(len(w.buf))
	for i := 0; i < pad; i++ {
		w.buf = append(w.buf, 0)
	}
	return pad
}

// Overwrites an uint16 at the given position.
func (w *Writer) PutUint16At(position int, v uint16) {
	w.order.PutUint16(w.buf[position:], v)
}

// How many bytes are needed to align the length on a 32-bit boundary.
func Padding(length int) int {
	return (4 - length%4) % 4
}

// Consumes values from a byte slice.
type Reader struct {
	buf   []byte
	pos   int
	order Order
}

func NewReader(data []byte) *Reader {
	return &Reader{buf: data, order: binary.LittleEndian}
}

func (r *Reader) SetOrder(order Order) {
	r.order = order
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) Position() int {
	return r.pos
}

func (r *Reader) need(n int) error {
	if n < 0 || r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes at %d, have %d", ErrShortBuffer, n, r.pos, r.Remaining())
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := r.order.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) Uint16BE() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := r.order.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// Returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}
