package helper

import "sync/atomic"

const (
	open   = 0x0
	closed = 0x1
)

// One way switch used by entities to track if they were closed.
// The flag starts open and can be closed exactly once, so only
// the first caller of Close executes the shutdown.
type Flag struct {
	// Holds the current state of the flag.
	flag int32
}

// IsOpen returns `true` while the flag was never closed.
func (f *Flag) IsOpen() bool {
	return atomic.LoadInt32(&f.flag) == open
}

// IsClosed returns `true` once the flag was closed.
func (f *Flag) IsClosed() bool {
	return atomic.LoadInt32(&f.flag) == closed
}

// Close returns `true` for the single call that moved the flag
// from open to closed.
func (f *Flag) Close() bool {
	return atomic.CompareAndSwapInt32(&f.flag, open, closed)
}
