package helper

import (
	"errors"
	"sync"
)

var ErrInvokerStopped = errors.New("invoker already stopped")

// Invoker is responsible for handling goroutines.
// Every goroutine of a participant is spawned through its
// invoker, so closing the participant waits for all of them.
type Invoker interface {
	// Spawn a new goroutine tracked by the invoker.
	Spawn(func()) error

	// Stop the invoker and wait for every spawned goroutine.
	Stop()
}

// Implements the Invoker interface. Each participant owns its
// instance, nothing is shared between participants.
type groupInvoker struct {
	// Use to synchronize if the invoker is open or not.
	mutex *sync.Mutex

	// Flag that tells if the invoker still available or not.
	working bool

	// Wait group to keep track of go routines.
	group *sync.WaitGroup
}

func NewInvoker() Invoker {
	return &groupInvoker{
		mutex:   &sync.Mutex{},
		working: true,
		group:   &sync.WaitGroup{},
	}
}

// Increases the group count and spawns the routine. After the
// routine is done the group is decreased.
func (c *groupInvoker) Spawn(f func()) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.working {
		return ErrInvokerStopped
	}

	c.group.Add(1)
	go func() {
		defer c.group.Done()
		f()
	}()
	return nil
}

// Blocks while waiting for go routines to stop.
func (c *groupInvoker) Stop() {
	c.mutex.Lock()
	c.working = false
	c.mutex.Unlock()
	c.group.Wait()
}
