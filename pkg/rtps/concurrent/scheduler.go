package concurrent

import (
	"context"
	"sync"
)

// A job executed by a Scheduler.
type Job func(ctx context.Context)

// Executes jobs one at a time in the order they were scheduled.
// Each matched peer owns a scheduler, so a slow send to one peer
// never delays the others and never blocks the caller.
type Scheduler interface {
	// Schedule a job for execution. Returns `false` if the
	// scheduler is already stopped.
	Schedule(Job) bool

	// How many jobs are pending.
	Pending() int

	// Wait until at least the given number of jobs completed and
	// nothing is pending.
	Wait(int)

	// Stop the scheduler. Pending jobs are executed with a
	// cancelled context. Safe to call more than once.
	Stop()
}

type fifo struct {
	mutex sync.Mutex

	// Wakes the worker when the queue goes from empty to not empty.
	ch chan struct{}

	// How many jobs completed.
	completed int

	// Jobs waiting for execution.
	pending []Job

	ctx         context.Context
	cancellable context.CancelFunc

	// Signaled when a job completes.
	finishes *sync.Cond

	// Closed when the worker exits.
	done chan struct{}
}

func NewScheduler() Scheduler {
	s := &fifo{
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	s.finishes = sync.NewCond(&s.mutex)
	s.ctx, s.cancellable = context.WithCancel(context.Background())
	go s.forever()
	return s
}

// Schedule the job to be executed sometime in the future.
func (s *fifo) Schedule(j Job) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cancellable == nil {
		return false
	}

	if len(s.pending) == 0 {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
	s.pending = append(s.pending, j)
	return true
}

// How many jobs are still pending.
func (s *fifo) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.pending)
}

// Wait up to n jobs to finish before returning.
func (s *fifo) Wait(how int) {
	s.finishes.L.Lock()
	defer s.finishes.L.Unlock()

	for s.completed < how || len(s.pending) != 0 {
		s.finishes.Wait()
	}
}

// Stop the current Scheduler. Jobs scheduled after this are refused.
func (s *fifo) Stop() {
	s.mutex.Lock()
	if s.cancellable != nil {
		s.cancellable()
		s.cancellable = nil
	}
	s.mutex.Unlock()
	<-s.done
}

// Keeps polling the scheduled jobs for execution until stopped.
func (s *fifo) forever() {
	defer close(s.done)

	for {
		var job Job
		s.mutex.Lock()
		if len(s.pending) != 0 {
			job = s.pending[0]
		}
		s.mutex.Unlock()

		if job == nil {
			select {
			case <-s.ch:
			case <-s.ctx.Done():
				s.drain()
				return
			}
			continue
		}

		job(s.ctx)
		s.finishes.L.Lock()
		s.completed++
		s.pending = s.pending[1:]
		s.finishes.Broadcast()
		s.finishes.L.Unlock()
	}
}

// Runs whatever is left with the cancelled context.
func (s *fifo) drain() {
	s.mutex.Lock()
	jobs := s.pending
	s.pending = nil
	s.mutex.Unlock()
	for _, job := range jobs {
		job(s.ctx)
	}

	s.finishes.L.Lock()
	s.completed += len(jobs)
	s.finishes.Broadcast()
	s.finishes.L.Unlock()
}
