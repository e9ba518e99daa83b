package concurrent

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Runs a job at a fixed period on its own goroutine. The task is
// owned by a single entity and stopped when the entity closes.
type Periodic struct {
	// Synchronize the start and stop transitions.
	mutex *sync.Mutex

	clock  clock.Clock
	period time.Duration
	job    Job

	ctx         context.Context
	cancellable context.CancelFunc

	// Closed when the loop exits, nil if never started.
	done chan struct{}
}

func NewPeriodic(clk clock.Clock, period time.Duration, job Job) *Periodic {
	ctx, cancel := context.WithCancel(context.Background())
	return &Periodic{
		mutex:       &sync.Mutex{},
		clock:       clk,
		period:      period,
		job:         job,
		ctx:         ctx,
		cancellable: cancel,
	}
}

// Start the periodic execution. Returns `false` if the task was
// already started or stopped.
func (p *Periodic) Start() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.done != nil || p.ctx.Err() != nil {
		return false
	}

	p.done = make(chan struct{})
	ticker := p.clock.Ticker(p.period)
	go p.poll(ticker)
	return true
}

// Whether the task was started and not stopped.
func (p *Periodic) Running() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.done != nil && p.ctx.Err() == nil
}

func (p *Periodic) poll(ticker *clock.Ticker) {
	defer close(p.done)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.job(p.ctx)
		}
	}
}

// Stop the task and wait for a running execution to finish.
func (p *Periodic) Stop() {
	p.mutex.Lock()
	p.cancellable()
	done := p.done
	p.mutex.Unlock()
	if done != nil {
		<-done
	}
}
