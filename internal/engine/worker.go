package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// PoolStats is a snapshot of the background run pool.
type PoolStats struct {
	Size      int   `json:"size"`
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when a run is submitted after Shutdown.
var ErrPoolShutdown = schema.NewError(schema.ErrCodeConflict, "run pool is shut down")

// runJob executes one submitted run and reports whether it ended failed.
type runJob func() (failed bool)

// runPool bounds how many submitted runs execute at once. Runs waiting for
// a slot count as queued.
type runPool struct {
	size  int
	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	queued    atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64

	// onPanic receives panics that escaped the run itself.
	onPanic func(executionID string, recovered any)
}

func newRunPool(size int) *runPool {
	if size <= 0 {
		size = 1
	}
	return &runPool{
		size:  size,
		slots: make(chan struct{}, size),
		done:  make(chan struct{}),
	}
}

// submit waits for a free slot, then starts job on its own goroutine. ctx
// only bounds the wait.
func (p *runPool) submit(ctx context.Context, executionID string, job runJob) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}

	p.queued.Add(1)
	select {
	case p.slots <- struct{}{}:
		p.queued.Add(-1)
	case <-ctx.Done():
		p.queued.Add(-1)
		return ctx.Err()
	case <-p.done:
		p.queued.Add(-1)
		return ErrPoolShutdown
	}

	// wg.Add happens under the lock so shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.mu.Unlock()

	go p.run(executionID, job)
	return nil
}

func (p *runPool) run(executionID string, job runJob) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
			if p.onPanic != nil {
				p.onPanic(executionID, r)
			}
		}
		p.active.Add(-1)
		<-p.slots
		p.wg.Done()
	}()

	if job() {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

func (p *runPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// shutdown rejects new submissions and waits for running ones.
func (p *runPool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *runPool) stats() PoolStats {
	return PoolStats{
		Size:      p.size,
		Queued:    p.queued.Load(),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
