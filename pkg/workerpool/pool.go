// Package workerpool provides a bounded goroutine pool. The pipeline engine
// runs task advancement through it so the number of concurrently advancing
// tasks stays capped regardless of submission rate.
package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool manages a fixed set of worker goroutines fed from a buffered queue.
// Workers are started lazily as tasks are submitted.
type Pool struct {
	workers int32
	running int32
	closed  int32
	tasks   chan func()
	wg      sync.WaitGroup
}

// New creates a pool with the given worker count. A count of 0 or less
// defaults to GOMAXPROCS.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		workers: int32(workers),
		tasks:   make(chan func(), workers*8),
	}
}

// Submit queues fn for execution, spawning a worker if the pool is below
// capacity. Blocks when the queue is full. Returns false if the pool is
// closed.
func (p *Pool) Submit(fn func()) bool {
	if atomic.LoadInt32(&p.closed) == 1 {
		return false
	}

	for {
		running := atomic.LoadInt32(&p.running)
		if running >= p.workers {
			break
		}
		if atomic.CompareAndSwapInt32(&p.running, running, running+1) {
			p.wg.Add(1)
			go p.worker()
			break
		}
	}

	p.tasks <- fn
	return true
}

func (p *Pool) worker() {
	defer func() {
		if r := recover(); r != nil && atomic.LoadInt32(&p.closed) == 0 {
			// Replace ourselves so a panicking task does not shrink the pool.
			go p.worker()
			return
		}
		atomic.AddInt32(&p.running, -1)
		p.wg.Done()
	}()

	for fn := range p.tasks {
		if fn != nil {
			fn()
		}
	}
}

// Running returns the current worker count.
func (p *Pool) Running() int {
	return int(atomic.LoadInt32(&p.running))
}

// Waiting returns the number of queued tasks not yet picked up.
func (p *Pool) Waiting() int {
	return len(p.tasks)
}

// Close drains the queue and stops all workers. Pending tasks complete
// before Close returns.
func (p *Pool) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}
	close(p.tasks)
	p.wg.Wait()
}

// IsClosed returns true once Close has been called.
func (p *Pool) IsClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}
