// Package executor provides the single-threaded cooperative event loop every
// Connection schedules its socket operations on. One Executor is shared by
// all connections belonging to one endpoint (a Server or a Client); the
// application owns the worker goroutine indirectly through New/Stop.
//
// Connection.Send never writes to the socket on the calling goroutine — it
// posts a job here instead, so it is safe to call from any goroutine as
// long as the Executor is running.
package executor

import "sync"

// Executor runs posted jobs, in submission order, on a single dedicated
// worker goroutine.
type Executor struct {
	jobs   chan func()
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// New creates and starts an Executor with the given job queue depth.
func New(queueDepth int) *Executor {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	e := &Executor{
		jobs: make(chan func(), queueDepth),
		done: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case job, ok := <-e.jobs:
			if !ok {
				return
			}
			job()
		case <-e.done:
			// Drain any jobs already queued before exiting so callers that
			// posted a close job still see it run.
			for {
				select {
				case job, ok := <-e.jobs:
					if !ok {
						return
					}
					job()
				default:
					return
				}
			}
		}
	}
}

// Post schedules fn to run on the worker goroutine. It never blocks on
// socket I/O itself; if the job queue is full Post blocks only until a slot
// frees up. Post on a stopped Executor is a no-op.
func (e *Executor) Post(fn func()) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	select {
	case e.jobs <- fn:
	case <-e.done:
	}
}

// Stop signals the worker to finish queued jobs and exit, then joins it. Stop
// is idempotent.
func (e *Executor) Stop() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.done)
	})
	e.wg.Wait()
}
