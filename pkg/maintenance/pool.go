package maintenance

import (
	"sync"
	"time"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// TokenMode selects how a Token orders the tasks submitted through it, per
// spec §4.F "A token has mode SERIAL or CONCURRENT."
type TokenMode int

const (
	// Serial tokens run at most one of their own tasks at a time; tasks on
	// other tokens still run in parallel.
	Serial TokenMode = iota
	// Concurrent tokens only share accounting; pool-level limits still
	// bound parallelism.
	Concurrent
)

// TokenState is a Token's lifecycle position, per spec §4.F "States: Idle
// -> Running -> Idle | GracefulQuiescing -> Quiesced."
type TokenState int32

const (
	Idle TokenState = iota
	Running
	GracefulQuiescing
	Quiesced
)

func (s TokenState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case GracefulQuiescing:
		return "GracefulQuiescing"
	case Quiesced:
		return "Quiesced"
	default:
		return "Unknown"
	}
}

type queuedTask struct {
	token     *Token
	fn        func()
	submitted time.Time
}

type queueTimeSample struct {
	recordedAt time.Time
	queueTime  time.Duration
}

// Pool is a bounded worker pool with SERIAL/CONCURRENT tokens and a queue
// load meter, grounded on kudu/util/threadpool.{h,cc} (via
// threadpool-test.cc) and expressed the way the teacher's
// tae/tasks/worker.OpWorker hand-rolls a channel/goroutine pool rather than
// reaching for github.com/panjf2000/ants/v2: neither ants nor the worker
// package exposes per-submission FIFO token ordering or queue-age
// introspection, both required here for QueueOverloaded and SerialToken
// ordering (spec §8 invariant "tasks submitted in order start in order").
type Pool struct {
	mu                sync.Mutex
	cond              *sync.Cond
	queue             []*queuedTask
	workers           int
	busy              int
	closed            bool
	overloadThreshold time.Duration
	recentSamples     []queueTimeSample
}

// NewPool starts workers goroutines draining a shared FIFO queue.
// overloadThreshold is the queue-age bound QueueOverloaded checks against.
func NewPool(workers int, overloadThreshold time.Duration) *Pool {
	p := &Pool{workers: workers, overloadThreshold: overloadThreshold}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		go p.runWorker()
	}
	return p
}

func (p *Pool) runWorker() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		qt := p.queue[0]
		p.queue = p.queue[1:]
		p.busy++
		p.recordQueueTime(time.Since(qt.submitted))
		p.mu.Unlock()

		qt.fn()

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()

		if qt.token != nil {
			qt.token.onTaskDone()
		}
	}
}

// recordQueueTime must be called with p.mu held.
func (p *Pool) recordQueueTime(d time.Duration) {
	now := time.Now()
	p.recentSamples = append(p.recentSamples, queueTimeSample{recordedAt: now, queueTime: d})
	cutoff := now.Add(-p.overloadThreshold)
	i := 0
	for i < len(p.recentSamples) && p.recentSamples[i].recordedAt.Before(cutoff) {
		i++
	}
	p.recentSamples = p.recentSamples[i:]
}

func (p *Pool) enqueue(qt *queuedTask) {
	p.mu.Lock()
	p.queue = append(p.queue, qt)
	p.mu.Unlock()
	p.cond.Signal()
}

// Submit runs fn on the shared pool queue, outside any token.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return kuduerr.NewServiceUnavailable("pool is shut down")
	}
	p.mu.Unlock()
	p.enqueue(&queuedTask{fn: fn, submitted: time.Now()})
	return nil
}

// QueueOverloaded reports whether the pool's queue is backed up, per spec
// §4.F "the pool reports QueueOverloaded() true when the head has aged
// beyond the configured threshold or the histogram of recent queue times
// indicates prolonged overload." The second clause is what lets overload
// surface for SERIAL-heavy workloads, whose active tasks leave the visible
// queue empty between dispatches.
func (p *Pool) QueueOverloaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 && time.Since(p.queue[0].submitted) > p.overloadThreshold {
		return true
	}
	cutoff := time.Now().Add(-p.overloadThreshold)
	for i := len(p.recentSamples) - 1; i >= 0; i-- {
		s := p.recentSamples[i]
		if s.recordedAt.Before(cutoff) {
			break
		}
		if s.queueTime > p.overloadThreshold {
			return true
		}
	}
	return false
}

// Shutdown stops accepting new work and wakes every waiting worker. It
// returns at once; it does not wait for queued tasks to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// NewToken creates a Token bound to this pool.
func (p *Pool) NewToken(mode TokenMode) *Token {
	t := &Token{pool: p, mode: mode}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Token is a handle on Pool that enforces SERIAL or CONCURRENT task
// ordering, per spec §4.F "Token lifecycle."
type Token struct {
	pool  *Pool
	mode  TokenMode
	mu    sync.Mutex
	cond  *sync.Cond
	state TokenState

	outstanding int        // queued + running tasks not yet completed
	serialQueue []func()   // SERIAL only: tasks waiting for the active one
	serialBusy  bool       // SERIAL only: one task currently queued-or-running
}

// Submit enqueues fn. With a SERIAL token, fn starts only after every
// earlier Submit on this token has finished; a CONCURRENT token enqueues
// fn onto the pool immediately, so pool-level parallelism is the only
// bound.
func (t *Token) Submit(fn func()) error {
	t.mu.Lock()
	if t.state == GracefulQuiescing || t.state == Quiesced {
		t.mu.Unlock()
		return kuduerr.NewServiceUnavailable("token is shutting down")
	}
	if t.state == Idle {
		t.state = Running
	}
	t.outstanding++

	if t.mode == Concurrent {
		t.mu.Unlock()
		t.pool.enqueue(&queuedTask{token: t, fn: fn, submitted: time.Now()})
		return nil
	}

	// Serial: queue behind any task already in flight for this token.
	if t.serialBusy {
		t.serialQueue = append(t.serialQueue, fn)
		t.mu.Unlock()
		return nil
	}
	t.serialBusy = true
	t.mu.Unlock()
	t.pool.enqueue(&queuedTask{token: t, fn: fn, submitted: time.Now()})
	return nil
}

// onTaskDone is called by the pool worker after a task completes.
func (t *Token) onTaskDone() {
	t.mu.Lock()
	t.outstanding--

	if t.mode == Serial {
		if len(t.serialQueue) > 0 {
			next := t.serialQueue[0]
			t.serialQueue = t.serialQueue[1:]
			t.mu.Unlock()
			t.pool.enqueue(&queuedTask{token: t, fn: next, submitted: time.Now()})
			return
		}
		t.serialBusy = false
	}

	if t.outstanding == 0 {
		if t.state == GracefulQuiescing {
			t.state = Quiesced
		} else {
			t.state = Idle
		}
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

// Wait blocks until every task submitted so far has completed.
func (t *Token) Wait() {
	t.mu.Lock()
	for t.outstanding > 0 {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// Close stops accepting new submissions but lets already-queued tasks run
// to completion; per spec §4.F, a later Shutdown() call is what actually
// blocks for that drain.
func (t *Token) Close() {
	t.mu.Lock()
	if t.state != Quiesced {
		t.state = GracefulQuiescing
		if t.outstanding == 0 {
			t.state = Quiesced
		}
	}
	t.mu.Unlock()
}

// Shutdown refuses further submissions (ServiceUnavailable) and blocks
// until every already-submitted task has completed.
func (t *Token) Shutdown() {
	t.Close()
	t.Wait()
}

// State reports the token's current lifecycle position.
func (t *Token) State() TokenState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
