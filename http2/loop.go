package http2

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// This file is the minimal stand-in for the generic event-driven I/O
// framework spec.md §1 names as an external collaborator (event loops,
// pipelines, promises). The mux core and stream channel only ever touch it
// through Loop/Promise — a real deployment would swap this for whatever
// reactor the surrounding framework already provides.

// Loop is a single-threaded, cooperative executor: exactly the scheduling
// model spec.md §5 requires for the registry, the batch list and every
// stream channel's protocol-facing state.
type Loop struct {
	tasks chan func()
	quit  chan struct{}
	goid  atomic.Int64
}

// NewLoop starts a Loop's backing goroutine and waits until it is running.
func NewLoop() *Loop {
	l := &Loop{
		tasks: make(chan func(), 256),
		quit:  make(chan struct{}),
	}
	ready := make(chan struct{})
	go func() {
		l.goid.Store(currentGoroutineID())
		close(ready)
		l.run()
	}()
	<-ready
	return l
}

func (l *Loop) run() {
	for {
		select {
		case t := <-l.tasks:
			t()
		case <-l.quit:
			return
		}
	}
}

// Submit queues f to run on the loop goroutine. If f is already running on
// the loop, callers should call it directly instead (Submit would deadlock
// a single-slot synchronous wait, and is unnecessary since the loop is
// already free to keep draining its own queue).
func (l *Loop) Submit(f func()) {
	select {
	case l.tasks <- f:
	case <-l.quit:
	}
}

// InLoop reports whether the calling goroutine is this Loop's own.
func (l *Loop) InLoop() bool {
	return currentGoroutineID() == l.goid.Load()
}

// Close stops the loop. Queued tasks that never ran are dropped, matching
// the teacher's abrupt `close(outgoingFrames)` shutdown in connection.go.
func (l *Loop) Close() {
	select {
	case <-l.quit:
	default:
		close(l.quit)
	}
}

// currentGoroutineID parses the running goroutine's id out of a stack
// trace. It exists only to back Loop.InLoop's single-threaded-access
// assertion (spec.md §9 "Registry concurrency" — "implementations should
// document and assert single-threaded access"); it is not on any hot path.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := strings.Fields(string(buf[:n]))[1]
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// Promise is a one-shot completion signal a stream channel's write travels
// through on its way to the parent context, and that the core's outbound
// write path fails synchronously into. Its "non-cancellable by contract"
// requirement (spec.md §5) is enforced by MarkNonCancellable, not by
// omitting Cancel — a child promise still needs to reject a misbehaving
// caller's cancel attempt rather than silently accept it.
type Promise struct {
	mu            sync.Mutex
	done          bool
	err           error
	listeners     []func(*Promise)
	noncancelable bool
}

// NewPromise returns a fresh, cancellable promise.
func NewPromise() *Promise {
	return &Promise{}
}

// MarkNonCancellable makes future Cancel calls fail. StreamChannel.Write
// applies it to every child promise it returns, per spec.md §4.2.
func (p *Promise) MarkNonCancellable() {
	p.mu.Lock()
	p.noncancelable = true
	p.mu.Unlock()
}

// Cancel fails the promise as cancelled, unless it has been marked
// non-cancellable or has already completed.
func (p *Promise) Cancel() bool {
	p.mu.Lock()
	if p.noncancelable || p.done {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()
	return p.TryFail(errCancelled)
}

// TrySuccess completes the promise successfully. Returns false if it was
// already complete.
func (p *Promise) TrySuccess() bool {
	return p.complete(nil)
}

// TryFail completes the promise with cause. Returns false if it was
// already complete.
func (p *Promise) TryFail(cause error) bool {
	return p.complete(cause)
}

func (p *Promise) complete(err error) bool {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return false
	}
	p.done = true
	p.err = err
	listeners := p.listeners
	p.listeners = nil
	p.mu.Unlock()

	for _, l := range listeners {
		l(p)
	}
	return true
}

// OnComplete registers a listener, invoked inline if the promise has
// already completed. Listeners fire in registration order, on whichever
// goroutine completes the promise.
func (p *Promise) OnComplete(f func(*Promise)) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		f(p)
		return
	}
	p.listeners = append(p.listeners, f)
	p.mu.Unlock()
}

// Success reports whether the promise completed without error.
func (p *Promise) Success() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done && p.err == nil
}

// Done reports whether the promise has completed, successfully or not.
func (p *Promise) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Cause returns the completion error, if any.
func (p *Promise) Cause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

var errCancelled = &cancelledError{}

type cancelledError struct{}

func (*cancelledError) Error() string { return "h2demux: promise cancelled" }
