package http2

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ParentContext is the narrow surface of the parent framing context (spec.md
// §1 "external collaborator") the core needs: enough to submit writes and
// flushes downstream and to learn about transport-level failures. conn.go
// is the concrete implementation backed by a real net.Conn.
type ParentContext interface {
	// Loop returns the event loop this parent channel is bound to.
	Loop() *Loop
	// WriteFrame submits frame for writing, completing promise. A non-nil
	// return is a synchronous failure (e.g. already closed); promise may
	// also complete later, asynchronously, with nil returned here.
	WriteFrame(frame Frame, promise *Promise) error
	// Flush flushes anything buffered by prior WriteFrame calls.
	Flush()
	// FireExceptionCaught propagates a connection-scope (non-stream)
	// exception up the parent pipeline.
	FireExceptionCaught(err error)
}

// UserEvent is the marker interface for framework-level notifications fired
// on a stream channel's pipeline (spec.md §6 "Acceptable user events").
type UserEvent interface{ isUserEvent() }

// GoAwayEvent notifies a stream channel that the connection sent/received a
// GOAWAY affecting it (spec.md §4.1 GOAWAY fan-out).
type GoAwayEvent struct{ Frame *GoAwayFrame }

func (GoAwayEvent) isUserEvent() {}

// ResetEvent notifies a stream channel that the peer reset its stream.
type ResetEvent struct{ ErrorCode ErrorCode }

func (ResetEvent) isUserEvent() {}

// StreamSnapshot is a read-only view of one registry entry, used by
// internal/introspect (SPEC_FULL.md §C.3).
type StreamSnapshot struct {
	StreamID            uint32
	State               StreamState
	Window              int64
	InReadCompleteBatch bool
}

// Core is the Multiplex Core (spec.md §4.1): it owns the stream→channel
// registry, the read-complete batch list and the parent context handle; it
// dispatches inbound frames and connection events, and serializes outbound
// writes from every child channel onto the parent.
//
// Every method that touches the registry, the batch list or a channel's
// protocol-facing state must run on loop (spec.md §5 invariant 1); DeliverX
// methods are called directly from the framer's own loop-bound read path
// (conn.go), so they already satisfy that without an extra Submit.
type Core struct {
	loop      *Loop
	parent    ParentContext
	bootstrap *Bootstrap
	isClient  bool

	registry map[*StreamHandle]*StreamChannel
	batch    []*StreamChannel

	initialOutboundWindow int64
	maxObservedStreamID   uint32

	// Unhandled receives any inbound message the core does not itself
	// dispatch (anything that isn't a stream frame, GOAWAY or SETTINGS) —
	// spec.md §4.1 "Non-HTTP/2 message: forward upstream unchanged."
	Unhandled func(Frame)

	log *zap.Logger
}

// NewCore constructs a Core bound to loop, with the given bootstrap and
// role. initialWindow seeds the default credited to every newly-activated
// stream until a SETTINGS frame updates it (spec.md §4.4).
func NewCore(loop *Loop, bootstrap *Bootstrap, isClient bool, initialWindow int64, logger *zap.Logger) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Core{
		loop:                  loop,
		bootstrap:             bootstrap,
		isClient:              isClient,
		registry:              map[*StreamHandle]*StreamChannel{},
		initialOutboundWindow: initialWindow,
		log:                   logger,
	}
}

// Attach binds parent to the core. The core's executor must equal the
// parent channel's event loop, and the bootstrap must not already carry a
// parent channel (spec.md §4.1).
func (c *Core) Attach(parent ParentContext) error {
	if parent.Loop() != c.loop {
		return errors.WithStack(ErrExecutorMismatch)
	}
	if err := c.bootstrap.setParentChannel(parent); err != nil {
		return err
	}
	c.parent = parent
	return nil
}

func (c *Core) parentContext() ParentContext { return c.parent }

// DeliverFrame dispatches one inbound message (spec.md §4.1 "Inbound frame
// handling").
func (c *Core) DeliverFrame(msg Frame) {
	switch fr := msg.(type) {
	case StreamFrame:
		c.deliverStreamFrame(fr)
	case *GoAwayFrame:
		c.deliverGoAway(fr)
	case *SettingsFrame:
		c.deliverSettings(fr)
	default:
		if c.Unhandled != nil {
			c.Unhandled(msg)
		}
	}
}

func (c *Core) deliverStreamFrame(fr StreamFrame) {
	stream := fr.Stream()
	ch, ok := c.registry[stream]
	if !ok {
		c.log.Warn("stream frame for unregistered stream, synthesizing activation",
			zap.Uint32("stream_id", stream.ID))
		ch = c.activateStream(stream)
	}
	if ch.fireChildRead(fr) {
		c.addToBatch(ch)
	}
}

// deliverGoAway fans a GOAWAY out to every active, locally-initiated stream
// whose id exceeds LastStreamID (spec.md §4.1, §8 scenario C). Each
// recipient gets its own retained duplicate; the source is released
// exactly once after the fan-out completes (spec.md §9).
func (c *Core) deliverGoAway(fr *GoAwayFrame) {
	for stream, ch := range c.registry {
		if stream.ID > fr.LastStreamID && stream.LocallyInitiated(c.isClient) {
			ch.fireUserEvent(GoAwayEvent{Frame: fr.RetainedDuplicate()})
		}
	}
	fr.Buffer().Release()
}

// deliverSettings updates the core's default outbound window for future
// stream activations only. It does NOT retroactively adjust live streams:
// each keeps the window credited when activateStream ran (spec.md §9).
func (c *Core) deliverSettings(fr *SettingsFrame) {
	for _, arg := range fr.Args {
		if arg.Param == SettingsInitialWindowSize {
			c.initialOutboundWindow = int64(arg.Value)
		}
	}
}

func (c *Core) addToBatch(ch *StreamChannel) {
	if ch.inReadCompleteBatch {
		return
	}
	ch.inReadCompleteBatch = true
	c.batch = append(c.batch, ch)
}

// ReadBatchComplete fires one read-complete per child that received at
// least one frame in the batch just ended (spec.md §4.1 "Read-complete
// batching"). Each child's in_read_complete_batch flag is cleared before
// its callback runs, so a handler that synchronously enqueues more inbound
// work re-adds itself to the *next* batch instead of being skipped.
func (c *Core) ReadBatchComplete() {
	batch := c.batch
	c.batch = nil
	for _, ch := range batch {
		ch.inReadCompleteBatch = false
		ch.fireReadComplete()
	}
}

// DeliverStreamEvent handles a stream lifecycle event from the framer. Only
// ACTIVE and CLOSED are legal at this layer; anything else is a framer
// programming error (spec.md §4.1).
func (c *Core) DeliverStreamEvent(stream *StreamHandle, state StreamState) {
	switch state {
	case StreamActive:
		c.activateStream(stream)
	case StreamClosed:
		c.closeFromProtocol(stream)
	default:
		panic(&ErrUnexpectedLifecycleState{State: state})
	}
}

// activateStream reuses or constructs the channel for stream, credits its
// outbound window, and fires writability-changed — idempotently, so it
// tolerates both orderings of spec.md §9's "first-write activation race":
// an ACTIVE event from the framer, or a local HEADERS write's success
// listener (the OnComplete callback StreamChannel.Write attaches to its
// first write), whichever happens first.
func (c *Core) activateStream(stream *StreamHandle) *StreamChannel {
	stream.State = StreamActive
	if stream.ID > c.maxObservedStreamID {
		c.maxObservedStreamID = stream.ID
	}

	ch, ok := c.registry[stream]
	if !ok {
		ch = c.bootstrap.newChannel(c, stream)
	}
	if ch.activated {
		return ch
	}
	ch.activated = true
	ch.creditWindow(c.initialOutboundWindow)
	ch.fireWritabilityChanged()
	return ch
}

// onStreamActive is the activation entry point used by a stream channel's
// first-write-success listener (spec.md §4.2 do_write, scenario B).
func (c *Core) onStreamActive(stream *StreamHandle) {
	c.activateStream(stream)
}

func (c *Core) closeFromProtocol(stream *StreamHandle) {
	stream.State = StreamClosed
	if ch, ok := c.registry[stream]; ok {
		ch.streamClosedFromProtocol()
	}
}

// DeliverException routes a stream-scoped exception to its channel (then
// closes it) or propagates a connection-scope one up the parent pipeline
// (spec.md §4.1 "Exception routing").
func (c *Core) DeliverException(err error, stream *StreamHandle) {
	if stream != nil {
		if ch, ok := c.registry[stream]; ok {
			ch.fireExceptionCaught(err)
			ch.Close()
			return
		}
	}
	c.parent.FireExceptionCaught(err)
}

// Flush is a pass-through connection-level flush (spec.md §4.1 "Flush
// override").
func (c *Core) Flush() {
	c.parent.Flush()
}

func (c *Core) register(ch *StreamChannel) {
	c.registry[ch.stream] = ch
}

func (c *Core) unregister(ch *StreamChannel) {
	delete(c.registry, ch.stream)
}

func (c *Core) writeFromChild(frame Frame, promise *Promise, flush bool) {
	if !c.loop.InLoop() {
		panic("h2demux: write submitted off the parent event loop")
	}
	if err := c.parent.WriteFrame(frame, promise); err != nil {
		promise.TryFail(err)
	}
	if flush {
		c.parent.Flush()
	}
}

// Snapshot returns a point-in-time view of the registry (SPEC_FULL.md §C.3),
// safe to call from any goroutine: it round-trips through the loop unless
// already running on it.
func (c *Core) Snapshot() []StreamSnapshot {
	build := func() []StreamSnapshot {
		out := make([]StreamSnapshot, 0, len(c.registry))
		for stream, ch := range c.registry {
			out = append(out, StreamSnapshot{
				StreamID:            stream.ID,
				State:               stream.State,
				Window:              ch.windowSize(),
				InReadCompleteBatch: ch.inReadCompleteBatch,
			})
		}
		return out
	}

	if c.loop.InLoop() {
		return build()
	}

	result := make(chan []StreamSnapshot, 1)
	c.loop.Submit(func() { result <- build() })
	return <-result
}

// Close performs a graceful connection-wide shutdown (SPEC_FULL.md §C.4): a
// GOAWAY citing the highest stream id ever seen, then closing every
// registered channel. Safe to call from on or off the loop — callers
// already running on the loop (e.g. the connection's own read-error path)
// would deadlock waiting on a Submit'd closure the blocked loop goroutine
// can never get to run.
func (c *Core) Close(reason ErrorCode) {
	shutdown := func() {
		goaway := &GoAwayFrame{LastStreamID: c.maxObservedStreamID, ErrorCode: reason}
		promise := NewPromise()
		if err := c.parent.WriteFrame(goaway, promise); err != nil {
			promise.TryFail(err)
		}
		c.parent.Flush()
		for _, ch := range c.registry {
			ch.Close()
		}
	}

	if c.loop.InLoop() {
		shutdown()
		return
	}

	done := make(chan struct{})
	c.loop.Submit(func() {
		defer close(done)
		shutdown()
	})
	<-done
}
