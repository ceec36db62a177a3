package http2

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

/*
StreamChannel is the per-stream logical channel the application sees
(spec.md §4.2). Its HTTP/2-level state still follows the familiar stream
state machine — idle, open, half-closed, closed — but that's the framer's
concern (see http2/frame.go's flag handling); what StreamChannel itself
tracks is the three booleans spec.md §3 calls out:

	first_frame_written      — one-shot, set by the first successful do_write
	stream_closed_without_error — set once the protocol (not the app) closes us
	in_read_complete_batch   — toggled by the core across a read batch

plus the outbound flow-control window counter.
*/

// endOfStream is the sentinel streamClosedFromProtocol enqueues on the read
// queue; when the application drains it, the channel finishes closing
// (spec.md §4.1 "the registry entry is removed only after the application
// drains the queue").
type endOfStream struct{}

func (endOfStream) Header() FrameHeader      { return FrameHeader{} }
func (endOfStream) Decode()                  {}
func (endOfStream) Encode() ([]byte, error) { return nil, nil }

// StreamChannel implements spec.md §4.2.
type StreamChannel struct {
	core   *Core
	parent ParentContext

	stream  *StreamHandle
	handler Handler
	attrs   Attributes

	maxMessagesPerRead int
	autoRead           bool

	readQueue     []Frame
	readRequested bool

	window int64

	firstFrameWritten        bool
	streamClosedWithoutError bool
	inReadCompleteBatch      bool
	activated                bool

	closeOnce sync.Once
	closed    bool

	log *zap.Logger
}

// newStreamChannel constructs a channel bound to stream. It does not insert
// itself into the registry — Bootstrap.newChannel does that immediately
// after, while still on the loop (spec.md §4.2 "self-inserts into the
// registry").
func newStreamChannel(core *Core, stream *StreamHandle, handler Handler, opts Options, attrs Attributes, log *zap.Logger) *StreamChannel {
	if log == nil {
		log = zap.NewNop()
	}
	sc := &StreamChannel{
		core:               core,
		parent:             core.parentContext(),
		stream:             stream,
		handler:            handler,
		attrs:              attrs,
		maxMessagesPerRead: 16,
		autoRead:           true,
		log:                log,
	}

	for key, value := range opts {
		switch key {
		case OptMaxMessagesPerRead:
			n, ok := value.(int)
			if !ok {
				log.Warn("ignoring stream channel option with unexpected type", zap.String("option", string(key)))
				continue
			}
			sc.maxMessagesPerRead = n
		case OptAutoRead:
			b, ok := value.(bool)
			if !ok {
				log.Warn("ignoring stream channel option with unexpected type", zap.String("option", string(key)))
				continue
			}
			sc.autoRead = b
		default:
			log.Warn("unknown stream channel option", zap.String("option", string(key)))
		}
	}

	return sc
}

// register runs the channel's registration step on the parent's event
// loop: it fires HandleActive and, if that panics, closes the channel
// (spec.md §4.2 "If registration fails ... close via normal close").
func (sc *StreamChannel) register() (err error) {
	defer func() {
		if r := recover(); r != nil {
			sc.Close()
			err = errors.Errorf("h2demux: stream channel registration failed: %v", r)
		}
	}()
	sc.handler.HandleActive(sc)
	return nil
}

// Stream returns the bound stream handle (may still be unassigned for a
// locally-initiated channel that hasn't completed its first HEADERS write).
func (sc *StreamChannel) Stream() *StreamHandle { return sc.stream }

// Attr returns an application attribute set via the bootstrap.
func (sc *StreamChannel) Attr(key string) (interface{}, bool) {
	v, ok := sc.attrs[key]
	return v, ok
}

// Writable reports whether the outbound window counter is positive
// (spec.md §3 invariant 4).
func (sc *StreamChannel) Writable() bool {
	return sc.window > 0
}

func (sc *StreamChannel) windowSize() int64 { return sc.window }

func (sc *StreamChannel) creditWindow(n int64) {
	sc.window += n
	if sc.window < 0 {
		sc.window = 0
	}
}

// Read requests one batch of queued frames be dispatched to the handler,
// honoring auto_read/max_messages_per_read exactly as the generic channel
// contract spec.md §6 describes.
func (sc *StreamChannel) Read() {
	sc.readRequested = true
	sc.pump()
}

// fireChildRead is the core's entry point for inbound frames (spec.md
// §4.2 "fire_child_read, not fire_channel_read, because auto-read gating
// must apply"). Inbound WINDOW_UPDATE frames are intercepted here to
// credit the outbound window instead of being queued for the application —
// the distilled spec treats per-stream flow-control accounting as part of
// the core's job (spec.md §1 purpose, §3 invariant 4) without separately
// spelling out the inbound credit path, so this follows RFC 7540's
// ordinary WINDOW_UPDATE semantics to make that accounting real. Reports
// whether the frame was actually enqueued for the application, so the
// core only enrolls the channel in the current read batch (spec.md §8
// invariant 5) when there is something for HandleReadComplete to follow.
func (sc *StreamChannel) fireChildRead(frame Frame) bool {
	if wu, ok := frame.(*WindowUpdateFrame); ok {
		sc.creditFromPeer(int64(wu.SizeIncrement))
		return false
	}
	sc.readQueue = append(sc.readQueue, frame)
	sc.pump()
	return true
}

func (sc *StreamChannel) creditFromPeer(n int64) {
	wasWritable := sc.Writable()
	sc.creditWindow(n)
	if !wasWritable && sc.Writable() {
		sc.fireWritabilityChanged()
	}
}

func (sc *StreamChannel) pump() {
	if !sc.autoRead && !sc.readRequested {
		return
	}
	sc.readRequested = false

	max := sc.maxMessagesPerRead
	if max <= 0 {
		max = 16
	}
	for i := 0; i < max && len(sc.readQueue) > 0; i++ {
		frame := sc.readQueue[0]
		sc.readQueue = sc.readQueue[1:]
		sc.dispatchInbound(frame)
	}
}

func (sc *StreamChannel) dispatchInbound(frame Frame) {
	if _, ok := frame.(endOfStream); ok {
		sc.Close()
		return
	}
	sc.handler.HandleRead(sc, frame)
}

// streamClosedFromProtocol is the core's close-from-protocol path (spec.md
// §4.1 "On stream-CLOSED"): it enqueues an end-of-stream sentinel instead
// of closing immediately, so the application finishes draining whatever is
// still queued ahead of it.
func (sc *StreamChannel) streamClosedFromProtocol() {
	sc.streamClosedWithoutError = true
	sc.readQueue = append(sc.readQueue, endOfStream{})
	sc.pump()
}

// validateStreamFrame enforces spec.md §3 invariant 5 / §4.2: the
// application must never hand the channel a frame that already carries a
// stream binding.
func (sc *StreamChannel) validateStreamFrame(sf StreamFrame) error {
	if sf.Stream() != nil {
		return errors.WithStack(ErrStreamAlreadySet)
	}
	return nil
}

// Write is do_write (spec.md §4.2): the application's only way to send a
// frame. Only stream frames and GOAWAY are accepted; a stream frame must
// not already carry a binding, and a locally-initiated stream's first
// frame must be HEADERS.
func (sc *StreamChannel) Write(frame Frame) *Promise {
	childPromise := NewPromise()
	childPromise.MarkNonCancellable()

	if _, ok := frame.(*GoAwayFrame); ok {
		sc.submit(frame, childPromise, false)
		return childPromise
	}

	sf, ok := frame.(StreamFrame)
	if !ok {
		releaseFrame(frame)
		childPromise.TryFail(errors.WithStack(ErrNotStreamFrameOrGoAway))
		return childPromise
	}

	if err := sc.validateStreamFrame(sf); err != nil {
		releaseFrame(frame)
		childPromise.TryFail(err)
		return childPromise
	}

	if !sc.firstFrameWritten {
		if !sc.stream.HasValidID() {
			if _, isHeaders := sf.(*HeadersFrame); !isHeaders {
				releaseFrame(frame)
				childPromise.TryFail(errors.WithStack(ErrFirstFrameNotHeaders))
				return childPromise
			}
		}
		sc.firstFrameWritten = true
		childPromise.OnComplete(func(p *Promise) {
			if p.Success() {
				sc.core.onStreamActive(sc.stream)
				return
			}
			sc.fireExceptionCaught(p.Cause())
			sc.Close()
		})
	}

	sf.SetStream(sc.stream)

	if df, ok := sf.(*DataFrame); ok {
		sc.debitWindow(int64(len(df.Data)))
	}

	sc.submit(sf, childPromise, false)
	return childPromise
}

func (sc *StreamChannel) debitWindow(n int64) {
	wasWritable := sc.Writable()
	sc.window -= n
	if sc.window < 0 {
		sc.window = 0
	}
	if wasWritable && !sc.Writable() {
		sc.fireWritabilityChanged()
	}
}

// submit wraps childPromise as a listener on a fresh parent promise, so
// completion of the parent write propagates to the child (spec.md §4.2),
// and submits the write to the core with flush deferred to Flush
// (do_write_complete).
func (sc *StreamChannel) submit(frame Frame, childPromise *Promise, flush bool) {
	parentPromise := NewPromise()
	parentPromise.OnComplete(func(p *Promise) {
		if p.Success() {
			childPromise.TrySuccess()
		} else {
			childPromise.TryFail(p.Cause())
		}
	})
	sc.core.writeFromChild(frame, parentPromise, flush)
}

// Flush is do_write_complete: it asks the core to flush the parent context.
func (sc *StreamChannel) Flush() {
	sc.core.Flush()
}

// ConsumeBytes is the bytes-consumed hook (spec.md §4.2): when the
// application consumes n bytes from a DATA frame, the channel emits a
// WINDOW_UPDATE bound to its own stream, unflushed.
func (sc *StreamChannel) ConsumeBytes(n int) {
	wu := &WindowUpdateFrame{SizeIncrement: uint32(n)}
	wu.SetStream(sc.stream)
	sc.core.writeFromChild(wu, NewPromise(), false)
}

// Close is do_close (spec.md §4.2). If the protocol already closed this
// stream (stream_closed_without_error), only the channel-level shutdown
// runs; otherwise, if the stream has a valid id, a RESET(CANCEL) is
// written and flushed first, cancelling the peer's view of the stream.
// Idempotent. Like Core.Close/Snapshot, safe to call from on or off the
// loop — spec.md §5 puts the app-facing channel contract on a possibly
// different executor than the core's own loop, and the RST write below
// must run on loop the same as any other writeFromChild call.
func (sc *StreamChannel) Close() error {
	shutdown := func() {
		sc.closeOnce.Do(func() {
			if !sc.streamClosedWithoutError && sc.stream.HasValidID() {
				rst := &RSTStreamFrame{ErrorCode: ErrCancel}
				rst.SetStream(sc.stream)
				sc.core.writeFromChild(rst, NewPromise(), true)
			}
			sc.closed = true
			sc.core.unregister(sc)
			sc.handler.HandleInactive(sc)
		})
	}

	if sc.core.loop.InLoop() {
		shutdown()
		return nil
	}

	done := make(chan struct{})
	sc.core.loop.Submit(func() {
		defer close(done)
		shutdown()
	})
	<-done
	return nil
}

func (sc *StreamChannel) fireWritabilityChanged() { sc.handler.HandleWritabilityChanged(sc) }
func (sc *StreamChannel) fireReadComplete()        { sc.handler.HandleReadComplete(sc) }
func (sc *StreamChannel) fireUserEvent(e UserEvent) { sc.handler.HandleUserEvent(sc, e) }
func (sc *StreamChannel) fireExceptionCaught(err error) { sc.handler.HandleExceptionCaught(sc, err) }

// releaseFrame drops the refcount the caller held on frame's payload buffer
// when the core/channel rejects it outright (spec.md §7 "Release-on-error
// is mandatory for any reference-counted message the core rejects").
func releaseFrame(frame Frame) {
	switch f := frame.(type) {
	case *DataFrame:
		f.Buffer().Release()
	case *HeadersFrame:
		f.Buffer().Release()
	case *PushPromiseFrame:
		f.Buffer().Release()
	case *GoAwayFrame:
		f.Buffer().Release()
	}
}
