package http2

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ChannelOption names a per-stream-channel knob honored by Bootstrap and
// StreamChannel (spec.md §6 "Configuration").
type ChannelOption string

const (
	// OptMaxMessagesPerRead caps how many queued frames a single dispatch
	// pass (one Read call, or one inbound frame under auto-read) delivers
	// to the handler.
	OptMaxMessagesPerRead ChannelOption = "max_messages_per_read"
	// OptAutoRead, when true, dispatches queued frames to the handler as
	// soon as they arrive instead of waiting for an explicit Read().
	OptAutoRead ChannelOption = "auto_read"
)

// Options is a bag of ChannelOption values applied to every stream channel
// the bootstrap constructs.
type Options map[ChannelOption]interface{}

// Attributes is an arbitrary bag of application-defined values attached to
// every stream channel the bootstrap constructs (e.g. request-scoped
// metadata a handler wants available from HandleActive onward).
type Attributes map[string]interface{}

// Handler is the application's processing pipeline for a stream channel.
// Bootstrap installs one instance per channel (built by
// HandlerFactory) and appends it to that channel's pipeline, exactly as
// spec.md §4.2 describes.
type Handler interface {
	HandleActive(ch *StreamChannel)
	HandleInactive(ch *StreamChannel)
	HandleRead(ch *StreamChannel, frame Frame)
	HandleReadComplete(ch *StreamChannel)
	HandleUserEvent(ch *StreamChannel, evt UserEvent)
	HandleWritabilityChanged(ch *StreamChannel)
	HandleExceptionCaught(ch *StreamChannel, err error)
}

// BaseHandler is embeddable by application handlers that only care about a
// subset of the Handler contract.
type BaseHandler struct{}

func (BaseHandler) HandleActive(*StreamChannel)               {}
func (BaseHandler) HandleInactive(*StreamChannel)              {}
func (BaseHandler) HandleRead(*StreamChannel, Frame)            {}
func (BaseHandler) HandleReadComplete(*StreamChannel)           {}
func (BaseHandler) HandleUserEvent(*StreamChannel, UserEvent)   {}
func (BaseHandler) HandleWritabilityChanged(*StreamChannel)     {}
func (BaseHandler) HandleExceptionCaught(*StreamChannel, error) {}

// HandlerFactory builds one Handler per stream channel; bootstrap.go calls
// it once per channel newChannel constructs (via Connect or
// Core.activateStream), never reusing a Handler across channels.
type HandlerFactory func() Handler

// Bootstrap constructs StreamChannels for remotely-initiated streams (and,
// via Connect, for locally-initiated ones too), carrying the configured
// handler template and option/attribute maps. Its parent-channel slot must
// be empty when Core.Attach runs and is filled exactly once, at attach
// time — spec.md §4.1/§4.3.
type Bootstrap struct {
	mu sync.Mutex

	parent ParentContext

	handlerFactory HandlerFactory
	options        Options
	attrs          Attributes

	log *zap.Logger
}

// NewBootstrap constructs a Bootstrap with no parent channel set yet.
func NewBootstrap(handlerFactory HandlerFactory) *Bootstrap {
	return &Bootstrap{
		handlerFactory: handlerFactory,
		options:        Options{},
		attrs:          Attributes{},
		log:            zap.NewNop(),
	}
}

// WithLogger installs a logger used for channel construction diagnostics
// (e.g. unknown-option warnings).
func (b *Bootstrap) WithLogger(l *zap.Logger) *Bootstrap {
	if l != nil {
		b.log = l
	}
	return b
}

// Option records a channel option applied to every channel this bootstrap
// constructs.
func (b *Bootstrap) Option(key ChannelOption, value interface{}) *Bootstrap {
	b.mu.Lock()
	b.options[key] = value
	b.mu.Unlock()
	return b
}

// Attr records an attribute applied to every channel this bootstrap
// constructs.
func (b *Bootstrap) Attr(key string, value interface{}) *Bootstrap {
	b.mu.Lock()
	b.attrs[key] = value
	b.mu.Unlock()
	return b
}

// setParentChannel binds the parent context at attach time. The bootstrap
// must arrive without one preset (spec.md §4.1/§6).
func (b *Bootstrap) setParentChannel(p ParentContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parent != nil {
		return errors.WithStack(ErrBootstrapParentSet)
	}
	b.parent = p
	return nil
}

func (b *Bootstrap) parentChannel() ParentContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parent
}

func (b *Bootstrap) snapshotOptions() (Options, Attributes) {
	b.mu.Lock()
	defer b.mu.Unlock()
	opts := make(Options, len(b.options))
	for k, v := range b.options {
		opts[k] = v
	}
	attrs := make(Attributes, len(b.attrs))
	for k, v := range b.attrs {
		attrs[k] = v
	}
	return opts, attrs
}

// StreamChannelFuture completes with the constructed channel once it has
// finished registering on the parent's event loop.
type StreamChannelFuture struct {
	promise *Promise
	channel *StreamChannel
}

// Channel returns the constructed channel once the future has completed;
// nil before then. Use OnComplete to be notified.
func (f *StreamChannelFuture) Channel() *StreamChannel { return f.channel }

// OnComplete invokes fn once registration finishes, successfully or not.
func (f *StreamChannelFuture) OnComplete(fn func(*StreamChannel, error)) {
	f.promise.OnComplete(func(p *Promise) { fn(f.channel, p.Cause()) })
}

// newChannel constructs a StreamChannel bound to stream and self-inserts it
// into core's registry (spec.md §4.2 "On construction, self-inserts into
// the registry"). Must run on core's loop — both call sites (Core.
// activateStream and Bootstrap.Connect) guarantee that.
func (b *Bootstrap) newChannel(core *Core, stream *StreamHandle) *StreamChannel {
	handler := b.handlerFactory()
	opts, attrs := b.snapshotOptions()

	ch := newStreamChannel(core, stream, handler, opts, attrs, b.log)
	core.register(ch)
	return ch
}

// Connect synthesizes a new StreamChannel bound to stream, applies this
// bootstrap's options/attributes, and registers it on the parent's event
// loop (spec.md §4.3) — used for locally-initiated streams that don't yet
// have a wire id. Remotely-initiated streams go through
// Core.activateStream instead, which calls newChannel directly since it
// already runs on the loop.
func (b *Bootstrap) Connect(core *Core, stream *StreamHandle) *StreamChannelFuture {
	promise := NewPromise()
	future := &StreamChannelFuture{promise: promise}

	core.parentContext().Loop().Submit(func() {
		ch := b.newChannel(core, stream)
		future.channel = ch
		if err := ch.register(); err != nil {
			promise.TryFail(err)
			return
		}
		promise.TrySuccess()
	})

	return future
}
