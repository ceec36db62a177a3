package http2

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrBufferAlreadyReleased is returned by Release when a buffer's refcount
// has already reached zero.
var ErrBufferAlreadyReleased = errors.New("h2demux: buffer already released")

// RefCountedBuffer is a minimal reference-counted view over a frame
// payload. DATA and HEADERS frames carry one (spec.md §3). The mux core's
// GOAWAY fan-out hands each recipient a retained duplicate and releases the
// source once; inbound stream frames are handed to their channel without an
// extra retain, and nothing releases them after the handler has read them.
// There is no pooling/allocator behind it — that's named as an
// out-of-scope external collaborator in spec.md §1 — this only tracks
// ownership, and the last release fires the optional releaser.
//
// Every duplicate handed out by Retain/RetainedDuplicate points at the same
// shared core, so the count is accurate no matter how many *RefCountedBuffer
// values exist.
type RefCountedBuffer struct {
	core *bufCore
}

type bufCore struct {
	b   []byte
	n   atomic.Int32
	rel func([]byte)
}

// NewRefCountedBuffer wraps b with an initial refcount of 1.
func NewRefCountedBuffer(b []byte) *RefCountedBuffer {
	c := &bufCore{b: b}
	c.n.Store(1)
	return &RefCountedBuffer{core: c}
}

// NewRefCountedBufferWithReleaser is like NewRefCountedBuffer but invokes
// onRelease once the last reference is released, instead of silently
// dropping the slice — used by tests to assert buffers are freed exactly
// once.
func NewRefCountedBufferWithReleaser(b []byte, onRelease func([]byte)) *RefCountedBuffer {
	r := NewRefCountedBuffer(b)
	r.core.rel = onRelease
	return r
}

// Bytes returns the underlying slice. Calling it after the refcount has
// reached zero is a use-after-release bug in the caller, not something this
// type guards against (matching the teacher's raw-slice semantics).
func (r *RefCountedBuffer) Bytes() []byte {
	if r == nil || r.core == nil {
		return nil
	}
	return r.core.b
}

// RefCount reports the current reference count; exported for tests only.
func (r *RefCountedBuffer) RefCount() int32 {
	if r == nil || r.core == nil {
		return 0
	}
	return r.core.n.Load()
}

// Retain increments the refcount and returns r itself (the GOAWAY fan-out
// in mux.go uses RetainedDuplicate instead).
func (r *RefCountedBuffer) Retain() *RefCountedBuffer {
	if r == nil {
		return nil
	}
	r.core.n.Add(1)
	return r
}

// RetainedDuplicate returns a new *RefCountedBuffer sharing r's refcount
// core, per the GOAWAY fan-out rule in spec.md §5/§9: "each recipient gets
// a retained duplicate." Unlike Retain, it hands back a distinct Go value
// so each recipient releases its own handle without aliasing the others'.
func (r *RefCountedBuffer) RetainedDuplicate() *RefCountedBuffer {
	if r == nil {
		return nil
	}
	r.core.n.Add(1)
	return &RefCountedBuffer{core: r.core}
}

// Release decrements the refcount; once it reaches zero the releaser (if
// any) fires exactly once. Calling Release more times than the buffer was
// retained returns ErrBufferAlreadyReleased.
func (r *RefCountedBuffer) Release() error {
	if r == nil {
		return nil
	}
	n := r.core.n.Add(-1)
	if n < 0 {
		return ErrBufferAlreadyReleased
	}
	if n == 0 && r.core.rel != nil {
		r.core.rel(r.core.b)
	}
	return nil
}
