package http2

// StreamState is the protocol-level lifecycle state of a Stream, as
// observed by the mux core. It is distinct from the richer open/half-closed
// state machine the HTTP/2 wire protocol itself defines (see the
// StreamChannel doc comment in streamchan.go) — the core only ever sees
// IDLE, ACTIVE and CLOSED.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamActive
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamActive:
		return "active"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamHandle is an opaque identity for a protocol-level stream. Equality
// is by pointer identity, not by ID — a locally-initiated stream is handed
// a placeholder handle (ID == 0, unassigned) before the HEADERS write that
// opens it ever reaches the wire, and the same *StreamHandle carries the
// real ID once assigned. The framer and the mux core are the only parties
// that construct or mutate one.
type StreamHandle struct {
	ID    uint32
	State StreamState
}

// NewStreamHandle constructs a handle for a stream id already known (an
// inbound or remotely-initiated stream).
func NewStreamHandle(id uint32) *StreamHandle {
	return &StreamHandle{ID: id, State: StreamIdle}
}

// NewUnassignedStreamHandle constructs a placeholder handle for a
// locally-initiated stream that has not yet been assigned an id by the
// connection (its first write must be HEADERS; see streamchan.go).
func NewUnassignedStreamHandle() *StreamHandle {
	return &StreamHandle{ID: 0, State: StreamIdle}
}

// HasValidID reports whether this handle has been assigned a real stream
// id, i.e. whether the stream has actually been opened on the wire.
func (h *StreamHandle) HasValidID() bool {
	return h != nil && h.ID != 0
}

// LocallyInitiated reports whether this stream was opened by this endpoint,
// given whether this endpoint is acting as an HTTP/2 client. Odd stream ids
// are client-initiated, even are server-initiated.
func (h *StreamHandle) LocallyInitiated(isClient bool) bool {
	if !h.HasValidID() {
		return isClient
	}
	odd := h.ID%2 == 1
	return odd == isClient
}
