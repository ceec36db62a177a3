package http2

import "github.com/pkg/errors"

// Errors returned to applications, carrying the spec.md §6 messages (with a
// lower-case first letter, as Go error strings conventionally have).
var (
	// ErrFirstFrameNotHeaders is returned when a locally-initiated stream
	// channel's first outbound write is not a HEADERS frame.
	ErrFirstFrameNotHeaders = errors.New("first frame must be a headers frame")

	// ErrNotStreamFrameOrGoAway is returned when do_write is called with a
	// message that is neither a stream frame nor a GOAWAY frame.
	ErrNotStreamFrameOrGoAway = errors.New("message must be an HTTP/2 stream frame or GOAWAY frame")

	// ErrStreamAlreadySet is returned when the application hands the
	// channel a stream frame whose binding is already set.
	ErrStreamAlreadySet = errors.New("stream must not be set on the frame")

	// ErrExecutorMismatch is a configuration error raised at attach time
	// when the core's executor does not equal the parent channel's event
	// loop.
	ErrExecutorMismatch = errors.New("EventExecutor must be EventLoop of Channel")

	// ErrBootstrapParentSet is a configuration error raised at attach time
	// when the bootstrap already carries a parent channel.
	ErrBootstrapParentSet = errors.New("parent channel must not be set on the bootstrap")
)

// ErrUnexpectedLifecycleState is a programming-error panic value: the
// framer is only permitted to deliver ACTIVE/CLOSED stream events to the
// mux core (spec.md §4.1).
type ErrUnexpectedLifecycleState struct {
	State StreamState
}

func (e *ErrUnexpectedLifecycleState) Error() string {
	return "h2demux: unexpected stream lifecycle state: " + e.State.String()
}
