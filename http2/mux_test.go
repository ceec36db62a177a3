package http2

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeParent struct {
	loop *Loop

	mu      sync.Mutex
	written []Frame
	flushes int
	excepts []error
}

func newFakeParent(loop *Loop) *fakeParent {
	return &fakeParent{loop: loop}
}

func (f *fakeParent) Loop() *Loop { return f.loop }

func (f *fakeParent) WriteFrame(frame Frame, promise *Promise) error {
	f.mu.Lock()
	f.written = append(f.written, frame)
	f.mu.Unlock()
	promise.TrySuccess()
	return nil
}

func (f *fakeParent) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func (f *fakeParent) FireExceptionCaught(err error) {
	f.mu.Lock()
	f.excepts = append(f.excepts, err)
	f.mu.Unlock()
}

func (f *fakeParent) frames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.written))
	copy(out, f.written)
	return out
}

// recordingHandler counts every Handler callback it receives, for
// assertions that don't care about ordering/content beyond counts.
type recordingHandler struct {
	BaseHandler

	mu            sync.Mutex
	activeCount   int
	inactiveCount int
	readCount     int
	completeCount int
	userEvents    []UserEvent
	writability   int
}

func (h *recordingHandler) HandleActive(*StreamChannel) {
	h.mu.Lock()
	h.activeCount++
	h.mu.Unlock()
}

func (h *recordingHandler) HandleInactive(*StreamChannel) {
	h.mu.Lock()
	h.inactiveCount++
	h.mu.Unlock()
}

func (h *recordingHandler) HandleRead(*StreamChannel, Frame) {
	h.mu.Lock()
	h.readCount++
	h.mu.Unlock()
}

func (h *recordingHandler) HandleReadComplete(*StreamChannel) {
	h.mu.Lock()
	h.completeCount++
	h.mu.Unlock()
}

func (h *recordingHandler) HandleUserEvent(_ *StreamChannel, evt UserEvent) {
	h.mu.Lock()
	h.userEvents = append(h.userEvents, evt)
	h.mu.Unlock()
}

func (h *recordingHandler) HandleWritabilityChanged(*StreamChannel) {
	h.mu.Lock()
	h.writability++
	h.mu.Unlock()
}

func newTestCore(t *testing.T, isClient bool) (*Core, *fakeParent) {
	t.Helper()
	loop := NewLoop()
	t.Cleanup(loop.Close)

	// One recordingHandler per stream channel, matching bootstrap.go's
	// contract that a HandlerFactory is called once per channel and never
	// reused across them.
	bootstrap := NewBootstrap(func() Handler { return &recordingHandler{} })
	core := NewCore(loop, bootstrap, isClient, 65535, nil)
	parent := newFakeParent(loop)
	require.NoError(t, core.Attach(parent))
	return core, parent
}

func onLoop(t *testing.T, loop *Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	loop.Submit(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for loop task")
	}
}

func TestActivateStreamIsIdempotent(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(1)

	onLoop(t, core.loop, func() {
		core.DeliverStreamEvent(stream, StreamActive)
		core.DeliverStreamEvent(stream, StreamActive)
	})

	onLoop(t, core.loop, func() {
		ch, ok := core.registry[stream]
		require.True(t, ok)
		require.Equal(t, int64(65535), ch.windowSize())
	})
}

func TestDeliverStreamFrameSynthesizesActivationForUnregisteredStream(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(3)
	df := &DataFrame{Data: []byte("x")}
	df.SetStream(stream)

	onLoop(t, core.loop, func() {
		core.DeliverFrame(df)
	})

	onLoop(t, core.loop, func() {
		_, ok := core.registry[stream]
		require.True(t, ok)
	})
}

func TestDeliverGoAwayFansOutOnlyToLocallyInitiatedStreamsBeyondLastStreamID(t *testing.T) {
	core, _ := newTestCore(t, true) // isClient: odd ids are locally-initiated

	local := NewStreamHandle(5)  // odd, survives
	remote := NewStreamHandle(6) // even, not ours
	below := NewStreamHandle(1)  // odd but <= LastStreamID, not affected

	onLoop(t, core.loop, func() {
		core.DeliverStreamEvent(local, StreamActive)
		core.DeliverStreamEvent(remote, StreamActive)
		core.DeliverStreamEvent(below, StreamActive)
	})

	goaway := &GoAwayFrame{LastStreamID: 3, ErrorCode: ErrNoError}

	onLoop(t, core.loop, func() {
		core.deliverGoAway(goaway)
	})

	onLoop(t, core.loop, func() {
		handler := core.registry[local].handler.(*recordingHandler)
		require.Len(t, handler.userEvents, 1)
		_, ok := handler.userEvents[0].(GoAwayEvent)
		require.True(t, ok)

		for _, stream := range []*StreamHandle{remote, below} {
			h := core.registry[stream].handler.(*recordingHandler)
			require.Empty(t, h.userEvents)
		}
	})
}

func TestReadBatchCompleteFiresOncePerChannelRegardlessOfFrameCount(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(1)

	onLoop(t, core.loop, func() {
		core.DeliverStreamEvent(stream, StreamActive)

		df1 := &DataFrame{Data: []byte("a")}
		df1.SetStream(stream)
		df2 := &DataFrame{Data: []byte("b")}
		df2.SetStream(stream)

		core.DeliverFrame(df1)
		core.DeliverFrame(df2)
		core.ReadBatchComplete()
	})

	onLoop(t, core.loop, func() {
		handler := core.registry[stream].handler.(*recordingHandler)
		require.Equal(t, 2, handler.readCount)
		require.Equal(t, 1, handler.completeCount)
	})
}

func TestCloseSendsGoAwayWithMaxObservedStreamIDAndClosesChannels(t *testing.T) {
	core, parent := newTestCore(t, false)
	stream := NewStreamHandle(9)

	onLoop(t, core.loop, func() {
		core.DeliverStreamEvent(stream, StreamActive)
	})

	core.Close(ErrNoError)

	frames := parent.frames()
	require.Len(t, frames, 1)
	goaway, ok := frames[0].(*GoAwayFrame)
	require.True(t, ok)
	require.Equal(t, uint32(9), goaway.LastStreamID)

	onLoop(t, core.loop, func() {
		_, ok := core.registry[stream]
		require.False(t, ok)
	})
}

func TestSnapshotFromOffLoopGoroutine(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(2)

	onLoop(t, core.loop, func() {
		core.DeliverStreamEvent(stream, StreamActive)
	})

	snap := core.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, uint32(2), snap[0].StreamID)
	require.Equal(t, StreamActive, snap[0].State)
}

func TestCloseFromOnLoopDoesNotDeadlock(t *testing.T) {
	core, _ := newTestCore(t, false)
	done := make(chan struct{})
	core.loop.Submit(func() {
		defer close(done)
		core.Close(ErrNoError)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Core.Close deadlocked when called from on the loop")
	}
}
