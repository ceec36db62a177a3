package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T, core *Core, stream *StreamHandle) *StreamChannel {
	t.Helper()
	var ch *StreamChannel
	onLoop(t, core.loop, func() {
		ch = core.bootstrap.newChannel(core, stream)
	})
	return ch
}

func writeOnLoop(t *testing.T, core *Core, ch *StreamChannel, frame Frame) *Promise {
	t.Helper()
	var p *Promise
	onLoop(t, core.loop, func() {
		p = ch.Write(frame)
	})
	return p
}

func TestWriteFirstFrameMustBeHeadersForUnassignedStream(t *testing.T) {
	core, _ := newTestCore(t, true)
	stream := NewUnassignedStreamHandle()
	ch := newTestChannel(t, core, stream)

	p := writeOnLoop(t, core, ch, &DataFrame{Data: []byte("x")})
	require.True(t, p.Done())
	require.False(t, p.Success())
	require.ErrorIs(t, p.Cause(), ErrFirstFrameNotHeaders)

	p2 := writeOnLoop(t, core, ch, &HeadersFrame{EndHeaders: true})
	require.True(t, p2.Success())
}

func TestWriteFirstFrameMayBeAnyStreamFrameForAlreadyAssignedStream(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(2)
	ch := newTestChannel(t, core, stream)

	p := writeOnLoop(t, core, ch, &DataFrame{Data: []byte("x")})
	require.True(t, p.Success())
}

func TestWriteRejectsFrameWithExistingStreamBinding(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(4)
	ch := newTestChannel(t, core, stream)

	df := &HeadersFrame{EndHeaders: true}
	df.SetStream(NewStreamHandle(99))

	p := writeOnLoop(t, core, ch, df)
	require.True(t, p.Done())
	require.ErrorIs(t, p.Cause(), ErrStreamAlreadySet)
}

func TestWriteRejectsNonStreamFrameThatIsNotGoAway(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(6)
	ch := newTestChannel(t, core, stream)

	p := writeOnLoop(t, core, ch, &SettingsFrame{})
	require.True(t, p.Done())
	require.ErrorIs(t, p.Cause(), ErrNotStreamFrameOrGoAway)
}

func TestWriteAcceptsGoAwayWithoutStreamFrameValidation(t *testing.T) {
	core, parent := newTestCore(t, false)
	stream := NewStreamHandle(8)
	ch := newTestChannel(t, core, stream)

	p := writeOnLoop(t, core, ch, &GoAwayFrame{ErrorCode: ErrNoError})
	require.True(t, p.Success())
	require.Len(t, parent.frames(), 1)
}

func TestWriteDebitsWindowAndFiresWritabilityChangedWhenExhausted(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(1)
	ch := newTestChannel(t, core, stream)

	onLoop(t, core.loop, func() {
		ch.Write(&HeadersFrame{EndHeaders: true})
		ch.Write(&DataFrame{Data: make([]byte, 65535)})
	})

	onLoop(t, core.loop, func() {
		require.False(t, ch.Writable())
		handler := ch.handler.(*recordingHandler)
		// one event when the HEADERS write activates the stream, one when
		// the DATA write exhausts the window
		require.Equal(t, 2, handler.writability)
	})
}

func TestCreditFromPeerFiresWritabilityChangedWhenBecomingWritable(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(1)
	ch := newTestChannel(t, core, stream)

	onLoop(t, core.loop, func() {
		ch.Write(&HeadersFrame{EndHeaders: true})
		ch.Write(&DataFrame{Data: make([]byte, 65535)})
		require.False(t, ch.Writable())

		wu := &WindowUpdateFrame{SizeIncrement: 10}
		ch.fireChildRead(wu)
	})

	onLoop(t, core.loop, func() {
		require.True(t, ch.Writable())
		handler := ch.handler.(*recordingHandler)
		// activation, exhaustion, then the peer's credit restoring it
		require.Equal(t, 3, handler.writability)
		// the WINDOW_UPDATE frame itself must never reach the application
		require.Zero(t, handler.readCount)
	})
}

func TestConsumeBytesEmitsWindowUpdateBoundToStream(t *testing.T) {
	core, parent := newTestCore(t, false)
	stream := NewStreamHandle(3)
	ch := newTestChannel(t, core, stream)

	onLoop(t, core.loop, func() {
		ch.ConsumeBytes(128)
	})

	frames := parent.frames()
	require.Len(t, frames, 1)
	wu, ok := frames[0].(*WindowUpdateFrame)
	require.True(t, ok)
	require.Equal(t, uint32(128), wu.SizeIncrement)
	require.Equal(t, uint32(3), wu.Stream().ID)
}

func TestCloseIsIdempotentAndEmitsRSTOnce(t *testing.T) {
	core, parent := newTestCore(t, false)
	stream := NewStreamHandle(5)
	ch := newTestChannel(t, core, stream)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	frames := parent.frames()
	require.Len(t, frames, 1)
	_, ok := frames[0].(*RSTStreamFrame)
	require.True(t, ok)

	handler := ch.handler.(*recordingHandler)
	require.Equal(t, 1, handler.inactiveCount)
}

func TestCloseSkipsRSTWhenProtocolAlreadyClosedTheStream(t *testing.T) {
	core, parent := newTestCore(t, false)
	stream := NewStreamHandle(7)
	ch := newTestChannel(t, core, stream)

	onLoop(t, core.loop, func() {
		ch.streamClosedFromProtocol()
	})
	require.NoError(t, ch.Close())

	require.Empty(t, parent.frames())
}

func TestCloseSkipsRSTWhenStreamHasNoValidID(t *testing.T) {
	core, parent := newTestCore(t, false)
	stream := NewUnassignedStreamHandle()
	ch := newTestChannel(t, core, stream)

	require.NoError(t, ch.Close())

	require.Empty(t, parent.frames())
}

func TestPumpWithoutAutoReadOnlyDispatchesOnExplicitRead(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(1)

	var ch *StreamChannel
	onLoop(t, core.loop, func() {
		ch = core.bootstrap.newChannel(core, stream)
		ch.autoRead = false
		ch.maxMessagesPerRead = 2
	})

	onLoop(t, core.loop, func() {
		for i := 0; i < 3; i++ {
			df := &DataFrame{Data: []byte{byte(i)}}
			ch.fireChildRead(df)
		}
	})

	onLoop(t, core.loop, func() {
		handler := ch.handler.(*recordingHandler)
		require.Zero(t, handler.readCount, "frames must not dispatch until Read is called")
		require.Len(t, ch.readQueue, 3)
	})

	onLoop(t, core.loop, func() {
		ch.Read()
	})

	onLoop(t, core.loop, func() {
		handler := ch.handler.(*recordingHandler)
		require.Equal(t, 2, handler.readCount, "max_messages_per_read must cap one Read's dispatch")
		require.Len(t, ch.readQueue, 1)
	})
}

func TestStreamClosedFromProtocolQueuesEndOfStreamAndClosesOnDrain(t *testing.T) {
	core, _ := newTestCore(t, false)
	stream := NewStreamHandle(1)
	ch := newTestChannel(t, core, stream)

	onLoop(t, core.loop, func() {
		ch.streamClosedFromProtocol()
	})

	onLoop(t, core.loop, func() {
		handler := ch.handler.(*recordingHandler)
		require.Equal(t, 1, handler.inactiveCount)
		require.True(t, ch.closed)
	})
}
