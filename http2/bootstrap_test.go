package http2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBootstrapAttachFailsOnExecutorMismatch(t *testing.T) {
	loopA := NewLoop()
	defer loopA.Close()
	loopB := NewLoop()
	defer loopB.Close()

	bootstrap := NewBootstrap(func() Handler { return &recordingHandler{} })
	core := NewCore(loopA, bootstrap, false, 65535, nil)

	parent := newFakeParent(loopB)
	err := core.Attach(parent)
	require.ErrorIs(t, err, ErrExecutorMismatch)
}

func TestBootstrapSetParentChannelOnlyOnce(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	bootstrap := NewBootstrap(func() Handler { return &recordingHandler{} })
	core := NewCore(loop, bootstrap, false, 65535, nil)
	parent := newFakeParent(loop)

	require.NoError(t, core.Attach(parent))

	other := NewBootstrap(func() Handler { return &recordingHandler{} })
	other.parent = parent // simulate a bootstrap already carrying a parent
	err := other.setParentChannel(parent)
	require.ErrorIs(t, err, ErrBootstrapParentSet)
}

func TestConnectRegistersChannelOnLoop(t *testing.T) {
	core, _ := newTestCore(t, true)
	stream := NewUnassignedStreamHandle()

	future := core.bootstrap.Connect(core, stream)

	done := make(chan struct{})
	future.OnComplete(func(ch *StreamChannel, err error) {
		defer close(done)
		require.NoError(t, err)
		require.NotNil(t, ch)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Connect future never completed")
	}

	onLoop(t, core.loop, func() {
		_, ok := core.registry[stream]
		require.True(t, ok)
	})
}

func TestSnapshotOptionsIsolatesSubsequentMutation(t *testing.T) {
	bootstrap := NewBootstrap(func() Handler { return &recordingHandler{} })
	bootstrap.Option(OptAutoRead, true)
	bootstrap.Attr("role", "demo")

	opts, attrs := bootstrap.snapshotOptions()
	bootstrap.Option(OptMaxMessagesPerRead, 4)

	_, hadNewOpt := opts[OptMaxMessagesPerRead]
	require.False(t, hadNewOpt, "snapshot must not observe options set after it was taken")
	require.Equal(t, "demo", attrs["role"])
}
