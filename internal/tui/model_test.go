package tui

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jakegut/h2demux/internal/introspect"
)

func TestApplyFrameBuildsRows(t *testing.T) {
	m := NewModel("ws://127.0.0.1:8090/snapshots", "mocha")
	m.applyFrame(introspect.Frame{
		SubscriptionID: "sub-1",
		Streams: []introspect.Snapshot{
			{StreamID: 1, State: "active", Window: 65535, InReadCompleteBatch: true},
			{StreamID: 3, State: "idle", Window: 0},
		},
	})
	require.Len(t, m.table.Rows(), 2)
	require.Equal(t, "1", m.table.Rows()[0][0])
	require.Equal(t, "active", m.table.Rows()[0][1])
	require.Equal(t, "yes", m.table.Rows()[0][3])
}

func TestClampNonNegative(t *testing.T) {
	require.Equal(t, int64(0), clampNonNegative(-5))
	require.Equal(t, int64(42), clampNonNegative(42))
}
