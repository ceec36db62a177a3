package tui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStylesAllFlavors(t *testing.T) {
	for _, flavor := range []string{"latte", "frappe", "macchiato", "mocha", "unknown"} {
		s := NewStyles(flavor)
		require.True(t, s.TitleStyle().GetBold())
		require.NotEmpty(t, s.StateActiveStyle().Render("x"))
	}
}

func TestStateStyleBySnapshotState(t *testing.T) {
	s := NewStyles("mocha")
	require.Equal(t, s.StateActiveStyle(), s.StateStyle("active"))
	require.Equal(t, s.StateClosedStyle(), s.StateStyle("closed"))
	require.Equal(t, s.StateIdleStyle(), s.StateStyle("idle"))
	require.Equal(t, s.StateIdleStyle(), s.StateStyle("unknown"))
}
