// Package tui renders the live stream-registry dashboard `h2muxd top`
// shows, fed by internal/introspect.
package tui

import (
	catppuccin "github.com/catppuccin/go"
	"github.com/charmbracelet/lipgloss"
)

// Styles holds the palette for one catppuccin flavor.
type Styles struct {
	flavor catppuccin.Flavor
}

// NewStyles builds a Styles for themeName, defaulting to mocha for an
// unknown or empty name.
func NewStyles(themeName string) *Styles {
	return &Styles{flavor: flavorFromName(themeName)}
}

func flavorFromName(name string) catppuccin.Flavor {
	switch name {
	case "latte":
		return catppuccin.Latte
	case "frappe":
		return catppuccin.Frappe
	case "macchiato":
		return catppuccin.Macchiato
	case "mocha":
		return catppuccin.Mocha
	default:
		return catppuccin.Mocha
	}
}

func (s *Styles) TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(s.flavor.Mauve().Hex)).
		MarginBottom(1)
}

func (s *Styles) SubtitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(s.flavor.Subtext0().Hex))
}

func (s *Styles) HeaderStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(s.flavor.Subtext0().Hex)).
		Background(lipgloss.Color(s.flavor.Surface0().Hex))
}

func (s *Styles) BoxStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(s.flavor.Surface1().Hex)).
		Padding(0, 1)
}

func (s *Styles) StateActiveStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(s.flavor.Green().Hex))
}

func (s *Styles) StateIdleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(s.flavor.Overlay0().Hex))
}

func (s *Styles) StateClosedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(s.flavor.Red().Hex))
}

func (s *Styles) BatchStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(s.flavor.Teal().Hex))
}

func (s *Styles) HelpStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(s.flavor.Overlay0().Hex)).
		MarginTop(1)
}

func (s *Styles) ErrorStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(s.flavor.Red().Hex))
}

// StateStyle picks a style by the stream state string from
// introspect.Snapshot.State ("idle", "active", "closed").
func (s *Styles) StateStyle(state string) lipgloss.Style {
	switch state {
	case "active":
		return s.StateActiveStyle()
	case "closed":
		return s.StateClosedStyle()
	default:
		return s.StateIdleStyle()
	}
}
