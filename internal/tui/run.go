package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run launches the interactive dashboard against a daemon's introspection
// address and blocks until the user quits or the program errors.
func Run(addr, theme string) error {
	p := tea.NewProgram(NewModel(addr, theme), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
