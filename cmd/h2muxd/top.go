package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jakegut/h2demux/internal/tui"
)

type topFlags struct {
	addr  string
	theme string
}

var topConfig topFlags

var topCommand = &cobra.Command{
	Use:   "top",
	Short: "Watch a running h2muxd daemon's stream registry",
	RunE:  runTop,
}

func init() {
	flags := topCommand.Flags()
	flags.StringVar(&topConfig.addr, "addr", "ws://127.0.0.1:8090/snapshots", "introspection websocket address")
	flags.StringVar(&topConfig.theme, "theme", "mocha", "catppuccin flavor (latte, frappe, macchiato, mocha)")
}

func runTop(cmd *cobra.Command, args []string) error {
	if !tui.IsTerminal() {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return tui.RunPlain(ctx, topConfig.addr)
	}
	if err := tui.Run(topConfig.addr, topConfig.theme); err != nil {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}
