package tui

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/jakegut/h2demux/internal/introspect"
)

// IsTerminal reports whether stdout is a TTY bubbletea can take over.
// `h2muxd top` checks this before launching the full dashboard, the same
// gate mutagen's status-line printer implicitly depends on (its carriage-
// return tricks only make sense on a real terminal).
func IsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// RunPlain is the non-interactive fallback for `h2muxd top` when stdout
// isn't a TTY: a colorized one-line-per-refresh status dump instead of the
// bubbletea dashboard, grounded on mutagen's StatusLinePrinter (colorized
// output via color.Output, no cursor control since there's no terminal to
// control). Blocks until ctx is done or the connection fails permanently.
func RunPlain(ctx context.Context, addr string) error {
	client, err := introspect.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	active := color.New(color.FgGreen)
	idle := color.New(color.FgHiBlack)
	closed := color.New(color.FgRed)

	for {
		frame, err := client.Next(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(color.Output, "--- %s (%d streams) ---\n", time.Now().Format(time.RFC3339), len(frame.Streams))
		for _, s := range frame.Streams {
			c := idle
			switch s.State {
			case "active":
				c = active
			case "closed":
				c = closed
			}
			c.Fprintf(color.Output, "stream %d  %-7s window=%d batch=%v\n", s.StreamID, s.State, s.Window, s.InReadCompleteBatch)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
