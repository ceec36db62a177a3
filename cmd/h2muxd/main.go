// Command h2muxd is the reference daemon around the http2 package: it
// accepts h2c connections, multiplexes their streams through http2.Core,
// and exposes a read-only registry snapshot feed a `top` client can watch.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCommand = &cobra.Command{
	Use:   "h2muxd",
	Short: "h2muxd multiplexes HTTP/2 streams and serves a live registry view",
}

func init() {
	cobra.EnableCommandSorting = false
	rootCommand.AddCommand(serveCommand, topCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
