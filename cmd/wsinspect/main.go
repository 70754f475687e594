// Wsinspect is a WebSocket echo and inspection server.
//
// It accepts WebSocket connections, logs every inbound message (as
// structured JSON when the payload parses, verbatim otherwise) and answers
// each one with a fixed acknowledgement or an echo of the input. It is meant
// for smoke-testing embedded WebSocket clients and observing what they send.
//
// Usage:
//
//	wsinspect server [flags]
//
// See 'wsinspect server --help' for available options.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/wsinspect/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wsinspect",
	Short: "WebSocket echo and inspection server",
	Long: `A WebSocket server that logs every message it receives and answers it.

Payloads that parse as JSON are logged in canonical form; anything else is
logged verbatim. Every message gets exactly one response, either a fixed
acknowledgement or the input echoed back behind a prefix.

Use the separate 'wsinspect-probe' utility to exercise a running server.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String("wsinspect"))
	},
}
