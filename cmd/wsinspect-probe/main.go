// Wsinspect-probe is a client for exercising wsinspect servers.
//
// It replays the smoke test the server was built for (a short JSON message,
// a long JSON message, a ping and a normal close), finds servers on the
// local network over mDNS, and summarizes message capture files.
//
// Usage:
//
//	wsinspect-probe [command] [flags]
//
// See 'wsinspect-probe --help' for available commands.
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
	Use:   "wsinspect-probe",
	Short: "WebSocket smoke-test client",
	Long: `A client utility for wsinspect servers.

Sends messages to a WebSocket endpoint and reports the replies, discovers
servers advertised over mDNS, and summarizes capture files written by
'wsinspect server --analysis-dir'.

Logging is silent by default; set WSINSPECT_LOG_LEVEL=debug for details.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Example: `  # Replay the default smoke test
  wsinspect-probe send ws://localhost:8000/

  # Find servers on the local network
  wsinspect-probe discover

  # Summarize a capture file
  wsinspect-probe analyze ./captures/capture-20260301.jsonl`,
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
		fmt.Fprintln(cmd.OutOrStdout(), version.String("wsinspect-probe"))
	},
}
