package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/muurk/wsinspect/internal/discovery"
	"github.com/muurk/wsinspect/internal/logging"
	"github.com/muurk/wsinspect/internal/probe"
	"github.com/muurk/wsinspect/internal/server"
	"github.com/muurk/wsinspect/internal/ui"
	"github.com/muurk/wsinspect/internal/version"
)

// Send command flags
var (
	nulPad   int
	binary   bool
	caFile   string
	insecure bool
	sendPing bool
	timeout  time.Duration
	verbose  bool
)

// Discover and analyze command flags
var (
	discoverTimeout time.Duration
	jsonOutput      bool
	listMessages    bool
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(analyzeCmd)
}

// sendCmd replays the smoke test against a server
var sendCmd = &cobra.Command{
	Use:   "send URL [messages...]",
	Short: "Send messages and report the replies",
	Long: `Connect to a WebSocket endpoint, send each message as one frame and wait
for the reply to it, then close the connection normally.

Without messages, the two default JSON payloads are sent:
a short one and a long nested one.

Embedded clients often send fixed-size buffers padded with NUL bytes; use
--nul-pad to reproduce that against a server running with
--frame-decoding nul-terminated.`,
	Example: `  # Default smoke test
  wsinspect-probe send ws://localhost:8000/

  # Custom messages, then a ping
  wsinspect-probe send ws://localhost:8000/ hello '{"a":1}' --ping

  # Binary frames padded to 64 bytes
  wsinspect-probe send ws://localhost:8000/ hello --binary --nul-pad 64

  # TLS server using a generated CA
  wsinspect-probe send wss://localhost:8443/ --ca ./ca.pem

  # Show every frame exchanged
  wsinspect-probe send ws://localhost:8000/ -v`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().IntVar(&nulPad, "nul-pad", 0, "Pad each message with NUL bytes to this size")
	sendCmd.Flags().BoolVar(&binary, "binary", false, "Send binary frames instead of text")
	sendCmd.Flags().StringVar(&caFile, "ca", "", "PEM file with a CA to trust for wss://")
	sendCmd.Flags().BoolVar(&insecure, "insecure", false, "Skip server certificate verification")
	sendCmd.Flags().BoolVar(&sendPing, "ping", false, "Send a ping after the messages and wait for the pong")
	sendCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for the handshake and for each reply")
	sendCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every frame exchanged")
}

var sendTroubleshooting = []string{
	"Check that the server is running: wsinspect server",
	"Check the scheme: ws:// for plaintext, wss:// for TLS",
	"For a generated certificate, pass the CA with --ca or use --insecure",
	"Set WSINSPECT_LOG_LEVEL=debug for client logs",
}

func runSend(cmd *cobra.Command, args []string) error {
	url := args[0]
	messages := args[1:]
	if len(messages) == 0 {
		messages = []string{probe.ShortMessage, probe.LongMessage}
	}

	// Silent unless WSINSPECT_LOG_LEVEL is set
	_ = logging.InitializeFromEnv()
	defer logging.Sync()

	payloads := make([][]byte, len(messages))
	stepNames := []string{"Connect"}
	for i, m := range messages {
		payloads[i] = []byte(m)
		if nulPad > 0 {
			payloads[i] = probe.NulPad(payloads[i], nulPad)
		}
		stepNames = append(stepNames, fmt.Sprintf("Message %d (%d bytes)", i+1, len(payloads[i])))
	}
	if sendPing {
		stepNames = append(stepNames, "Ping")
	}
	stepNames = append(stepNames, "Close")

	frame := "text"
	if binary {
		frame = "binary"
	}
	params := map[string]string{
		"URL":      url,
		"Messages": strconv.Itoa(len(messages)),
		"Frames":   frame,
	}
	if nulPad > 0 {
		params["NUL pad"] = strconv.Itoa(nulPad)
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:           "Probe Session",
		Command:         "wsinspect-probe send",
		Params:          params,
		TotalSteps:      len(stepNames),
		StepNames:       stepNames,
		Troubleshooting: sendTroubleshooting,
		Verbose:         verbose,
		Output:          cmd.OutOrStdout(),
	})

	opts := probe.Options{
		CAFile:           caFile,
		Insecure:         insecure,
		Binary:           binary,
		HandshakeTimeout: timeout,
		Header:           http.Header{"User-Agent": {version.UserAgent("wsinspect-probe")}},
		Logger:           logging.Named("probe"),
	}

	_, err := runner.Run(cmd.Context(), func(ctx context.Context, onStep ui.StepCallback, t *ui.Transcript) (map[string]string, error) {
		return probeSession(ctx, url, opts, payloads, sendPing, timeout, onStep, t)
	})
	return err
}

// probeSession runs connect, one exchange per payload, an optional ping
// and a normal close, reporting each as a step.
func probeSession(ctx context.Context, url string, opts probe.Options, payloads [][]byte, ping bool, wait time.Duration, onStep ui.StepCallback, t *ui.Transcript) (map[string]string, error) {
	step := 1
	onStep(step, "", ui.StepRunning, "")
	dialCtx, cancel := context.WithTimeout(ctx, wait)
	client, err := probe.Dial(dialCtx, url, opts)
	cancel()
	if err != nil {
		onStep(step, "", ui.StepFailed, "")
		return nil, err
	}
	onStep(step, "", ui.StepComplete, "")

	abort := func(err error) (map[string]string, error) {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
		return nil, err
	}

	var (
		total     time.Duration
		lastReply string
	)
	for i, payload := range payloads {
		step++
		onStep(step, "", ui.StepRunning, "")
		t.Add(ui.Entry{Direction: ui.Sent, Text: string(payload), Binary: opts.Binary})

		reqCtx, cancel := context.WithTimeout(ctx, wait)
		reply, err := client.Exchange(reqCtx, payload)
		cancel()
		if err != nil {
			onStep(step, "", ui.StepFailed, "no reply")
			return abort(fmt.Errorf("message %d: %w", i+1, err))
		}

		t.Add(ui.Entry{
			Direction: ui.Received,
			Text:      string(reply.Data),
			Binary:    reply.Type == websocket.BinaryMessage,
			RTT:       reply.RTT,
		})
		total += reply.RTT
		lastReply = string(reply.Data)
		onStep(step, "", ui.StepComplete, reply.RTT.Round(time.Microsecond).String())
	}

	details := map[string]string{
		"Replies":    strconv.Itoa(len(payloads)),
		"Last reply": ui.Printable(lastReply),
	}
	if len(payloads) > 0 {
		details["Average RTT"] = (total / time.Duration(len(payloads))).Round(time.Microsecond).String()
	}

	if ping {
		step++
		onStep(step, "", ui.StepRunning, "")
		pingCtx, cancel := context.WithTimeout(ctx, wait)
		rtt, err := client.Ping(pingCtx)
		cancel()
		if err != nil {
			onStep(step, "", ui.StepFailed, "")
			return abort(fmt.Errorf("ping: %w", err))
		}
		details["Ping RTT"] = rtt.Round(time.Microsecond).String()
		onStep(step, "", ui.StepComplete, details["Ping RTT"])
	}

	step++
	onStep(step, "", ui.StepRunning, "")
	closeCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := client.Close(closeCtx); err != nil {
		onStep(step, "", ui.StepFailed, "")
		return nil, fmt.Errorf("close: %w", err)
	}
	onStep(step, "", ui.StepComplete, "1000")

	return details, nil
}

// discoverCmd browses mDNS for servers started with --advertise
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find wsinspect servers on the local network",
	Long: `Browse mDNS/DNS-SD for servers started with 'wsinspect server --advertise'
and list their WebSocket URLs.`,
	Example: `  # Browse for 5 seconds (default)
  wsinspect-probe discover

  # Longer browse, machine-readable output
  wsinspect-probe discover --timeout 15s --json`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for answers")
	discoverCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print endpoints as JSON")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	_ = logging.InitializeFromEnv()
	defer logging.Sync()

	scanner := discovery.NewScanner()
	scanner.Timeout = discoverTimeout

	printer := ui.NewPrinter(cmd.OutOrStdout())
	if !jsonOutput {
		printer.PrintHeader("Server Discovery", "wsinspect-probe discover", map[string]string{
			"Service": discovery.ServiceType + "." + discovery.ServiceDomain,
			"Timeout": discoverTimeout.String(),
		})
	}

	endpoints, err := scanner.Scan(cmd.Context())
	if err != nil {
		if !jsonOutput {
			printer.PrintError("Discovery failed", err, []string{
				"Check that multicast traffic is allowed on this network",
			})
		}
		return err
	}

	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Instance < endpoints[j].Instance })

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(endpoints)
	}

	if len(endpoints) == 0 {
		printer.PrintWarning("No servers found", map[string]string{
			"Timeout": discoverTimeout.String(),
			"Hint":    "start the server with --advertise",
		})
		return nil
	}

	rows := make([][]string, 0, len(endpoints))
	for _, e := range endpoints {
		rows = append(rows, []string{
			e.Instance,
			strings.TrimSuffix(e.Hostname, "."),
			e.URL(),
			e.GetMetadata("response_mode"),
		})
	}
	printer.PrintTable([]string{"INSTANCE", "HOST", "URL", "MODE"}, rows)
	printer.Newline()
	printer.Println(ui.StepNoteStyle.Render(fmt.Sprintf("  Found %d server(s). Use 'wsinspect-probe send <url>' to test one.", len(endpoints))))
	return nil
}

// analyzeCmd summarizes a capture file
var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Summarize a message capture file",
	Long: `Read a capture file written by 'wsinspect server --analysis-dir' and print
totals per connection, message type and classification.`,
	Example: `  # Summary only
  wsinspect-probe analyze ./captures/capture-20260301.jsonl

  # Include one line per message
  wsinspect-probe analyze ./captures/capture-20260301.jsonl --messages`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&listMessages, "messages", false, "List every captured message")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	file := args[0]
	records, err := server.ReadCaptureFile(file)
	if err != nil {
		return err
	}
	return ui.RenderOnce(cmd.OutOrStdout(), renderAnalysis(file, records, listMessages, ui.GetTerminalWidth()))
}

func renderAnalysis(file string, records []server.CaptureRecord, withMessages bool, width int) string {
	sum := server.Summarize(records)

	var b strings.Builder
	b.WriteString(ui.NewHeader("Capture Analysis", "wsinspect-probe analyze", map[string]string{
		"File": file,
	}).SetWidth(width).Render())
	b.WriteString("\n\n")

	if sum.Messages == 0 {
		b.WriteString(ui.NewWarningResult("Capture file is empty", nil).SetWidth(width).Render())
		return b.String()
	}

	details := map[string]string{
		"Messages":    strconv.Itoa(sum.Messages),
		"Connections": strconv.Itoa(sum.Connections),
		"Structured":  strconv.Itoa(sum.Structured),
		"Raw text":    strconv.Itoa(sum.RawText),
		"Bytes":       strconv.Itoa(sum.Bytes),
		"First":       sum.First.Format(time.RFC3339),
		"Last":        sum.Last.Format(time.RFC3339),
		"Span":        sum.Last.Sub(sum.First).Round(time.Millisecond).String(),
	}
	b.WriteString(ui.NewSuccessResult("Capture summary", details).SetWidth(width).Render())
	b.WriteString("\n\n")

	types := make([]string, 0, len(sum.ByType))
	for t := range sum.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	typeRows := make([][]string, 0, len(types))
	for _, t := range types {
		typeRows = append(typeRows, []string{t, strconv.Itoa(sum.ByType[t])})
	}
	b.WriteString(ui.RenderTable([]string{"TYPE", "COUNT"}, typeRows))

	if withMessages {
		rows := make([][]string, 0, len(records))
		for _, rec := range records {
			rows = append(rows, []string{
				strconv.FormatUint(rec.MessageNum, 10),
				shortID(rec.ConnectionID),
				rec.MessageType,
				rec.Classification,
				strconv.Itoa(rec.PayloadLen),
				preview(rec.Text, 40),
			})
		}
		b.WriteString("\n\n")
		b.WriteString(ui.RenderTable([]string{"#", "CONN", "TYPE", "KIND", "LEN", "TEXT"}, rows))
	}

	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func preview(s string, n int) string {
	s = ui.Printable(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
