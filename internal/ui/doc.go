// Package ui provides terminal UI components for the wsinspect CLIs.
//
// This package uses Bubble Tea and Lipgloss to render polished terminal
// output. The components follow a "run once and exit" pattern: they render
// output compellingly but don't require user interaction, apart from the
// overwrite confirmation.
//
// # Components
//
//   - Header: Command banner showing operation name and parameters
//   - Progress: Progress bar with step list showing real-time status
//   - Result: Success/failure/warning boxes with styled information
//   - Transcript: Frames exchanged with a server, for verbose mode
//   - RenderTable: Column listing used by discover and analyze
//
// Multi-step commands use a Runner, which drives the
// header → progress → result flow:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:      "Probe Session",
//	    Command:    "wsinspect-probe send",
//	    Params:     map[string]string{"URL": url},
//	    TotalSteps: len(messages),
//	    Verbose:    verbose,
//	})
//
//	_, err := runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback, t *ui.Transcript) (map[string]string, error) {
//	    onStep(1, "Short message", ui.StepRunning, "")
//	    // ... exchange ...
//	    onStep(1, "Short message", ui.StepComplete, "3ms")
//	    return nil, nil
//	})
//
// # Logging Integration
//
// Client commands keep zap silent unless WSINSPECT_LOG_LEVEL is set, so
// that the curated UI output is displayed cleanly.
package ui
