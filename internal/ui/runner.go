package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// RunnerConfig holds configuration for a multi-step command
type RunnerConfig struct {
	Title           string            // Command title (e.g., "Probe Session")
	Command         string            // Full command (e.g., "wsinspect-probe send")
	Params          map[string]string // Parameters to display in header
	TotalSteps      int               // Total number of steps (for progress)
	StepNames       []string          // Names for each step
	Troubleshooting []string          // Tips printed when the operation fails
	Verbose         bool              // Whether to print the transcript
	Output          io.Writer         // Output writer (default: os.Stdout)
}

// Runner orchestrates the header, progress and result flow for a command.
type Runner struct {
	config     RunnerConfig
	header     *Header
	progress   *Progress
	transcript *Transcript
	output     io.Writer
	width      int
}

// NewRunner creates a new runner
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	width := GetTerminalWidth()

	header := NewHeader(config.Title, config.Command, config.Params)
	header.SetWidth(width)

	var progress *Progress
	if config.TotalSteps > 0 {
		progress = NewProgress("", config.TotalSteps)
		progress.SetWidth(width)
		if len(config.StepNames) > 0 {
			progress.SetStepNames(config.StepNames)
		}
	}

	return &Runner{
		config:     config,
		header:     header,
		progress:   progress,
		transcript: NewTranscript().SetWidth(width),
		output:     config.Output,
		width:      width,
	}
}

// Operation is the work a Runner wraps. It reports progress through onStep,
// records frames in t, and returns details for the success box.
type Operation func(ctx context.Context, onStep StepCallback, t *Transcript) (map[string]string, error)

// Run prints the header, executes op and prints the result box.
// The error from op is returned unchanged.
func (r *Runner) Run(ctx context.Context, op Operation) (map[string]string, error) {
	start := time.Now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	details, err := op(ctx, r.stepCallback(), r.transcript)
	duration := time.Since(start)

	if err != nil {
		r.printFailure(err)
	} else {
		r.printSuccess(details, duration)
	}

	if r.config.Verbose && r.transcript.Len() > 0 {
		_, _ = fmt.Fprintln(r.output)
		_, _ = fmt.Fprintln(r.output, r.transcript.Render())
	}

	return details, err
}

// Progress returns the progress tracker, or nil when TotalSteps was zero
func (r *Runner) Progress() *Progress {
	return r.progress
}

func (r *Runner) stepCallback() StepCallback {
	return func(stepNumber int, name string, status StepStatus, message string) {
		if r.progress == nil || stepNumber < 1 || stepNumber > len(r.progress.Steps) {
			return
		}

		if name != "" {
			r.progress.Steps[stepNumber-1].Name = name
		}
		r.progress.UpdateStep(stepNumber, status, message)

		step := r.progress.Steps[stepNumber-1]
		switch status {
		case StepComplete, StepFailed, StepSkipped:
			_, _ = fmt.Fprintln(r.output, r.progress.renderStepLine(step))
		case StepRunning:
			// Overwritten when the step finishes
			_, _ = fmt.Fprint(r.output, r.progress.renderStepLine(step)+"\r")
		}
	}
}

func (r *Runner) printSuccess(details map[string]string, duration time.Duration) {
	_, _ = fmt.Fprintln(r.output)

	if details == nil {
		details = make(map[string]string)
	}
	details["Duration"] = duration.Round(time.Millisecond).String()

	result := NewSuccessResult(r.config.Title+" complete", details)
	result.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())
}

func (r *Runner) printFailure(err error) {
	_, _ = fmt.Fprintln(r.output)

	result := NewFailureResult(r.config.Title+" failed", err, r.config.Troubleshooting)
	result.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())
}
