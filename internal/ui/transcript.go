package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Direction of a transcript entry
type Direction int

const (
	Sent Direction = iota
	Received
)

// Entry is one frame shown in a Transcript
type Entry struct {
	Direction Direction
	Text      string
	Binary    bool
	RTT       time.Duration // zero for sent frames
}

// Transcript is a box listing the frames exchanged during a session.
// Verbose commands print it after the result box.
type Transcript struct {
	Title    string
	Entries  []Entry
	Width    int
	MaxLines int // 0 = unlimited
}

// NewTranscript creates an empty transcript
func NewTranscript() *Transcript {
	return &Transcript{
		Title: "Transcript",
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (t *Transcript) SetWidth(width int) *Transcript {
	t.Width = width
	return t
}

// SetMaxLines limits the number of entries displayed
func (t *Transcript) SetMaxLines(max int) *Transcript {
	t.MaxLines = max
	return t
}

// Add appends an entry
func (t *Transcript) Add(e Entry) {
	t.Entries = append(t.Entries, e)
}

// Len returns the number of entries
func (t *Transcript) Len() int {
	return len(t.Entries)
}

// Render returns the styled transcript box as a string
func (t *Transcript) Render() string {
	width := t.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	entries := t.Entries
	truncated := 0
	if t.MaxLines > 0 && len(entries) > t.MaxLines {
		truncated = len(entries) - t.MaxLines
		entries = entries[:t.MaxLines]
	}

	// Room for the box, the arrow and the frame tag
	textWidth := width - 24
	if textWidth < 20 {
		textWidth = 20
	}

	lines := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		lines = append(lines, renderEntry(e, textWidth))
	}
	if truncated > 0 {
		lines = append(lines, StepNoteStyle.Render(fmt.Sprintf("... (%d more)", truncated)))
	}
	if len(lines) == 0 {
		lines = append(lines, StepNoteStyle.Render("(no frames)"))
	}

	inner := lipgloss.JoinVertical(lipgloss.Left,
		TranscriptTitleStyle.Render(t.Title), "", strings.Join(lines, "\n"))

	return TranscriptBoxStyle(width).
		MarginLeft(2).
		Render(inner)
}

// String implements fmt.Stringer
func (t *Transcript) String() string {
	return t.Render()
}

func renderEntry(e Entry, textWidth int) string {
	tag := "txt"
	if e.Binary {
		tag = "bin"
	}

	text := Printable(e.Text)
	if r := []rune(text); len(r) > textWidth {
		text = string(r[:textWidth-1]) + "…"
	}

	if e.Direction == Sent {
		return TranscriptSentStyle.Render(fmt.Sprintf("→ [%s] %s", tag, text))
	}
	line := TranscriptReceivedStyle.Render(fmt.Sprintf("← [%s] %s", tag, text))
	if e.RTT > 0 {
		line += "  " + StepNoteStyle.Render("("+e.RTT.Round(time.Microsecond).String()+")")
	}
	return line
}

// Printable replaces control characters (including NUL padding) with '.'
// so raw frames can be shown on a terminal.
func Printable(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '.'
		}
		return r
	}, s)
}
