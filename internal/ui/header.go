package ui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the banner printed before a command does any work.
// Params are rendered in key order so output is stable between runs.
type Header struct {
	Title   string            // e.g., "Probe Session"
	Command string            // e.g., "wsinspect-probe send"
	Params  map[string]string // e.g., {"URL": "ws://localhost:8000/"}
	Width   int               // Terminal width for responsive rendering
}

// NewHeader creates a new header with the given values
func NewHeader(title, command string, params map[string]string) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header as a string
func (h *Header) Render() string {
	width := h.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	titleLine := HeaderTitleStyle.Render(strings.ToUpper(h.Title))
	commandLine := HeaderCommandStyle.Render(h.Command)
	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, commandLine)

	if len(h.Params) > 0 {
		dividerWidth := width - 6 // border and padding
		if dividerWidth < 10 {
			dividerWidth = 10
		}
		divider := RenderHorizontalDivider(dividerWidth, "─")
		content = lipgloss.JoinVertical(lipgloss.Left, content, divider, renderParams(h.Params))
	}

	return HeaderBorderStyle(width).Render(content)
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}

func renderParams(params map[string]string) string {
	keyWidth := 0
	for key := range params {
		if w := lipgloss.Width(key); w > keyWidth {
			keyWidth = w
		}
	}

	lines := make([]string, 0, len(params))
	for _, key := range sortedKeys(params) {
		label := key + ":" + strings.Repeat(" ", keyWidth-lipgloss.Width(key))
		lines = append(lines, HeaderParamKeyStyle.Render(label)+" "+HeaderParamValueStyle.Render(params[key]))
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
