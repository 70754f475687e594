package protocol

import (
	"fmt"
	"strings"
)

// ResponseMode selects the content of the acknowledgement sent for every
// inbound message.
type ResponseMode int

const (
	// ResponseFixed sends the same acknowledgement string every time.
	ResponseFixed ResponseMode = iota
	// ResponseEchoPrefixed sends a fixed label followed by the original input.
	ResponseEchoPrefixed
)

// Mode names as they appear in configuration
const (
	ModeNameFixed        = "fixed"
	ModeNameEchoPrefixed = "echo-prefixed"
)

// Default response strings
const (
	DefaultAck        = "Oh hey dude!"
	DefaultEchoPrefix = "You said: "
)

// String returns the configuration name of the mode
func (m ResponseMode) String() string {
	switch m {
	case ResponseFixed:
		return ModeNameFixed
	case ResponseEchoPrefixed:
		return ModeNameEchoPrefixed
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseResponseMode maps a configuration name to a ResponseMode.
// An empty name selects ResponseFixed.
func ParseResponseMode(name string) (ResponseMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ModeNameFixed:
		return ResponseFixed, nil
	case ModeNameEchoPrefixed, "echo":
		return ResponseEchoPrefixed, nil
	default:
		return ResponseFixed, fmt.Errorf("unknown response mode %q (expected %s or %s)",
			name, ModeNameFixed, ModeNameEchoPrefixed)
	}
}

// Responder builds response payloads.
type Responder struct {
	Mode   ResponseMode
	Ack    string
	Prefix string
}

// NewResponder creates a responder. Empty ack or prefix strings fall back to
// DefaultAck and DefaultEchoPrefix.
func NewResponder(mode ResponseMode, ack, prefix string) *Responder {
	if ack == "" {
		ack = DefaultAck
	}
	if prefix == "" {
		prefix = DefaultEchoPrefix
	}
	return &Responder{Mode: mode, Ack: ack, Prefix: prefix}
}

// Build returns the response for one inbound payload. In echo mode the
// original bytes are echoed as received, before any decoding.
func (r *Responder) Build(original []byte) []byte {
	if r.Mode != ResponseEchoPrefixed {
		return []byte(r.Ack)
	}
	out := make([]byte, 0, len(r.Prefix)+len(original))
	out = append(out, r.Prefix...)
	return append(out, original...)
}
