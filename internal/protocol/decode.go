package protocol

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DecodePolicy selects how a raw frame payload is turned into text.
type DecodePolicy int

const (
	// DecodeRaw treats the whole buffer as character data.
	DecodeRaw DecodePolicy = iota
	// DecodeNulTerminated keeps only the bytes before the first zero byte.
	// Some embedded clients pad their frames with trailing NULs.
	DecodeNulTerminated
)

// Policy names as they appear in configuration
const (
	PolicyNameRaw           = "raw"
	PolicyNameNulTerminated = "nul-terminated"
)

// String returns the configuration name of the policy
func (p DecodePolicy) String() string {
	switch p {
	case DecodeRaw:
		return PolicyNameRaw
	case DecodeNulTerminated:
		return PolicyNameNulTerminated
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseDecodePolicy maps a configuration name to a DecodePolicy.
// An empty name selects DecodeRaw.
func ParseDecodePolicy(name string) (DecodePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyNameRaw:
		return DecodeRaw, nil
	case PolicyNameNulTerminated, "nul":
		return DecodeNulTerminated, nil
	default:
		return DecodeRaw, fmt.Errorf("unknown frame decoding %q (expected %s or %s)",
			name, PolicyNameRaw, PolicyNameNulTerminated)
	}
}

// Decoder converts inbound frame payloads to text.
type Decoder struct {
	Policy DecodePolicy
}

// NewDecoder creates a decoder for the given policy
func NewDecoder(policy DecodePolicy) *Decoder {
	return &Decoder{Policy: policy}
}

// Decode never fails. Invalid UTF-8 sequences are replaced with U+FFFD.
func (d *Decoder) Decode(data []byte) string {
	if d.Policy == DecodeNulTerminated {
		if i := bytes.IndexByte(data, 0); i >= 0 {
			data = data[:i]
		}
	}

	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}
