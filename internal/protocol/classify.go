package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind tags a Classification
type Kind int

const (
	// KindRawText means the payload was not a single valid JSON value.
	KindRawText Kind = iota
	// KindStructured means the payload parsed as exactly one JSON value.
	KindStructured
)

// String returns a lowercase name used in logs and capture files
func (k Kind) String() string {
	switch k {
	case KindRawText:
		return "raw_text"
	case KindStructured:
		return "structured"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Classification is the outcome of Classify.
//
// For KindStructured, Value holds the generic JSON tree (map[string]any,
// []any, json.Number, string, bool or nil) and Canonical its compact encoding.
// For KindRawText, Err explains why parsing failed. Text is always the input.
type Classification struct {
	Kind      Kind
	Text      string
	Value     any
	Canonical string
	Err       *ClassificationError
}

// IsStructured reports whether the payload parsed as JSON
func (c Classification) IsStructured() bool {
	return c.Kind == KindStructured
}

// String returns the canonical JSON for structured payloads and the text
// verbatim otherwise.
func (c Classification) String() string {
	if c.Kind == KindStructured {
		return c.Canonical
	}
	return c.Text
}

// Pretty returns indented JSON for structured payloads and the text verbatim
// otherwise.
func (c Classification) Pretty() string {
	if c.Kind != KindStructured {
		return c.Text
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(c.Canonical), "", "  "); err != nil {
		return c.Canonical
	}
	return buf.String()
}

// Classify attempts a strict JSON parse of text. Exactly one JSON value,
// optionally surrounded by whitespace, is accepted; anything else, including
// trailing data after a valid value, yields a raw text classification that
// carries the original text unchanged.
func Classify(text string) Classification {
	value, err := parseStrict(text)
	if err != nil {
		return Classification{
			Kind: KindRawText,
			Text: text,
			Err:  err,
		}
	}

	canonical, encErr := encodeCanonical(value)
	if encErr != nil {
		// The tree came out of the decoder, so this only happens on a
		// programming error; fall back to the input text.
		canonical = strings.TrimSpace(text)
	}

	return Classification{
		Kind:      KindStructured,
		Text:      text,
		Value:     value,
		Canonical: canonical,
	}
}

func parseStrict(text string) (any, *ClassificationError) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ClassificationError{Err: errors.New("empty payload")}
		}
		return nil, newClassificationError(err, dec.InputOffset())
	}

	// Anything but whitespace after the first value is trailing garbage
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return nil, newClassificationError(err, dec.InputOffset())
	}

	return value, nil
}

func newClassificationError(err error, offset int64) *ClassificationError {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		offset = syntaxErr.Offset
	}
	return &ClassificationError{Offset: offset, Err: err}
}

func encodeCanonical(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
