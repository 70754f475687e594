package protocol

import "fmt"

// DecodeError represents a payload that a decode policy refused to convert.
// The built-in policies are total and never produce it.
type DecodeError struct {
	// Policy is the decode policy that failed
	Policy DecodePolicy
	// Length is the size of the rejected payload
	Length int
	// Underlying error
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %d byte payload with policy %s: %v", e.Length, e.Policy, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ClassificationError records why a payload was not accepted as JSON.
// It never reaches callers of Classify as an error return; it is carried
// inside a raw text Classification for logging.
type ClassificationError struct {
	// Offset is the byte offset at which parsing stopped, when known
	Offset int64
	// Underlying error from the JSON decoder
	Err error
}

func (e *ClassificationError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("payload is not JSON (offset %d): %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("payload is not JSON: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}
