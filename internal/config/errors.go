package config

import "fmt"

// ValidationError reports a configuration value that cannot be used.
type ValidationError struct {
	// Field is the yaml key of the offending value
	Field string
	// Value is the rejected value as given
	Value any
	// Reason explains what was expected
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// LoadError wraps a failure to read or parse a configuration source.
type LoadError struct {
	// Source is the file path or environment variable that failed
	Source string
	// Underlying error
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load config from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
