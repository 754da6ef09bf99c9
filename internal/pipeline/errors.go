package pipeline

import (
	"errors"
	"fmt"
)

// Pipeline errors.
var (
	// ErrInterrupted is returned when the run context is cancelled.
	ErrInterrupted = errors.New("pipeline interrupted")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("pipeline already running")
)

// ConfigurationError represents a setup problem with one configuration field.
type ConfigurationError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configError(field string, err error) error {
	return &ConfigurationError{Field: field, Err: err}
}
