package cmd

import (
	"errors"

	"github.com/jmylchreest/reelpipe/internal/pipeline"
)

// Process exit codes.
const (
	exitOK            = 0
	exitFailed        = 1
	exitConfig        = 2
	exitExternalError = 3
	exitProbeError    = 4
	exitInterrupted   = 130
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	return &exitError{code: code, err: err}
}

// ExitCode returns the process exit code for an error returned by Execute.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailed
}

// outcomeExitCode maps a run outcome to its exit code.
func outcomeExitCode(o pipeline.Outcome) int {
	switch o {
	case pipeline.OutcomeDone, pipeline.OutcomeStopped:
		return exitOK
	case pipeline.OutcomeInterrupted:
		return exitInterrupted
	case pipeline.OutcomeExternalError:
		return exitExternalError
	case pipeline.OutcomeProbeError:
		return exitProbeError
	default:
		return exitFailed
	}
}
