package pipeline

import (
	"errors"
	"time"

	"github.com/jmylchreest/reelpipe/internal/encoder"
	"github.com/jmylchreest/reelpipe/internal/importer"
)

// Outcome summarizes how a run ended.
type Outcome string

// Run outcomes.
const (
	OutcomeDone          Outcome = "done"
	OutcomeStopped       Outcome = "stopped"
	OutcomeInterrupted   Outcome = "interrupted"
	OutcomeExternalError Outcome = "external_error"
	OutcomeProbeError    Outcome = "probe_error"
	OutcomeFailed        Outcome = "failed"
)

// ImportResult is the final state of one import loop.
type ImportResult struct {
	Kind   string `json:"kind" yaml:"kind"`
	Active bool   `json:"active" yaml:"active"`
	Frames int64  `json:"frames" yaml:"frames"`
	Cause  string `json:"cause" yaml:"cause"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	RunID      string        `json:"run_id"`
	Outcome    Outcome       `json:"outcome"`
	Encoder    encoder.Stats `json:"encoder"`
	Video      ImportResult  `json:"video"`
	Audio      ImportResult  `json:"audio"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// ErrMessage returns the run error as a string, or empty.
func (r *Result) ErrMessage() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func importResult(l *importer.Loop) ImportResult {
	res := ImportResult{
		Kind:   l.Kind().String(),
		Frames: l.Frames(),
		Cause:  l.Cause().String(),
	}
	if err := l.Err(); err != nil {
		res.Error = err.Error()
	}
	return res
}

// classify derives the run outcome. Cancellation wins over everything,
// then a probe mismatch, an encode failure, a source read failure and an
// explicit stop.
func classify(cancelled bool, state encoder.State, encErr error, loops ...*importer.Loop) (Outcome, error) {
	if cancelled {
		return OutcomeInterrupted, ErrInterrupted
	}
	for _, l := range loops {
		if l.Cause() == importer.CauseProbeError {
			return OutcomeProbeError, l.Err()
		}
	}
	if state == encoder.StateError {
		return OutcomeFailed, encErr
	}
	var errs []error
	for _, l := range loops {
		if l.Cause() == importer.CauseExternalError {
			errs = append(errs, l.Err())
		}
	}
	if len(errs) > 0 {
		return OutcomeExternalError, errors.Join(errs...)
	}
	if state == encoder.StateStopping {
		return OutcomeStopped, nil
	}
	return OutcomeDone, nil
}
