package sensor

import (
	"fmt"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

// FitErrorKind is the closed set of regression fitting failures.
type FitErrorKind int

const (
	// InsufficientHistory: the training window is empty or inverted; the
	// available data is all too recent to train on.
	InsufficientHistory FitErrorKind = iota
	// InsufficientTrainingData: fewer training instances than the
	// rule-of-thumb minimum of max(10 x features, 52).
	InsufficientTrainingData
	// InsufficientSignalHistory: the covariate series is too short.
	InsufficientSignalHistory
	// InsufficientLabelHistory: too few aligned (covariate, truth) pairs
	// remain after dropping weeks with missing ground truth.
	InsufficientLabelHistory
	// SignalUnavailable: the covariate has no value for the target week.
	SignalUnavailable
	// FutureTraining: the model was trained on a week after the requested
	// prediction week. Caller misuse, never recoverable.
	FutureTraining
)

func (k FitErrorKind) String() string {
	switch k {
	case InsufficientHistory:
		return "insufficient history"
	case InsufficientTrainingData:
		return "insufficient training data"
	case InsufficientSignalHistory:
		return "insufficient signal history"
	case InsufficientLabelHistory:
		return "insufficient label history"
	case SignalUnavailable:
		return "signal unavailable"
	case FutureTraining:
		return "trained on future data"
	}
	return "unknown"
}

// FitError is a regression fitting failure for one (sensor, location, week).
type FitError struct {
	Kind     FitErrorKind
	Sensor   string
	Location string
	Week     epiweek.Week
	Detail   string
}

func (e *FitError) Error() string {
	msg := fmt.Sprintf("sensor %s/%s@%s: %s", e.Sensor, e.Location, e.Week, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Recoverable reports whether the orchestrator may skip this week and move
// on. Everything except a future-training violation is a per-week data
// problem.
func (e *FitError) Recoverable() bool {
	return e.Kind != FutureTraining
}

func fitErr(kind FitErrorKind, name, location string, week epiweek.Week, format string, args ...any) *FitError {
	return &FitError{
		Kind:     kind,
		Sensor:   name,
		Location: location,
		Week:     week,
		Detail:   fmt.Sprintf(format, args...),
	}
}
