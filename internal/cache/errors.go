package cache

import (
	"errors"
	"fmt"

	"github.com/cwbudde/msearch/internal/point"
)

var (
	// ErrEvaluation matches every *EvaluationError via errors.Is.
	ErrEvaluation = errors.New("evaluation failed")

	// ErrNotComputed is returned for a point that is neither committed nor in
	// flight. Seeing it means the caller never submitted the point.
	ErrNotComputed = errors.New("point was never computed")

	// ErrNaN is the cause recorded when the objective returns NaN.
	ErrNaN = errors.New("objective returned NaN")

	// ErrClosed is the cause recorded for work submitted after Close.
	ErrClosed = errors.New("cache is closed")
)

// EvaluationError reports a failure of the objective at a point.
type EvaluationError struct {
	Point point.Point
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed at %v: %v", e.Point, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}
