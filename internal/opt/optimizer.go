package opt

import (
	"context"
	"fmt"
	"math"

	"github.com/cwbudde/msearch/internal/bench"
	"github.com/cwbudde/msearch/internal/search"
)

// Problem is a box-bounded minimization problem.
type Problem struct {
	// Objective is the function to minimize. It is called concurrently by
	// the pattern-search backend and must be safe for that.
	Objective func([]float64) float64

	Lower, Upper []float64

	// Start is the initial point for local methods. Defaults to the center of
	// the box.
	Start []float64

	// Controller, if set, observes every pattern-search step and can stop the
	// run. The mayfly backend has no step hook and ignores it.
	Controller search.Controller
}

// Dim returns the dimensionality of the parameter space.
func (p Problem) Dim() int { return len(p.Lower) }

func (p Problem) validate() error {
	if p.Objective == nil {
		return fmt.Errorf("%w: nil objective", search.ErrInvalidConfig)
	}
	if len(p.Lower) == 0 || len(p.Lower) != len(p.Upper) {
		return fmt.Errorf("%w: bounds have lengths %d and %d", search.ErrInvalidConfig, len(p.Lower), len(p.Upper))
	}
	for i := range p.Lower {
		if !(p.Lower[i] <= p.Upper[i]) || math.IsInf(p.Lower[i], 0) || math.IsInf(p.Upper[i], 0) {
			return fmt.Errorf("%w: invalid bounds [%v, %v] in dimension %d", search.ErrInvalidConfig, p.Lower[i], p.Upper[i], i)
		}
	}
	if p.Start != nil && len(p.Start) != len(p.Lower) {
		return fmt.Errorf("%w: start has %d components, want %d", search.ErrInvalidConfig, len(p.Start), len(p.Lower))
	}
	return nil
}

// Initial returns the starting point: Start, or the center of the box.
func (p Problem) Initial() []float64 {
	if p.Start != nil {
		return append([]float64(nil), p.Start...)
	}
	x := make([]float64, len(p.Lower))
	for i := range x {
		x[i] = (p.Lower[i] + p.Upper[i]) / 2
	}
	return x
}

func (p Problem) inside(x []float64) bool {
	for i, v := range x {
		if v < p.Lower[i] || v > p.Upper[i] {
			return false
		}
	}
	return true
}

// BenchProblem builds a Problem from a benchmark function.
func BenchProblem(fn bench.Func, start []float64) Problem {
	lower, upper := fn.Bounds()
	return Problem{
		Objective: fn.Eval,
		Lower:     lower,
		Upper:     upper,
		Start:     start,
	}
}

// Result is the outcome of an optimizer run.
type Result struct {
	Best        []float64 `json:"best"`
	Cost        float64   `json:"cost"`
	Step        float64   `json:"step,omitempty"`
	Evaluations int64     `json:"evaluations"`
	Iterations  int       `json:"iterations"`

	// Stats is only filled by pattern search.
	Stats search.Statistics `json:"stats"`

	Cancelled bool `json:"cancelled,omitempty"`
}

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Run minimizes p.Objective inside the bounds. Cancelling ctx ends the run
	// early with Result.Cancelled set; it is not an error.
	Run(ctx context.Context, p Problem) (*Result, error)
}
