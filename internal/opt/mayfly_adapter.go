package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly optimization using the external library.
//
// The library only takes scalar bounds, so the search runs on the unit cube
// and positions are mapped onto the box of p. Once ctx is done every further
// evaluation returns +Inf, which lets the library finish quickly.
func (m *MayflyAdapter) Run(ctx context.Context, p Problem) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	dim := p.Dim()

	var evals atomic.Int64
	scale := func(u []float64) []float64 {
		x := make([]float64, dim)
		for i := range x {
			t := math.Min(math.Max(u[i], 0), 1)
			x[i] = p.Lower[i] + t*(p.Upper[i]-p.Lower[i])
		}
		return x
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(u []float64) float64 {
		if ctx.Err() != nil {
			return math.Inf(1)
		}
		evals.Add(1)
		return p.Objective(scale(u))
	}
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1

	// Set random seed for reproducibility
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	return &Result{
		Best:        scale(result.GlobalBest.Position),
		Cost:        result.GlobalBest.Cost,
		Evaluations: evals.Load(),
		Iterations:  m.maxIters,
		Cancelled:   ctx.Err() != nil,
	}, nil
}
