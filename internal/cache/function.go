package cache

import (
	"context"

	"github.com/cwbudde/msearch/internal/point"
)

// Function is the objective evaluated by the cache. Implementations may be
// slow and should return promptly with ctx.Err() once ctx is cancelled.
// Lower values are better.
type Function interface {
	Evaluate(ctx context.Context, p point.Point) (float64, error)
}

// Shortcut is implemented by functions that can answer some points without
// running the full evaluation. ok is false when no shortcut is available.
type Shortcut interface {
	Precomputed(p point.Point) (value float64, ok bool)
}

// FuncOf adapts a plain function of the components to a Function.
type FuncOf func(x []float64) float64

func (f FuncOf) Evaluate(ctx context.Context, p point.Point) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f(p.Slice()), nil
}

// ContextFunc adapts a context-aware function returning an error.
type ContextFunc func(ctx context.Context, x []float64) (float64, error)

func (f ContextFunc) Evaluate(ctx context.Context, p point.Point) (float64, error) {
	return f(ctx, p.Slice())
}
