package opt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwbudde/msearch/internal/pattern"
	"github.com/cwbudde/msearch/internal/store"
)

// Hybrid runs a global optimizer and refines its best point with a local one.
type Hybrid struct {
	global Optimizer
	local  Optimizer
}

func NewHybrid(global, local Optimizer) Optimizer {
	return &Hybrid{global: global, local: local}
}

func (h *Hybrid) Run(ctx context.Context, p Problem) (*Result, error) {
	g, err := h.global.Run(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("global stage: %w", err)
	}
	if g.Cancelled {
		return g, nil
	}

	refine := p
	refine.Start = g.Best
	l, err := h.local.Run(ctx, refine)
	if err != nil {
		return nil, fmt.Errorf("local stage: %w", err)
	}
	l.Evaluations += g.Evaluations
	l.Iterations += g.Iterations
	if g.Cost < l.Cost {
		l.Best, l.Cost = g.Best, g.Cost
	}
	return l, nil
}

// FromConfig builds the optimizer described by cfg. Defaults must already be
// applied.
func FromConfig(cfg store.RunConfig, logger *slog.Logger) (Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pat, err := pattern.ByName(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	local := NewPatternSearch(PatternConfig{
		Steps:      cfg.Steps,
		Step:       cfg.Step,
		MinStep:    cfg.MinStep,
		Expansion:  cfg.Expansion,
		Coordinate: cfg.Coordinate,
		Pattern:    pat,
		Workers:    cfg.Workers,
		Logger:     logger,
		Patience:   cfg.Patience,
		Threshold:  cfg.Threshold,
	})

	switch cfg.Method {
	case store.MethodMayfly:
		return NewMayfly(cfg.Iters, cfg.PopSize, cfg.Seed), nil
	case store.MethodHybrid:
		return NewHybrid(NewMayfly(cfg.Iters, cfg.PopSize, cfg.Seed), local), nil
	default:
		return local, nil
	}
}
