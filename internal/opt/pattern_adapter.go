package opt

import (
	"context"
	"log/slog"
	"math"

	"github.com/cwbudde/msearch/internal/cache"
	"github.com/cwbudde/msearch/internal/pattern"
	"github.com/cwbudde/msearch/internal/point"
	"github.com/cwbudde/msearch/internal/search"
)

// PatternConfig configures the pattern-search backend.
type PatternConfig struct {
	Steps      int     // step budget, 0 = unlimited
	Step       float64 // initial simplex extent, 0 = search.DefaultStep
	MinStep    float64 // stop once the step falls below, 0 = disabled
	Expansion  bool
	Coordinate bool
	Pattern    pattern.Func // nil = pattern.Square
	Workers    int          // 0 = GOMAXPROCS
	Logger     *slog.Logger

	// Stop after Patience steps without a relative improvement of Threshold.
	// 0 disables stagnation detection.
	Patience  int
	Threshold float64
}

// PatternSearch runs the multidirectional search over a bounded problem. Each
// Run owns a fresh evaluation cache. Points outside the box cost +Inf.
type PatternSearch struct {
	cfg PatternConfig
}

func NewPatternSearch(cfg PatternConfig) Optimizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PatternSearch{cfg: cfg}
}

func (ps *PatternSearch) Run(ctx context.Context, p Problem) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	objective := cache.FuncOf(func(x []float64) float64 {
		if !p.inside(x) {
			return math.Inf(1)
		}
		return p.Objective(x)
	})
	c := cache.NewParallelCache(objective,
		cache.WithWorkers(ps.cfg.Workers),
		cache.WithLogger(ps.cfg.Logger))
	defer c.Close()

	opts := []search.Option{
		search.WithExpansion(ps.cfg.Expansion),
		search.WithCoordinateSearch(ps.cfg.Coordinate),
		search.WithLogger(ps.cfg.Logger),
	}
	if ps.cfg.Step > 0 {
		opts = append(opts, search.WithInitialStep(ps.cfg.Step))
	}
	if ps.cfg.Pattern != nil {
		opts = append(opts, search.WithPattern(ps.cfg.Pattern))
	}
	ms := search.New(c, opts...)

	ctl := search.Composite()
	if ps.cfg.Steps > 0 {
		ctl.Add(search.MaxSteps(ps.cfg.Steps))
	}
	if ps.cfg.MinStep > 0 {
		ctl.Add(search.MinStep(ps.cfg.MinStep))
	}
	if ps.cfg.Patience > 0 {
		ctl.Add(search.Convergence(search.ConvergenceConfig{
			Patience:  ps.cfg.Patience,
			Threshold: ps.cfg.Threshold,
		}))
	}
	ctl.Add(search.LogController(ps.cfg.Logger))
	if p.Controller != nil {
		ctl.Add(p.Controller)
	}

	res, err := ms.Optimize(ctx, point.Of(p.Initial()...), ctl)
	if err != nil {
		return nil, err
	}
	return &Result{
		Best:        res.Best.Slice(),
		Cost:        res.Value,
		Step:        res.Step,
		Evaluations: c.Stats().Evaluations,
		Iterations:  res.Stats.StepCount,
		Stats:       res.Stats,
		Cancelled:   res.Cancelled,
	}, nil
}
