// Package search implements the parallel multidirectional search of Dennis
// and Torczon on top of an asynchronous evaluation cache.
//
// Each iteration queues every candidate batch it might need, in order of
// expected usefulness, and waits only for the batch it needs next. Batches
// that turn out to be unnecessary are aborted; anything that already
// finished stays cached.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/cwbudde/msearch/internal/cache"
	"github.com/cwbudde/msearch/internal/pattern"
	"github.com/cwbudde/msearch/internal/point"
)

var ErrInvalidConfig = errors.New("invalid optimizer configuration")

// DefaultStep is the initial simplex extent.
const DefaultStep = 0.5

// Evaluator is the cache contract the optimizer drives. It is satisfied by
// *cache.ParallelCache.
type Evaluator interface {
	Compute(points ...point.Point)
	WaitFor(ctx context.Context, points ...point.Point) error
	Abort(points ...point.Point) []point.Point
	Value(p point.Point) (float64, error)
}

// Statistics counts which branch each iteration took.
type Statistics struct {
	StepCount            int `json:"stepCount"`
	ReflectionAcceptance int `json:"reflectionAcceptance"`
	ExpansionAcceptance  int `json:"expansionAcceptance"`
	CoordinateAcceptance int `json:"coordinateAcceptance"`
	ReductionFallback    int `json:"reductionFallback"`
}

func (s Statistics) add(o Statistics) Statistics {
	return Statistics{
		StepCount:            s.StepCount + o.StepCount,
		ReflectionAcceptance: s.ReflectionAcceptance + o.ReflectionAcceptance,
		ExpansionAcceptance:  s.ExpansionAcceptance + o.ExpansionAcceptance,
		CoordinateAcceptance: s.CoordinateAcceptance + o.CoordinateAcceptance,
		ReductionFallback:    s.ReductionFallback + o.ReductionFallback,
	}
}

func (s Statistics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("steps", s.StepCount),
		slog.Int("reflection", s.ReflectionAcceptance),
		slog.Int("expansion", s.ExpansionAcceptance),
		slog.Int("coordinate", s.CoordinateAcceptance),
		slog.Int("reduction", s.ReductionFallback),
	)
}

// Result is the outcome of one Optimize call.
type Result struct {
	Best  point.Point
	Value float64 // +Inf if nothing was evaluated before cancellation
	Step  float64
	Stats Statistics

	// Cancelled is true when the run ended because its context was done.
	Cancelled bool
}

type Option func(*MultidirectionalSearch)

func WithExpansion(on bool) Option {
	return func(o *MultidirectionalSearch) { o.useExpansion = on }
}

func WithCoordinateSearch(on bool) Option {
	return func(o *MultidirectionalSearch) { o.useCoordinateSearch = on }
}

func WithInitialStep(step float64) Option {
	return func(o *MultidirectionalSearch) { o.initialStep = step }
}

func WithPattern(fn pattern.Func) Option {
	return func(o *MultidirectionalSearch) { o.pattern = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *MultidirectionalSearch) { o.log = l }
}

// MultidirectionalSearch is not safe for concurrent Optimize calls.
type MultidirectionalSearch struct {
	cache               Evaluator
	useExpansion        bool
	useCoordinateSearch bool
	initialStep         float64
	pattern             pattern.Func
	log                 *slog.Logger

	lastBest  point.Point
	lastValue float64
	ran       bool
	total     Statistics
}

func New(c Evaluator, opts ...Option) *MultidirectionalSearch {
	o := &MultidirectionalSearch{
		cache:       c,
		initialStep: DefaultStep,
		pattern:     pattern.Square,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize minimizes the cached function starting from initial. It returns
// when ctl asks to stop or ctx is done; neither is an error. An objective
// failure ends the run with an error matching cache.ErrEvaluation.
func (o *MultidirectionalSearch) Optimize(ctx context.Context, initial point.Point, ctl Controller) (Result, error) {
	dirs, err := o.validate(initial, ctl)
	if err != nil {
		return Result{}, err
	}

	r := &run{
		MultidirectionalSearch: o,
		ctx:                    ctx,
		ctl:                    ctl,
		dirs:                   dirs,
		step:                   o.initialStep,
		best:                   initial,
		bestValue:              math.Inf(1),
	}
	o.log.Info("Starting optimization", "initial", initial.String(), "step", r.step,
		"expansion", o.useExpansion, "coordinate_search", o.useCoordinateSearch)

	err = r.loop()
	r.cache.Abort(r.queued...)

	o.lastBest, o.lastValue, o.ran = r.best, r.bestValue, true
	o.total = o.total.add(r.stats)

	res := Result{
		Best:      r.best,
		Value:     r.bestValue,
		Step:      r.step,
		Stats:     r.stats,
		Cancelled: r.cancelled,
	}
	if err != nil {
		o.log.Error("Optimization failed", "error", err, "stats", r.stats)
		return res, err
	}
	if r.cancelled {
		o.log.Info("Optimization was cancelled", "best", r.best.String(), "value", r.bestValue)
	}
	o.log.Info("Finishing optimization", "best", r.best.String(), "value", r.bestValue, "stats", r.stats)
	return res, nil
}

func (o *MultidirectionalSearch) validate(initial point.Point, ctl Controller) ([]point.Point, error) {
	if o.cache == nil {
		return nil, fmt.Errorf("%w: nil evaluator", ErrInvalidConfig)
	}
	if ctl == nil {
		return nil, fmt.Errorf("%w: nil controller", ErrInvalidConfig)
	}
	if initial.Dim() == 0 {
		return nil, fmt.Errorf("%w: zero-dimension initial point", ErrInvalidConfig)
	}
	if !(o.initialStep > 0) || math.IsInf(o.initialStep, 1) {
		return nil, fmt.Errorf("%w: step must be positive and finite, got %v", ErrInvalidConfig, o.initialStep)
	}
	if o.pattern == nil {
		return nil, fmt.Errorf("%w: nil pattern", ErrInvalidConfig)
	}
	dirs, err := o.pattern(initial.Dim())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(dirs) != initial.Dim() {
		return nil, fmt.Errorf("%w: pattern has %d directions, want %d", ErrInvalidConfig, len(dirs), initial.Dim())
	}
	for _, d := range dirs {
		if d.Dim() != initial.Dim() {
			return nil, fmt.Errorf("%w: pattern direction %v has wrong dimension", ErrInvalidConfig, d)
		}
	}
	return dirs, nil
}

// Optimum returns the best point and value of the last run.
func (o *MultidirectionalSearch) Optimum() (point.Point, float64, error) {
	if !o.ran {
		return point.Point{}, 0, errors.New("optimization has not been run")
	}
	return o.lastBest, o.lastValue, nil
}

// Statistics returns the totals over all runs since the last reset.
func (o *MultidirectionalSearch) Statistics() Statistics { return o.total }

func (o *MultidirectionalSearch) ResetStatistics() { o.total = Statistics{} }

// run holds the state of a single Optimize call.
type run struct {
	*MultidirectionalSearch
	ctx  context.Context
	ctl  Controller
	dirs []point.Point

	simplex   []point.Point
	computed  bool
	step      float64
	stats     Statistics
	queued    []point.Point
	best      point.Point
	bestValue float64
	cancelled bool
}

// wait blocks for points. It reports stop == true when the run was
// cancelled while waiting.
func (r *run) wait(points []point.Point) (stop bool, err error) {
	err = r.cache.WaitFor(r.ctx, points...)
	if err == nil {
		return false, nil
	}
	if _, ok := cache.IsEvaluationError(err); !ok && r.ctx.Err() != nil {
		r.cancelled = true
		return true, nil
	}
	return true, err
}

func (r *run) submit(points []point.Point) {
	r.cache.Compute(points...)
	r.queued = append(r.queued, points...)
}

func (r *run) loop() error {
	r.simplex = r.around(r.best)

	for {
		if r.ctx.Err() != nil {
			r.cancelled = true
			return nil
		}
		r.stats.StepCount++
		r.queued = r.queued[:0]
		r.log.Debug("Starting optimization step", "iteration", r.stats.StepCount,
			"simplex", fmt.Sprint(r.simplex), "computed", r.computed)

		if !r.computed {
			r.submit(r.simplex)
			if stop, err := r.wait(r.simplex); stop {
				return err
			}
			if err := r.sortSimplex(r.simplex); err != nil {
				return err
			}
			r.computed = true
		}

		current := r.simplex[0]
		currentValue, err := r.cache.Value(current)
		if err != nil {
			return err
		}
		r.best, r.bestValue = current, currentValue

		reflection := reflect(r.simplex)
		var coordinate, expansion []point.Point
		if r.useCoordinateSearch {
			coordinate = coordinateSearch(current, r.step)
		}
		if r.useExpansion {
			expansion = expand(r.simplex)
		}
		r.submit(reflection)
		r.submit(coordinate)
		r.submit(expansion)

		if stop, err := r.wait(reflection); stop {
			return err
		}
		ok, err := r.accept(reflection, currentValue)
		if err != nil {
			return err
		}

		var stop bool
		if ok {
			stop, err = r.reflectionAccepted(current, currentValue, reflection, coordinate, expansion)
		} else {
			stop, err = r.reflectionRejected(current, currentValue, coordinate, expansion)
		}
		if stop {
			return err
		}

		newBest := r.simplex[0]
		newValue, err := r.cache.Value(newBest)
		if err != nil {
			return err
		}
		r.best, r.bestValue = newBest, newValue
		r.log.Debug("Ending optimization step", "simplex", fmt.Sprint(r.simplex), "step", r.step)

		if !r.ctl.StepTaken(Step{
			Iteration: r.stats.StepCount,
			PrevBest:  current,
			PrevValue: currentValue,
			Best:      newBest,
			Value:     newValue,
			StepSize:  r.step,
		}) {
			return nil
		}
	}
}

func (r *run) reflectionAccepted(current point.Point, currentValue float64, reflection, coordinate, expansion []point.Point) (stop bool, err error) {
	r.log.Debug("Reflection was successful, aborting coordinate search", "expansion", r.useExpansion)
	r.cache.Abort(coordinate...)

	r.simplex = withCenter(current, reflection)
	if err := r.sortSimplex(r.simplex); err != nil {
		return true, err
	}

	if !r.useExpansion {
		r.stats.ReflectionAcceptance++
		return false, nil
	}

	// Assume expansion fails and queue the next reflection meanwhile.
	next := reflect(r.simplex)
	r.submit(next)
	if stop, err := r.wait(expansion); stop {
		return true, err
	}
	ok, err := r.accept(expansion, currentValue)
	if err != nil {
		return true, err
	}
	if !ok {
		r.log.Debug("Expansion failed")
		r.stats.ReflectionAcceptance++
		return false, nil
	}

	r.log.Debug("Expansion was successful, aborting reflection")
	r.cache.Abort(next...)
	r.simplex = withCenter(current, expansion)
	r.step *= 2
	r.stats.ExpansionAcceptance++
	if err := r.sortSimplex(r.simplex); err != nil {
		return true, err
	}
	return false, nil
}

func (r *run) reflectionRejected(current point.Point, currentValue float64, coordinate, expansion []point.Point) (stop bool, err error) {
	r.log.Debug("Reflection was unsuccessful, aborting expansion", "coordinate_search", r.useCoordinateSearch)
	r.cache.Abort(expansion...)

	// Assume coordinate search fails and queue the contraction meanwhile.
	r.simplex = contract(r.simplex)
	r.submit(r.simplex)
	r.computed = false

	if r.useCoordinateSearch {
		if stop, err := r.wait(coordinate); stop {
			return true, err
		}
		ok, err := r.accept(coordinate, currentValue)
		if err != nil {
			return true, err
		}
		if ok {
			r.log.Debug("Coordinate search successful, resetting simplex")
			contracted := r.simplex
			r.simplex = r.around(current)
			var stale []point.Point
			for _, p := range contracted {
				if !point.Contains(r.simplex, p) {
					stale = append(stale, p)
				}
			}
			r.cache.Abort(stale...)
			r.stats.CoordinateAcceptance++
			return false, nil
		}
		r.log.Debug("Coordinate search unsuccessful, halving step")
	} else {
		r.log.Debug("Coordinate search not used, halving step")
	}
	if half := r.step / 2; half > 0 {
		r.step = half
	}
	r.stats.ReductionFallback++
	return false, nil
}

func (r *run) accept(points []point.Point, currentValue float64) (bool, error) {
	for _, p := range points {
		v, err := r.cache.Value(p)
		if err != nil {
			return false, err
		}
		if v < currentValue {
			return true, nil
		}
	}
	return false, nil
}

// sortSimplex orders the simplex by ascending value. Ties keep their order.
func (r *run) sortSimplex(simplex []point.Point) error {
	values := make(map[point.Key]float64, len(simplex))
	for _, p := range simplex {
		v, err := r.cache.Value(p)
		if err != nil {
			return err
		}
		values[p.Key()] = v
	}
	sort.SliceStable(simplex, func(i, j int) bool {
		return values[simplex[i].Key()] < values[simplex[j].Key()]
	})
	return nil
}

// around builds a simplex of the current step size centered on c.
func (r *run) around(c point.Point) []point.Point {
	s := make([]point.Point, 0, len(r.dirs)+1)
	s = append(s, c)
	for _, d := range r.dirs {
		s = append(s, c.Add(d.Mul(r.step)))
	}
	return s
}

func withCenter(c point.Point, others []point.Point) []point.Point {
	s := make([]point.Point, 0, len(others)+1)
	s = append(s, c)
	return append(s, others...)
}

// reflect mirrors every non-best vertex through the best: 2*current - old.
func reflect(simplex []point.Point) []point.Point {
	current := simplex[0]
	out := make([]point.Point, 0, len(simplex)-1)
	for _, p := range simplex[1:] {
		out = append(out, current.Mul(2).Sub(p))
	}
	return out
}

// expand doubles the reflection distance: 3*current - 2*old.
func expand(simplex []point.Point) []point.Point {
	current := simplex[0]
	out := make([]point.Point, 0, len(simplex)-1)
	for _, p := range simplex[1:] {
		out = append(out, current.Mul(3).Sub(p.Mul(2)))
	}
	return out
}

// contract moves every non-best vertex halfway to the best: (old+current)/2.
func contract(simplex []point.Point) []point.Point {
	current := simplex[0]
	out := make([]point.Point, 0, len(simplex))
	out = append(out, current)
	for _, p := range simplex[1:] {
		out = append(out, p.Add(current).Mul(0.5))
	}
	return out
}

// coordinateSearch returns current ± step along every axis.
func coordinateSearch(current point.Point, step float64) []point.Point {
	out := make([]point.Point, 0, 2*current.Dim())
	for i := 0; i < current.Dim(); i++ {
		d := point.New(current.Dim()).Set(i, step)
		out = append(out, current.Add(d), current.Sub(d))
	}
	return out
}
