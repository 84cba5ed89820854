// Package bench provides benchmark objectives from
// http://en.wikipedia.org/wiki/Test_functions_for_optimization with their
// search bounds and a known global optimum.
package bench

import (
	"fmt"
	"math"
	"sort"
)

type Func interface {
	Name() string
	Dim() int
	Eval(x []float64) float64
	Bounds() (low, up []float64)
	// Optimum returns one global minimizer and its value.
	Optimum() ([]float64, float64)
}

// InsideBounds reports whether x lies in fn's bounds.
func InsideBounds(x []float64, fn Func) bool {
	low, up := fn.Bounds()
	for i, v := range x {
		if v < low[i] || v > up[i] {
			return false
		}
	}
	return true
}

func uniform(n int, lo, hi float64) (low, up []float64) {
	low = make([]float64, n)
	up = make([]float64, n)
	for i := range low {
		low[i], up[i] = lo, hi
	}
	return low, up
}

func filled(n int, v float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = v
	}
	return x
}

// Quadratic is (x-1)^2 + (y+1)^2.
type Quadratic struct{}

func (Quadratic) Name() string { return "quadratic" }
func (Quadratic) Dim() int     { return 2 }

func (Quadratic) Eval(x []float64) float64 {
	return (x[0]-1)*(x[0]-1) + (x[1]+1)*(x[1]+1)
}

func (Quadratic) Bounds() (low, up []float64) { return uniform(2, -10, 10) }

func (Quadratic) Optimum() ([]float64, float64) { return []float64{1, -1}, 0 }

type Sphere struct{ NDim int }

func (fn Sphere) Name() string { return "sphere" }
func (fn Sphere) Dim() int     { return fn.NDim }

func (fn Sphere) Eval(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v * v
	}
	return s
}

func (fn Sphere) Bounds() (low, up []float64) { return uniform(fn.NDim, -5, 5) }

func (fn Sphere) Optimum() ([]float64, float64) { return filled(fn.NDim, 0), 0 }

type Rosenbrock struct{ NDim int }

func (fn Rosenbrock) Name() string { return "rosenbrock" }
func (fn Rosenbrock) Dim() int     { return fn.NDim }

func (fn Rosenbrock) Eval(x []float64) float64 {
	var s float64
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		s += 100*a*a + b*b
	}
	return s
}

func (fn Rosenbrock) Bounds() (low, up []float64) { return uniform(fn.NDim, -5, 10) }

func (fn Rosenbrock) Optimum() ([]float64, float64) { return filled(fn.NDim, 1), 0 }

type Ackley struct{}

func (Ackley) Name() string { return "ackley" }
func (Ackley) Dim() int     { return 2 }

func (Ackley) Eval(x []float64) float64 {
	a, b := x[0], x[1]
	return -20*math.Exp(-0.2*math.Sqrt(0.5*(a*a+b*b))) -
		math.Exp(0.5*(math.Cos(2*math.Pi*a)+math.Cos(2*math.Pi*b))) +
		20 + math.E
}

func (Ackley) Bounds() (low, up []float64) { return uniform(2, -5, 5) }

func (Ackley) Optimum() ([]float64, float64) { return []float64{0, 0}, 0 }

type Booth struct{}

func (Booth) Name() string { return "booth" }
func (Booth) Dim() int     { return 2 }

func (Booth) Eval(x []float64) float64 {
	a := x[0] + 2*x[1] - 7
	b := 2*x[0] + x[1] - 5
	return a*a + b*b
}

func (Booth) Bounds() (low, up []float64) { return uniform(2, -10, 10) }

func (Booth) Optimum() ([]float64, float64) { return []float64{1, 3}, 0 }

// Himmelblau has four global minima; Optimum reports the one at (3, 2).
type Himmelblau struct{}

func (Himmelblau) Name() string { return "himmelblau" }
func (Himmelblau) Dim() int     { return 2 }

func (Himmelblau) Eval(x []float64) float64 {
	a := x[0]*x[0] + x[1] - 11
	b := x[0] + x[1]*x[1] - 7
	return a*a + b*b
}

func (Himmelblau) Bounds() (low, up []float64) { return uniform(2, -5, 5) }

func (Himmelblau) Optimum() ([]float64, float64) { return []float64{3, 2}, 0 }

// Styblinski is the Styblinski-Tang function.
type Styblinski struct{ NDim int }

func (fn Styblinski) Name() string { return "styblinski" }
func (fn Styblinski) Dim() int     { return fn.NDim }

func (fn Styblinski) Eval(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += math.Pow(v, 4) - 16*v*v + 5*v
	}
	return s / 2
}

func (fn Styblinski) Bounds() (low, up []float64) { return uniform(fn.NDim, -5, 5) }

func (fn Styblinski) Optimum() ([]float64, float64) {
	return filled(fn.NDim, -2.903534), -39.16599 * float64(fn.NDim)
}

var constructors = map[string]func(dim int) Func{
	"quadratic":  func(int) Func { return Quadratic{} },
	"sphere":     func(d int) Func { return Sphere{NDim: d} },
	"rosenbrock": func(d int) Func { return Rosenbrock{NDim: d} },
	"ackley":     func(int) Func { return Ackley{} },
	"booth":      func(int) Func { return Booth{} },
	"himmelblau": func(int) Func { return Himmelblau{} },
	"styblinski": func(d int) Func { return Styblinski{NDim: d} },
}

// ByName returns the named benchmark. dim is used only by functions of
// variable dimension and defaults to 2.
func ByName(name string, dim int) (Func, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown function: %s", name)
	}
	if dim <= 0 {
		dim = 2
	}
	return ctor(dim), nil
}

// Names lists the registered benchmarks in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
