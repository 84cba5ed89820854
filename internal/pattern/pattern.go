// Package pattern generates the canonical direction sets used to build a
// simplex around a center point.
package pattern

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/msearch/internal/point"
)

var ErrDimension = errors.New("pattern: dimension must be positive")

// Func returns dim directions. Together with the center they span a simplex
// of dim+1 vertices.
type Func func(dim int) ([]point.Point, error)

// Square returns the dim axis unit vectors.
func Square(dim int) ([]point.Point, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrDimension, dim)
	}
	dirs := make([]point.Point, dim)
	for i := range dirs {
		dirs[i] = point.New(dim).Set(i, 1)
	}
	return dirs, nil
}

// RegularSimplex returns dim vectors which, together with the origin, are the
// vertices of a regular simplex with unit edge length.
func RegularSimplex(dim int) ([]point.Point, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrDimension, dim)
	}
	// v_i = c*e_i + d*(1,...,1) with |v_i| = 1 and |v_i - v_j| = 1.
	n := float64(dim)
	c := 1 / math.Sqrt2
	d := (math.Sqrt(2+2*n) - math.Sqrt2) / (2 * n)

	dirs := make([]point.Point, dim)
	for i := range dirs {
		x := make([]float64, dim)
		for j := range x {
			x[j] = d
		}
		x[i] += c
		dirs[i] = point.Of(x...)
	}
	return dirs, nil
}

// ByName resolves a pattern generator from its flag name.
func ByName(name string) (Func, error) {
	switch name {
	case "", "square":
		return Square, nil
	case "simplex":
		return RegularSimplex, nil
	default:
		return nil, fmt.Errorf("unknown pattern: %s", name)
	}
}
