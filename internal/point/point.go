// Package point provides the immutable n-dimensional vector used both as a
// candidate parameter assignment and as an exact-match cache key.
package point

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Point is an immutable vector of float64 components.
// The zero value is a zero-dimensional point.
type Point struct {
	x []float64
}

// Key identifies a Point by the exact bit pattern of its components.
// Two points share a key iff every component is bit-equal.
type Key string

// New returns the origin of the given dimension.
func New(dim int) Point {
	if dim < 0 {
		panic("point: negative dimension")
	}
	return Point{x: make([]float64, dim)}
}

// Of returns a point with the given components. The slice is copied.
func Of(values ...float64) Point {
	x := make([]float64, len(values))
	copy(x, values)
	return Point{x: x}
}

// Dim returns the number of components.
func (p Point) Dim() int { return len(p.x) }

// At returns component i.
func (p Point) At(i int) float64 { return p.x[i] }

// Slice returns a copy of the components.
func (p Point) Slice() []float64 {
	x := make([]float64, len(p.x))
	copy(x, p.x)
	return x
}

// Add returns p + q. It panics if the dimensions differ.
func (p Point) Add(q Point) Point {
	return Point{x: floats.AddTo(make([]float64, len(p.x)), p.x, q.x)}
}

// Sub returns p - q. It panics if the dimensions differ.
func (p Point) Sub(q Point) Point {
	return Point{x: floats.SubTo(make([]float64, len(p.x)), p.x, q.x)}
}

// Mul returns p scaled by c.
func (p Point) Mul(c float64) Point {
	return Point{x: floats.ScaleTo(make([]float64, len(p.x)), c, p.x)}
}

// Set returns a copy of p with component i replaced by v.
func (p Point) Set(i int, v float64) Point {
	x := p.Slice()
	x[i] = v
	return Point{x: x}
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return floats.Distance(p.x, q.x, 2)
}

// Equal reports whether p and q have bit-identical components.
func (p Point) Equal(q Point) bool {
	if len(p.x) != len(q.x) {
		return false
	}
	for i := range p.x {
		if math.Float64bits(p.x[i]) != math.Float64bits(q.x[i]) {
			return false
		}
	}
	return true
}

// Key returns the map key for p.
func (p Point) Key() Key {
	buf := make([]byte, 8*len(p.x))
	for i, v := range p.x {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return Key(buf)
}

func (p Point) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range p.x {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	sb.WriteByte(')')
	return sb.String()
}

// Contains reports whether ps holds a point equal to p.
func Contains(ps []Point, p Point) bool {
	for _, q := range ps {
		if q.Equal(p) {
			return true
		}
	}
	return false
}
