package pattern

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/msearch/internal/point"
)

func TestSquare(t *testing.T) {
	dirs, err := Square(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 3 {
		t.Fatalf("expected 3 directions, got %d", len(dirs))
	}
	for i, d := range dirs {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if d.At(j) != want {
				t.Errorf("dir %d component %d: want %v, got %v", i, j, want, d.At(j))
			}
		}
	}
}

func TestRegularSimplexEdges(t *testing.T) {
	for _, dim := range []int{1, 2, 3, 5, 8} {
		dirs, err := RegularSimplex(dim)
		if err != nil {
			t.Fatal(err)
		}
		verts := append([]point.Point{point.New(dim)}, dirs...)
		for i := range verts {
			for j := i + 1; j < len(verts); j++ {
				if d := verts[i].Distance(verts[j]); math.Abs(d-1) > 1e-12 {
					t.Errorf("dim %d: edge %d-%d has length %v", dim, i, j, d)
				}
			}
		}
	}
}

func TestInvalidDimension(t *testing.T) {
	for _, fn := range []Func{Square, RegularSimplex} {
		if _, err := fn(0); !errors.Is(err, ErrDimension) {
			t.Errorf("expected ErrDimension, got %v", err)
		}
	}
}

func TestByName(t *testing.T) {
	if _, err := ByName("simplex"); err != nil {
		t.Error(err)
	}
	if _, err := ByName("hexagon"); err == nil {
		t.Error("expected error for unknown pattern")
	}
}
