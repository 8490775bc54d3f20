package amg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/godefl/backend"
)

// laplacian2D builds the 5-point Laplacian on an nx x nx grid.
func laplacian2D(nx int) (h *backend.CSRHost) {
	n := nx * nx
	h = backend.NewCSRHost(n, n)
	for row := 0; row < n; row++ {
		i, j := row/nx, row%nx
		if i > 0 {
			h.Col = append(h.Col, row-nx)
			h.Val = append(h.Val, -1)
		}
		if j > 0 {
			h.Col = append(h.Col, row-1)
			h.Val = append(h.Val, -1)
		}
		h.Col = append(h.Col, row)
		h.Val = append(h.Val, 4)
		if j < nx-1 {
			h.Col = append(h.Col, row+1)
			h.Val = append(h.Val, -1)
		}
		if i < nx-1 {
			h.Col = append(h.Col, row+nx)
			h.Val = append(h.Val, -1)
		}
		h.Ptr[row+1] = len(h.Col)
	}
	return
}

func residualNorm(A backend.Matrix, rhs, x backend.Vector) float64 {
	r := backend.NewVector(len(rhs))
	backend.Residual(rhs, A, x, r)
	return math.Sqrt(backend.Dot(r, r))
}

func TestHierarchy(t *testing.T) {
	p, err := New(laplacian2D(16), Params{})
	assert.NoError(t, err)
	assert.Greater(t, len(p.levels), 1)

	r, c := p.TopMatrix().Dims()
	assert.Equal(t, 256, r)
	assert.Equal(t, 256, c)

	// Coarsening makes progress at every level
	for l := 1; l < len(p.levels); l++ {
		nPrev, _ := p.levels[l-1].A.Dims()
		n, _ := p.levels[l].A.Dims()
		assert.Less(t, n, nPrev)
	}
}

func TestVCycleReducesResidual(t *testing.T) {
	var (
		h      = laplacian2D(16)
		p, err = New(h, Params{})
		n      = 256
		rhs    = backend.NewVector(n)
		x      = backend.NewVector(n)
	)
	assert.NoError(t, err)
	for i := range rhs {
		rhs[i] = 1
	}
	r0 := residualNorm(p.TopMatrix(), rhs, x)

	// Stationary iteration with the V-cycle as approximate inverse
	var (
		z = backend.NewVector(n)
		r = backend.NewVector(n)
	)
	for k := 0; k < 40; k++ {
		backend.Residual(rhs, p.TopMatrix(), x, r)
		p.Apply(r, z)
		backend.Axpby(1, z, 1, x)
	}
	assert.Less(t, residualNorm(p.TopMatrix(), rhs, x), 1e-3*r0)
}

func TestNonSquareRejected(t *testing.T) {
	h := backend.NewCSRHost(2, 3)
	_, err := New(h, Params{})
	assert.Error(t, err)
}

func TestTinyMatrix(t *testing.T) {
	// A matrix below the coarse-size cutoff is solved directly.
	h := backend.NewCSRHost(2, 2)
	h.Col = append(h.Col, 0, 1)
	h.Val = append(h.Val, 2, 3)
	h.Ptr[1], h.Ptr[2] = 1, 2

	p, err := New(h, Params{})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(p.levels))

	x := backend.NewVector(2)
	p.Apply(backend.Vector{4, 9}, x)
	assert.InDelta(t, 2, x[0], 1e-12)
	assert.InDelta(t, 3, x[1], 1e-12)
}
