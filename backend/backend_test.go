package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/godefl/utils"
)

// tridiag builds the n x n matrix tridiag(-1, 2, -1) in host CSR form.
func tridiag(n int) (h *CSRHost) {
	h = NewCSRHost(n, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			h.Col = append(h.Col, i-1)
			h.Val = append(h.Val, -1)
		}
		h.Col = append(h.Col, i)
		h.Val = append(h.Val, 2)
		if i < n-1 {
			h.Col = append(h.Col, i+1)
			h.Val = append(h.Val, -1)
		}
		h.Ptr[i+1] = len(h.Col)
	}
	return
}

func TestSpmv(t *testing.T) {
	var (
		A = CopyMatrix(tridiag(4))
		x = Vector{1, 2, 3, 4}
		y = NewVector(4)
	)
	r, c := A.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, 10, A.Nnz())

	Spmv(1, A, x, 0, y)
	assert.Equal(t, Vector{0, 0, 0, 5}, y)

	// beta accumulation
	Spmv(2, A, x, 1, y)
	assert.Equal(t, Vector{0, 0, 0, 15}, y)

	var f = Vector{1, 1, 1, 1}
	res := NewVector(4)
	Residual(f, A, x, res)
	assert.Equal(t, Vector{1, 1, 1, -4}, res)
}

func TestVectorOps(t *testing.T) {
	{
		x, y := Vector{1, 2}, Vector{10, 20}
		Axpby(2, x, 1, y)
		assert.Equal(t, Vector{12, 24}, y)
	}
	{
		x, y, z := Vector{1, 0}, Vector{0, 1}, Vector{5, 5}
		Axpbypcz(2, x, 3, y, 1, z)
		assert.Equal(t, Vector{7, 8}, z)
	}
	{
		assert.Equal(t, 11.0, Dot(Vector{1, 2}, Vector{3, 4}))
	}
	{
		v := NewVector(3)
		CopyToBackend([]float64{1, 2, 3}, v)
		assert.Equal(t, Vector{1, 2, 3}, v)
		v.Zero()
		assert.Equal(t, Vector{0, 0, 0}, v)
	}
}

func TestGather(t *testing.T) {
	var (
		g   = NewGather(4, utils.Index{3, 0, 2})
		x   = Vector{10, 11, 12, 13}
		buf = make([]float64, 3)
	)
	g.Apply(x, buf)
	assert.Equal(t, []float64{13, 10, 12}, buf)

	assert.Panics(t, func() { NewGather(2, utils.Index{2}) })
}

func TestEmptyRows(t *testing.T) {
	// A matrix with an empty row keeps the CSR empty-row convention.
	h := NewCSRHost(3, 3)
	h.Col = append(h.Col, 0)
	h.Val = append(h.Val, 1)
	h.Ptr[1] = 1
	h.Ptr[2] = 1 // row 1 empty
	h.Col = append(h.Col, 2)
	h.Val = append(h.Val, 3)
	h.Ptr[3] = 2

	A := CopyMatrix(h)
	y := NewVector(3)
	Spmv(1, A, Vector{1, 1, 1}, 0, y)
	assert.Equal(t, Vector{1, 0, 3}, y)
}
