// Package backend implements the numeric kernels the solver is written
// against: vectors, CSR sparse matrices, matrix-vector products, residuals,
// inner products and fused vector updates. Sparse storage is held in
// james-bowman CSR form; kernels run over the raw row pointer arrays.
package backend

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/godefl/utils"
)

type Vector []float64

func NewVector(n int) (v Vector) {
	return make(Vector, n)
}

func CopyVector(host []float64) (v Vector) {
	v = make(Vector, len(host))
	copy(v, host)
	return
}

func (v Vector) Zero() {
	for i := range v {
		v[i] = 0
	}
}

// CSRHost is the host-side build form of a sparse matrix. Assembly fills it
// row by row; CopyMatrix hands it to the backend exactly once.
type CSRHost struct {
	Nrows, Ncols int
	Ptr          utils.Index
	Col          utils.Index
	Val          []float64
}

func NewCSRHost(nrows, ncols int) (h *CSRHost) {
	h = &CSRHost{
		Nrows: nrows,
		Ncols: ncols,
		Ptr:   utils.NewIndex(nrows + 1),
	}
	return
}

func (h *CSRHost) Nnz() int {
	return h.Ptr[h.Nrows]
}

// Matrix is a backend sparse matrix in CSR form.
type Matrix struct {
	M *sparse.CSR
}

// CopyMatrix moves a host CSR to the backend. Ownership of the index and
// value slices transfers here; the host copy must not be written afterwards.
func CopyMatrix(h *CSRHost) (m Matrix) {
	if len(h.Ptr) != h.Nrows+1 {
		err := fmt.Errorf("CSR row pointer has length %d, want %d", len(h.Ptr), h.Nrows+1)
		panic(err)
	}
	m = Matrix{sparse.NewCSR(h.Nrows, h.Ncols, h.Ptr, h.Col, h.Val)}
	return
}

func (m Matrix) Dims() (r, c int) { return m.M.Dims() }

func (m Matrix) Nnz() int { return m.M.NNZ() }

// Spmv computes y = alpha*M*x + beta*y.
func Spmv(alpha float64, m Matrix, x Vector, beta float64, y Vector) {
	var (
		raw = m.M.RawMatrix()
	)
	for i := 0; i < raw.I; i++ {
		var sum float64
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			sum += raw.Data[jj] * x[raw.Ind[jj]]
		}
		if beta == 0 {
			y[i] = alpha * sum
		} else {
			y[i] = alpha*sum + beta*y[i]
		}
	}
}

// Residual computes r = f - M*x.
func Residual(f Vector, m Matrix, x Vector, r Vector) {
	var (
		raw = m.M.RawMatrix()
	)
	for i := 0; i < raw.I; i++ {
		var sum float64
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			sum += raw.Data[jj] * x[raw.Ind[jj]]
		}
		r[i] = f[i] - sum
	}
}

// Dot is the process-local inner product.
func Dot(x, y Vector) float64 {
	return floats.Dot(x, y)
}

// Axpby computes y = alpha*x + beta*y.
func Axpby(alpha float64, x Vector, beta float64, y Vector) {
	for i, xv := range x {
		y[i] = alpha*xv + beta*y[i]
	}
}

// Axpbypcz computes z = alpha*x + beta*y + gamma*z.
func Axpbypcz(alpha float64, x Vector, beta float64, y Vector, gamma float64, z Vector) {
	for i := range z {
		z[i] = alpha*x[i] + beta*y[i] + gamma*z[i]
	}
}

// CopyToBackend stages a gathered host array into a backend vector.
func CopyToBackend(host []float64, v Vector) {
	if len(host) != len(v) {
		err := fmt.Errorf("staging length mismatch: host %d, vector %d", len(host), len(v))
		panic(err)
	}
	copy(v, host)
}

// Gather plucks selected entries of a vector into a staging buffer:
// buf[k] = x[cols[k]].
type Gather struct {
	cols utils.Index
}

func NewGather(n int, cols utils.Index) (g *Gather) {
	cols.Validate(0, n)
	g = &Gather{cols: cols}
	return
}

func (g *Gather) Apply(x Vector, buf []float64) {
	for k, c := range g.cols {
		buf[k] = x[c]
	}
}
