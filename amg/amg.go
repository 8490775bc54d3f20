// Package amg is the single-process algebraic multigrid preconditioner
// applied to each subdomain's local matrix block. Coarsening is plain
// aggregation over the strong-connection graph, smoothing is damped Jacobi,
// coarse operators are Galerkin products, and the coarsest level is solved
// by dense LU.
package amg

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/godefl/backend"
)

type Params struct {
	MaxLevels         int     // hierarchy depth cap, default 10
	CoarseSize        int     // stop coarsening below this size, default 40
	StrengthThreshold float64 // strong-connection cutoff, default 0.08
	Omega             float64 // Jacobi damping, default 0.72
	PreSweeps         int     // default 1
	PostSweeps        int     // default 1
}

func (p *Params) setDefaults() {
	if p.MaxLevels <= 0 {
		p.MaxLevels = 10
	}
	if p.CoarseSize <= 0 {
		p.CoarseSize = 40
	}
	if p.StrengthThreshold <= 0 {
		p.StrengthThreshold = 0.08
	}
	if p.Omega <= 0 {
		p.Omega = 0.72
	}
	if p.PreSweeps <= 0 {
		p.PreSweeps = 1
	}
	if p.PostSweeps <= 0 {
		p.PostSweeps = 1
	}
}

type level struct {
	A    backend.Matrix
	dinv []float64
	agg  []int // fine row -> coarse aggregate, -1 for untransferred rows
	nc   int

	r, t   backend.Vector // residual / smoothing scratch
	rc, xc backend.Vector // coarse-grid transfer scratch
}

type Precond struct {
	prm    Params
	levels []*level

	coarseLU  mat.LU
	coarseOK  bool
	coarseRHS *mat.VecDense
	coarseX   *mat.VecDense
}

// New builds the multigrid hierarchy for the local matrix block. The host
// matrix is copied to the backend here; the finest-level operator is
// available afterwards through TopMatrix.
func New(h *backend.CSRHost, prm Params) (p *Precond, err error) {
	if h.Nrows != h.Ncols {
		return nil, fmt.Errorf("amg: local block must be square, got %dx%d", h.Nrows, h.Ncols)
	}
	prm.setDefaults()
	p = &Precond{prm: prm}

	A := backend.CopyMatrix(h)
	for {
		lvl := newLevel(A)
		p.levels = append(p.levels, lvl)

		n, _ := A.Dims()
		if n <= prm.CoarseSize || len(p.levels) >= prm.MaxLevels {
			break
		}
		lvl.aggregate(prm.StrengthThreshold)
		if lvl.nc == 0 || lvl.nc >= n {
			break
		}
		lvl.rc = backend.NewVector(lvl.nc)
		lvl.xc = backend.NewVector(lvl.nc)
		A = lvl.galerkin()
	}

	p.factorCoarse()
	return p, nil
}

// TopMatrix returns the finest-level operator, which equals the local block
// the preconditioner was built from.
func (p *Precond) TopMatrix() backend.Matrix {
	return p.levels[0].A
}

func newLevel(A backend.Matrix) (lvl *level) {
	var (
		raw  = A.M.RawMatrix()
		n, _ = A.Dims()
	)
	lvl = &level{
		A:    A,
		dinv: make([]float64, n),
		r:    backend.NewVector(n),
		t:    backend.NewVector(n),
	}
	for i := 0; i < n; i++ {
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			if raw.Ind[jj] == i && raw.Data[jj] != 0 {
				lvl.dinv[i] = 1 / raw.Data[jj]
			}
		}
	}
	return
}

// aggregate forms plain aggregates over the strong-connection graph:
// |a_ij| >= eps * sqrt(|a_ii * a_jj|).
func (lvl *level) aggregate(eps float64) {
	var (
		raw  = lvl.A.M.RawMatrix()
		n, _ = lvl.A.Dims()
		diag = make([]float64, n)
	)
	lvl.agg = make([]int, n)
	for i := range lvl.agg {
		lvl.agg[i] = -1
	}
	for i := 0; i < n; i++ {
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			if raw.Ind[jj] == i {
				diag[i] = math.Abs(raw.Data[jj])
			}
		}
	}
	strong := func(i, jj int) bool {
		j := raw.Ind[jj]
		if j == i {
			return false
		}
		return math.Abs(raw.Data[jj]) >= eps*math.Sqrt(diag[i]*diag[j])
	}

	// Pass 1: roots whose strong neighbourhood is untouched seed aggregates.
	for i := 0; i < n; i++ {
		if lvl.agg[i] != -1 {
			continue
		}
		free := true
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			if strong(i, jj) && lvl.agg[raw.Ind[jj]] != -1 {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		lvl.agg[i] = lvl.nc
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			if strong(i, jj) {
				lvl.agg[raw.Ind[jj]] = lvl.nc
			}
		}
		lvl.nc++
	}

	// Pass 2: leftovers join their strongest aggregated neighbour.
	for i := 0; i < n; i++ {
		if lvl.agg[i] != -1 {
			continue
		}
		best, bestVal := -1, 0.0
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			j := raw.Ind[jj]
			if j == i || lvl.agg[j] == -1 {
				continue
			}
			if v := math.Abs(raw.Data[jj]); v > bestVal {
				best, bestVal = lvl.agg[j], v
			}
		}
		if best != -1 {
			lvl.agg[i] = best
		} else if diag[i] != 0 {
			// isolated nonzero row becomes its own aggregate
			lvl.agg[i] = lvl.nc
			lvl.nc++
		}
	}
}

// galerkin forms the coarse operator Ac = P^T A P for the piecewise-constant
// prolongation induced by the aggregates.
func (lvl *level) galerkin() backend.Matrix {
	var (
		raw  = lvl.A.M.RawMatrix()
		n, _ = lvl.A.Dims()
		dok  = sparse.NewDOK(lvl.nc, lvl.nc)
	)
	for i := 0; i < n; i++ {
		I := lvl.agg[i]
		if I == -1 {
			continue
		}
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			J := lvl.agg[raw.Ind[jj]]
			if J == -1 {
				continue
			}
			dok.Set(I, J, dok.At(I, J)+raw.Data[jj])
		}
	}
	return backend.Matrix{M: dok.ToCSR()}
}

func (p *Precond) factorCoarse() {
	var (
		bottom = p.levels[len(p.levels)-1]
		raw    = bottom.A.M.RawMatrix()
		n, _   = bottom.A.Dims()
	)
	dense := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			dense.Set(i, raw.Ind[jj], raw.Data[jj])
		}
	}
	p.coarseLU.Factorize(dense)
	p.coarseRHS = mat.NewVecDense(n, nil)
	p.coarseX = mat.NewVecDense(n, nil)
	probe := mat.NewVecDense(n, nil)
	p.coarseOK = p.coarseLU.SolveVecTo(probe, false, p.coarseRHS) == nil
}

// Apply runs one V-cycle: x = M^{-1} rhs with zero initial guess.
func (p *Precond) Apply(rhs, x backend.Vector) {
	x.Zero()
	p.cycle(0, rhs, x)
}

func (p *Precond) cycle(l int, rhs, x backend.Vector) {
	lvl := p.levels[l]
	if l == len(p.levels)-1 {
		p.coarseSolve(lvl, rhs, x)
		return
	}

	for s := 0; s < p.prm.PreSweeps; s++ {
		lvl.jacobi(p.prm.Omega, rhs, x)
	}

	backend.Residual(rhs, lvl.A, x, lvl.r)
	lvl.restrict(lvl.r, lvl.rc)
	lvl.xc.Zero()
	p.cycle(l+1, lvl.rc, lvl.xc)
	lvl.prolongAdd(lvl.xc, x)

	for s := 0; s < p.prm.PostSweeps; s++ {
		lvl.jacobi(p.prm.Omega, rhs, x)
	}
}

func (lvl *level) jacobi(omega float64, rhs, x backend.Vector) {
	backend.Residual(rhs, lvl.A, x, lvl.t)
	for i, ri := range lvl.t {
		x[i] += omega * lvl.dinv[i] * ri
	}
}

func (lvl *level) restrict(r, rc backend.Vector) {
	rc.Zero()
	for i, a := range lvl.agg {
		if a != -1 {
			rc[a] += r[i]
		}
	}
}

func (lvl *level) prolongAdd(xc, x backend.Vector) {
	for i, a := range lvl.agg {
		if a != -1 {
			x[i] += xc[a]
		}
	}
}

func (p *Precond) coarseSolve(lvl *level, rhs, x backend.Vector) {
	if !p.coarseOK {
		// Singular coarsest level: fall back to a Jacobi sweep.
		lvl.jacobi(1, rhs, x)
		return
	}
	copy(p.coarseRHS.RawVector().Data, rhs)
	if err := p.coarseLU.SolveVecTo(p.coarseX, false, p.coarseRHS); err != nil {
		lvl.jacobi(1, rhs, x)
		return
	}
	copy(x, p.coarseX.RawVector().Data)
}
