// Package deflation implements a distributed solver for sparse linear
// systems based on subdomain deflation: a local algebraic multigrid
// preconditioner on each rank's matrix block, composed with a global
// low-rank projection that removes the components of the iteration lying in
// the span of the deflation vectors. The matrix is partitioned in contiguous
// row strips; ranks cooperate through the comm package.
package deflation

import (
	"fmt"

	"github.com/notargets/godefl/amg"
	"github.com/notargets/godefl/backend"
	"github.com/notargets/godefl/comm"
	"github.com/notargets/godefl/direct"
	"github.com/notargets/godefl/krylov"
	"github.com/notargets/godefl/utils"
)

// Message tags, one per setup/solve phase so out-of-order phase completion
// cannot pair messages across phases.
const (
	tagExcCols    = 1001
	tagExcVals    = 2001
	tagExcDmatCol = 3001
	tagExcDmatVal = 3002
	tagExcDvec    = 4001
	tagExcLnnz    = 5001
)

type Params struct {
	AMG          amg.Params
	Solver       krylov.Params
	DirectSolver direct.Params
	Verbose      bool
}

// SubdomainDeflation is the deflated, preconditioned operator over one
// rank's row strip. All state is read-only after construction except the
// per-solve scratch buffers; a single instance must not run overlapping
// solves.
type SubdomainDeflation struct {
	c   *comm.Comm
	prm Params

	nrows, ndv, nz int
	part           *Partition

	Z    []backend.Vector
	prec *amg.Precond
	slv  *krylov.Solver

	Arem, AZ backend.Matrix
	halo     haloExchange

	mastersComm               *comm.Comm
	nmasters, nslaves, master int
	slaves                    utils.Index
	E                         *direct.Solver

	// scratch, reused per solve
	q, dd, dv backend.Vector
	df, dx    []float64
	cf, cx    []float64
	req       []*comm.Request
}

// New sets up the deflated solver: classifies the strip's nonzeros into
// local and remote blocks, discovers the neighbour graph, assembles the
// sparse product AZ = A*Z, assembles and factors the coarse operator
// E = Z^T A Z on the master ranks, and builds the local AMG hierarchy.
// zf(i, j) supplies entry i of this rank's j-th deflation vector; the copies
// taken here are authoritative afterwards.
func New(c *comm.Comm, Astrip *backend.CSRHost, ndv int, zf func(i, j int) float64, prm Params) (sd *SubdomainDeflation, err error) {
	if ndv <= 0 {
		return nil, fmt.Errorf("deflation: ndv = %d, must be positive", ndv)
	}
	if Astrip == nil || len(Astrip.Ptr) != Astrip.Nrows+1 {
		return nil, fmt.Errorf("deflation: malformed matrix strip")
	}

	sd = &SubdomainDeflation{
		c:     c,
		prm:   prm,
		nrows: Astrip.Nrows,
		ndv:   ndv,
	}
	sd.part = newPartition(c, sd.nrows, ndv)
	sd.nz = sd.part.NZ()

	if sd.part.N() == 0 {
		return nil, fmt.Errorf("deflation: empty domain")
	}
	if Astrip.Ncols != sd.part.N() {
		return nil, fmt.Errorf("deflation: strip has %d columns, global row count is %d",
			Astrip.Ncols, sd.part.N())
	}
	for p, n := range sd.part.DVSize {
		if n <= 0 {
			return nil, fmt.Errorf("deflation: rank %d contributes %d deflation vectors", p, n)
		}
	}

	// Fill deflation vectors.
	z := make([]float64, sd.nrows)
	sd.Z = make([]backend.Vector, ndv)
	for j := 0; j < ndv; j++ {
		for i := 0; i < sd.nrows; i++ {
			z[i] = zf(i, j)
		}
		sd.Z[j] = backend.CopyVector(z)
	}

	b := &builder{sd: sd, astrip: Astrip}
	if err = b.firstPass(); err != nil {
		return nil, err
	}
	b.setupComm()
	b.secondPass(zf) // overlaps the ghost-column exchange
	b.waitColumns()
	b.exchangeZ()
	b.completeAZ()
	if err = b.assembleCoarse(); err != nil {
		return nil, err
	}

	if sd.prec, err = amg.New(b.aloc, prm.AMG); err != nil {
		return nil, err
	}
	sd.slv = krylov.New(sd.nrows, prm.Solver, sd.GlobalDot)

	sd.Arem = backend.CopyMatrix(b.arem)
	sd.AZ = backend.CopyMatrix(b.az)
	sd.halo.gather = backend.NewGather(sd.nrows, b.sendCols)

	sd.q = backend.NewVector(sd.nrows)
	sd.dd = backend.NewVector(sd.nz)
	sd.dv = backend.NewVector(len(b.recvCols))
	sd.df = make([]float64, sd.ndv)
	sd.dx = make([]float64, sd.nz)
	sd.req = make([]*comm.Request, c.Size())

	if prm.Verbose && c.Rank() == 0 {
		fmt.Printf("deflation setup: %d ranks, %d unknowns, %d deflation vectors, %d masters\n",
			c.Size(), sd.part.N(), sd.nz, sd.nmasters)
	}
	return sd, nil
}

// Params returns the solver parameters. The Krylov parameters have their
// defaults applied; the AMG and direct-solver parameters are returned as
// passed to New, without the defaults those packages fill in.
func (sd *SubdomainDeflation) Params() (prm Params) {
	prm = sd.prm
	prm.Solver = sd.slv.Params()
	return
}

// Partition exposes the row/deflation ownership descriptor.
func (sd *SubdomainDeflation) Partition() *Partition { return sd.part }

// GlobalDot is the globally reduced inner product handed to the Krylov
// solver.
func (sd *SubdomainDeflation) GlobalDot(x, y backend.Vector) float64 {
	return comm.AllreduceSum(sd.c, backend.Dot(x, y))
}

// Solve runs the deflated, preconditioned Krylov iteration and imposes the
// deflation constraint on the result. It returns the iteration count and
// the final relative residual; reaching the iteration cap is reported, not
// an error.
func (sd *SubdomainDeflation) Solve(rhs, x backend.Vector) (iters int, resid float64) {
	iters, resid = sd.slv.Solve(sd, sd.prec, rhs, x)
	sd.Postprocess(rhs, x)
	return
}

// mul computes the undeflated product y = alpha*A*x + beta*y, overlapping
// the halo exchange with the local block product.
func (sd *SubdomainDeflation) mul(alpha float64, x backend.Vector, beta float64, y backend.Vector) {
	sd.halo.start(x)
	backend.Spmv(alpha, sd.prec.TopMatrix(), x, beta, y)
	sd.halo.finish()

	if len(sd.halo.recv.val) != 0 {
		backend.CopyToBackend(sd.halo.recv.val, sd.dv)
		backend.Spmv(alpha, sd.Arem, sd.dv, 1, y)
	}
}

// project removes the deflation-space component:
// x -= A*Z * E^{-1} * Z^T * x.
func (sd *SubdomainDeflation) project(x backend.Vector) {
	for j := 0; j < sd.ndv; j++ {
		sd.df[j] = backend.Dot(x, sd.Z[j])
	}
	sd.coarseSolve(sd.df, sd.dx)
	backend.CopyToBackend(sd.dx, sd.dd)
	backend.Spmv(-1, sd.AZ, sd.dd, 1, x)
}

// Spmv applies the deflated operator: y = alpha*A*x + beta*y followed by
// the projection of y. This is the operator the Krylov solver iterates
// with, and the adapter that lets the solver compose as a linear operator.
func (sd *SubdomainDeflation) Spmv(alpha float64, x backend.Vector, beta float64, y backend.Vector) {
	sd.mul(alpha, x, beta, y)
	sd.project(y)
}

// Residual computes the projected residual r = P(f - A*x).
func (sd *SubdomainDeflation) Residual(f, x, r backend.Vector) {
	sd.halo.start(x)
	backend.Residual(f, sd.prec.TopMatrix(), x, r)
	sd.halo.finish()

	if len(sd.halo.recv.val) != 0 {
		backend.CopyToBackend(sd.halo.recv.val, sd.dv)
		backend.Spmv(-1, sd.Arem, sd.dv, 1, r)
	}

	sd.project(r)
}

// Postprocess imposes the deflation constraint on a converged solution:
// x += Z * E^{-1} * Z^T * (rhs - A*x).
func (sd *SubdomainDeflation) Postprocess(rhs, x backend.Vector) {
	sd.mul(1, x, 0, sd.q)

	for j := 0; j < sd.ndv; j++ {
		sd.df[j] = backend.Dot(rhs, sd.Z[j]) - backend.Dot(sd.q, sd.Z[j])
	}
	sd.coarseSolve(sd.df, sd.dx)

	j, k := 0, sd.part.DVStart[sd.c.Rank()]
	for ; j+1 < sd.ndv; j, k = j+2, k+2 {
		backend.Axpbypcz(sd.dx[k], sd.Z[j], sd.dx[k+1], sd.Z[j+1], 1, x)
	}
	for ; j < sd.ndv; j, k = j+1, k+1 {
		backend.Axpby(sd.dx[k], sd.Z[j], 1, x)
	}
}

// ConstantDeflation returns the pointwise-constant deflation setup for
// blockSize degrees of freedom per grid point: vector j is the indicator of
// the j-th degree of freedom.
func ConstantDeflation(blockSize int) (ndv int, zf func(i, j int) float64) {
	if blockSize < 1 {
		blockSize = 1
	}
	ndv = blockSize
	zf = func(i, j int) float64 {
		if i%blockSize == j {
			return 1
		}
		return 0
	}
	return
}
