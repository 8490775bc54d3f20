// Package direct factors the coarse operator E once and solves E*y = f on
// demand. The matrix arrives distributed in row slabs across the masters'
// subcommunicator; every master gathers the full matrix, factors it
// redundantly, and serves its own row slab from the shared solution. The
// factorisation is dense LU: E has side equal to the total deflation vector
// count, which stays small by construction.
package direct

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/godefl/comm"
	"github.com/notargets/godefl/utils"
)

// rowsPerMaster controls how many coarse rows one master is asked to hold
// before recommending a wider subcommunicator.
const rowsPerMaster = 4096

// RecommendedCommSize reports the preferred subcommunicator size for a
// coarse problem with n rows.
func RecommendedCommSize(n int) int {
	if n <= rowsPerMaster {
		return 1
	}
	return (n + rowsPerMaster - 1) / rowsPerMaster
}

type Params struct {
	// CommSize overrides RecommendedCommSize when positive. The caller still
	// clamps to the number of available ranks.
	CommSize int
}

type Solver struct {
	sub      *comm.Comm
	n        int // global rows
	rowStart int // first global row of the local slab
	nlocal   int

	lu   mat.LU
	full *mat.VecDense // scratch: gathered rhs / solution
}

// New assembles and factors the coarse matrix over the subcommunicator sub.
// Each rank contributes its local row slab in CSR form (ptr of length
// nlocal+1, global column indices).
func New(sub *comm.Comm, nlocal int, ptr, col utils.Index, val []float64, prm Params) (s *Solver, err error) {
	var (
		rows = comm.AllgatherInt(sub, nlocal)
	)
	s = &Solver{
		sub:    sub,
		nlocal: nlocal,
	}
	for p := 0; p < sub.Rank(); p++ {
		s.rowStart += rows[p]
	}
	for _, nr := range rows {
		s.n += nr
	}

	// Redundantly assemble the full matrix on every master.
	allPtr := comm.Allgather(sub, rowLengths(nlocal, ptr))
	allCol := comm.Allgather(sub, []int(col))
	allVal := comm.Allgather(sub, val)

	dense := mat.NewDense(s.n, s.n, nil)
	var nnz int
	for i, rl := range allPtr {
		for k := 0; k < rl; k++ {
			dense.Set(i, allCol[nnz], allVal[nnz])
			nnz++
		}
	}

	s.lu.Factorize(dense)
	s.full = mat.NewVecDense(s.n, nil)

	// Reject a singular coarse operator at construction time.
	probe := mat.NewVecDense(s.n, nil)
	if err = s.lu.SolveVecTo(probe, false, s.full); err != nil {
		return nil, fmt.Errorf("coarse factorization failed: %w", err)
	}
	return s, nil
}

func rowLengths(nlocal int, ptr utils.Index) (rl []int) {
	rl = make([]int, nlocal)
	for i := 0; i < nlocal; i++ {
		rl[i] = ptr[i+1] - ptr[i]
	}
	return
}

// Dim returns the global coarse problem size.
func (s *Solver) Dim() int { return s.n }

// Solve computes the local slab x of the solution of E*y = f, where f is the
// local slab of the right-hand side.
func (s *Solver) Solve(f, x []float64) {
	if len(f) != s.nlocal || len(x) != s.nlocal {
		err := fmt.Errorf("coarse solve slab length mismatch: f %d, x %d, want %d", len(f), len(x), s.nlocal)
		panic(err)
	}
	rhs := comm.Allgather(s.sub, f)
	copy(s.full.RawVector().Data, rhs)

	sol := mat.NewVecDense(s.n, nil)
	if err := s.lu.SolveVecTo(sol, false, s.full); err != nil {
		panic(fmt.Errorf("coarse solve failed: %w", err))
	}
	copy(x, sol.RawVector().Data[s.rowStart:s.rowStart+s.nlocal])
}
