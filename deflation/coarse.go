package deflation

import (
	"fmt"

	"github.com/notargets/godefl/comm"
	"github.com/notargets/godefl/direct"
	"github.com/notargets/godefl/utils"
)

// electMasters chooses how many ranks hold the factorised coarse operator
// and assigns every rank to its master. Masters own contiguous rank ranges.
func (sd *SubdomainDeflation) electMasters() {
	var (
		np  = sd.c.Size()
		rec = direct.RecommendedCommSize(sd.nz)
	)
	if sd.prm.DirectSolver.CommSize > 0 {
		rec = sd.prm.DirectSolver.CommSize
	}
	sd.nmasters = np
	if rec < np {
		sd.nmasters = rec
	}
	sd.nslaves = (np + sd.nmasters - 1) / sd.nmasters
	sd.master = sd.c.Rank() / sd.nslaves

	if sd.c.Rank() < sd.nmasters {
		sd.slaves = make(utils.Index, sd.nmasters+1)
		for p := 0; p <= sd.nmasters; p++ {
			sd.slaves[p] = p * sd.nslaves
			if sd.slaves[p] > np {
				sd.slaves[p] = np
			}
		}
	}
}

// symNeighbor reports whether rank j contributes columns to this rank's
// strip of E. The union of both edge directions keeps the graph of E
// symmetric even when A itself is not structurally symmetric.
func (b *builder) symNeighbor(j int) bool {
	var (
		rank = b.sd.c.Rank()
		np   = b.sd.c.Size()
	)
	return j == rank || b.commMatrix[rank*np+j] != 0 || b.commMatrix[j*np+rank] != 0
}

// coarseRowCounts returns the nonzero count of each local coarse row in
// eptr[1:], one dvSize[j] block per symmetrised neighbour j.
func (b *builder) coarseRowCounts() (eptr utils.Index) {
	var (
		sd = b.sd
		np = sd.c.Size()
	)
	eptr = make(utils.Index, sd.ndv+1)
	for j := 0; j < np; j++ {
		if b.symNeighbor(j) {
			for k := 0; k < sd.ndv; k++ {
				eptr[k+1] += sd.part.DVSize[j]
			}
		}
	}
	return
}

// coarseStrip accumulates the local strip of E = Z^T A Z densely and
// compacts it to CSR over the symmetrised neighbour set. eptr must already
// be the prefix-summed row pointer from coarseRowCounts.
func (b *builder) coarseStrip(eptr utils.Index) (ecol utils.Index, eval []float64) {
	var (
		sd   = b.sd
		part = sd.part
		np   = sd.c.Size()
	)
	// Dense accumulator: row j holds the coefficients of coarse row
	// DVStart[rank]+j.
	erow := utils.NewMatrix(sd.ndv, sd.nz)
	for i := 0; i < sd.nrows; i++ {
		for jj := b.az.Ptr[i]; jj < b.az.Ptr[i+1]; jj++ {
			c, v := b.az.Col[jj], b.az.Val[jj]
			for j := 0; j < sd.ndv; j++ {
				erow.Row(j)[c] += v * sd.Z[j][i]
			}
		}
	}

	ecol = make(utils.Index, eptr[sd.ndv])
	eval = make([]float64, eptr[sd.ndv])
	for i := 0; i < sd.ndv; i++ {
		rowHead := eptr[i]
		row := erow.Row(i)
		for j := 0; j < np; j++ {
			if !b.symNeighbor(j) {
				continue
			}
			for k := 0; k < part.DVSize[j]; k++ {
				c := part.DVStart[j] + k
				ecol[rowHead] = c
				eval[rowHead] = row[c]
				rowHead++
			}
		}
	}
	return
}

// assembleCoarse builds this rank's strip of E = Z^T A Z from AZ, ships it
// to the rank's master, and factors the received slab on the masters'
// subcommunicator.
func (b *builder) assembleCoarse() error {
	var (
		sd   = b.sd
		part = sd.part
		rank = sd.c.Rank()
	)
	sd.electMasters()

	eptr := b.coarseRowCounts()

	// Masters receive their slaves' row lengths while the strip is built.
	var (
		isMaster = rank < sd.nmasters
		Eptr     utils.Index
		lnnzReq  []*comm.Request
		offset   int
	)
	if isMaster {
		offset = part.DVStart[sd.slaves[rank]]
		Eptr = make(utils.Index, part.DVStart[sd.slaves[rank+1]]-offset+1)
		for p := sd.slaves[rank]; p < sd.slaves[rank+1]; p++ {
			begin := part.DVStart[p] - offset + 1
			lnnzReq = append(lnnzReq,
				comm.Irecv(sd.c, []int(Eptr[begin:begin+part.DVSize[p]]), p, tagExcLnnz))
		}
	}
	comm.Isend(sd.c, []int(eptr[1:]), sd.master, tagExcLnnz)

	for k := 0; k < sd.ndv; k++ {
		eptr[k+1] += eptr[k]
	}

	ecol, eval := b.coarseStrip(eptr)

	// Exchange strips of E.
	var (
		Ecol    utils.Index
		Eval    []float64
		slabReq []*comm.Request
	)
	if isMaster {
		comm.WaitAll(lnnzReq)
		for k := 0; k < len(Eptr)-1; k++ {
			Eptr[k+1] += Eptr[k]
		}
		Ecol = make(utils.Index, Eptr[len(Eptr)-1])
		Eval = make([]float64, Eptr[len(Eptr)-1])
		for p := sd.slaves[rank]; p < sd.slaves[rank+1]; p++ {
			begin := Eptr[part.DVStart[p]-offset]
			end := Eptr[part.DVStart[p+1]-offset]
			slabReq = append(slabReq,
				comm.Irecv(sd.c, []int(Ecol[begin:end]), p, tagExcDmatCol),
				comm.Irecv(sd.c, Eval[begin:end], p, tagExcDmatVal))
		}
	}
	comm.Isend(sd.c, []int(ecol), sd.master, tagExcDmatCol)
	comm.Isend(sd.c, eval, sd.master, tagExcDmatVal)

	color := -1
	if isMaster {
		color = 0
	}
	sd.mastersComm = sd.c.Split(color)

	if isMaster {
		comm.WaitAll(slabReq)
		var err error
		sd.E, err = direct.New(sd.mastersComm, len(Eptr)-1, Eptr, Ecol, Eval, sd.prm.DirectSolver)
		if err != nil {
			return fmt.Errorf("deflation: %w", err)
		}
		sd.cf = make([]float64, len(Eptr)-1)
		sd.cx = make([]float64, len(Eptr)-1)
	}
	return nil
}

// coarseSolve solves E*y = f for the distributed right-hand side f (ndv
// entries per rank) and leaves the full NZ-length solution in x on every
// rank. All traffic is routed through rank 0: the slaves of a master are
// not members of the masters' subcommunicator.
func (sd *SubdomainDeflation) coarseSolve(f, x []float64) {
	var (
		part = sd.part
		rank = sd.c.Rank()
	)
	comm.Gatherv(sd.c, f, x, part.DVSize, part.DVStart[:sd.c.Size()], 0)

	if rank == 0 {
		for p := 0; p < sd.nmasters; p++ {
			begin := part.DVStart[sd.slaves[p]]
			end := part.DVStart[sd.slaves[p+1]]
			sd.req[p] = comm.Isend(sd.c, x[begin:end], p, tagExcDvec)
		}
	}
	if rank < sd.nmasters {
		comm.Recv(sd.c, sd.cf, 0, tagExcDvec)
	}
	if rank == 0 {
		comm.WaitAll(sd.req[:sd.nmasters])
	}

	if rank < sd.nmasters {
		sd.E.Solve(sd.cf, sd.cx)

		if rank == 0 {
			for p := 0; p < sd.nmasters; p++ {
				begin := part.DVStart[sd.slaves[p]]
				end := part.DVStart[sd.slaves[p+1]]
				sd.req[p] = comm.Irecv(sd.c, x[begin:end], p, tagExcDvec)
			}
		}
		comm.Send(sd.c, sd.cx, 0, tagExcDvec)
		if rank == 0 {
			comm.WaitAll(sd.req[:sd.nmasters])
		}
	}

	comm.Bcast(sd.c, x, 0)
}
