package deflation

import (
	"sort"

	"github.com/notargets/godefl/comm"
	"github.com/notargets/godefl/utils"
)

// Partition tracks row ownership boundaries and per-rank deflation vector
// counts. Immutable after construction; all lookups are pure.
type Partition struct {
	Domain  utils.Index // Domain[p]..Domain[p+1] is rank p's row range
	DVSize  utils.Index // deflation vectors held by each rank
	DVStart utils.Index // prefix sum of DVSize
}

func newPartition(c *comm.Comm, nrows, ndv int) (p *Partition) {
	p = &Partition{
		Domain:  utils.Index(comm.AllgatherInt(c, nrows)).PrefixSum(),
		DVSize:  comm.AllgatherInt(c, ndv),
	}
	p.DVStart = p.DVSize.PrefixSum()
	return
}

// N is the global row count.
func (p *Partition) N() int {
	return p.Domain[len(p.Domain)-1]
}

// NZ is the total deflation vector count, the side of the coarse operator.
func (p *Partition) NZ() int {
	return p.DVStart[len(p.DVStart)-1]
}

// Owner returns the rank whose row range contains col.
func (p *Partition) Owner(col int) int {
	return sort.SearchInts(p.Domain, col+1) - 1
}

// Local converts a global column owned by rank into its local index.
func (p *Partition) Local(col, rank int) int {
	return col - p.Domain[rank]
}

// GlobalDV returns the coarse row of rank's j-th deflation vector.
func (p *Partition) GlobalDV(rank, j int) int {
	return p.DVStart[rank] + j
}
