package deflation

import (
	"github.com/notargets/godefl/backend"
	"github.com/notargets/godefl/comm"
	"github.com/notargets/godefl/utils"
)

// exchangeSide is one direction of the halo tables: neighbour ranks in
// ascending order, a prefix sum of per-neighbour counts, the value staging
// buffer and the in-flight request handles.
type exchangeSide struct {
	nbr utils.Index
	ptr utils.Index
	val []float64
	req []*comm.Request
}

func (s *exchangeSide) alloc(nnbr, nval int) {
	s.nbr = make(utils.Index, 0, nnbr)
	s.ptr = make(utils.Index, 1, nnbr+1)
	s.val = make([]float64, nval)
	s.req = make([]*comm.Request, nnbr)
}

// count returns the number of values exchanged with the i-th neighbour.
func (s *exchangeSide) count(i int) int {
	return s.ptr[i+1] - s.ptr[i]
}

// haloExchange moves ghost values of x between neighbouring ranks. start
// returns as soon as all transfers are posted so the caller can overlap the
// local matrix-vector product with communication; finish waits for the
// ghost values to land in recv.val in compact remote-column order.
type haloExchange struct {
	c          *comm.Comm
	recv, send exchangeSide
	gather     *backend.Gather
}

func (h *haloExchange) start(x backend.Vector) {
	for i, n := range h.recv.nbr {
		h.recv.req[i] = comm.Irecv(h.c, h.recv.val[h.recv.ptr[i]:h.recv.ptr[i+1]], n, tagExcVals)
	}

	if len(h.send.val) != 0 {
		h.gather.Apply(x, h.send.val)
	}

	for i, n := range h.send.nbr {
		h.send.req[i] = comm.Isend(h.c, h.send.val[h.send.ptr[i]:h.send.ptr[i+1]], n, tagExcVals)
	}
}

func (h *haloExchange) finish() {
	comm.WaitAll(h.recv.req)
	comm.WaitAll(h.send.req)
}
