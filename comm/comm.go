// Package comm provides the message passing layer used by the distributed
// solver: point-to-point non-blocking sends and receives with explicit
// request handles, plus the collective operations (allgather, gatherv,
// broadcast, sum reduction, communicator split) the solver setup requires.
//
// Ranks are goroutines sharing one World. Each rank holds a Comm handle;
// matching of messages is by (source rank, tag, communicator) and is FIFO
// per source, so sorted neighbour lists give deterministic pairing.
package comm

import (
	"fmt"
	"sync"
)

// Scalar is the set of payload element types carried on the wire.
type Scalar interface {
	~int | ~float64
}

type key struct {
	src, tag, ctx int
}

// endpoint is one rank's inbound queue set.
type endpoint struct {
	mu   sync.Mutex
	cond *sync.Cond
	q    map[key][]any
}

func newEndpoint() (ep *endpoint) {
	ep = &endpoint{
		q: make(map[key][]any),
	}
	ep.cond = sync.NewCond(&ep.mu)
	return
}

func (ep *endpoint) put(k key, payload any) {
	ep.mu.Lock()
	ep.q[k] = append(ep.q[k], payload)
	ep.cond.Broadcast()
	ep.mu.Unlock()
}

func (ep *endpoint) take(k key) (payload any) {
	ep.mu.Lock()
	for len(ep.q[k]) == 0 {
		ep.cond.Wait()
	}
	pending := ep.q[k]
	payload = pending[0]
	ep.q[k] = pending[1:]
	ep.mu.Unlock()
	return
}

// World is the shared state of a set of cooperating ranks within one process
// space. One goroutine per rank; each obtains its Comm handle via Comm(rank).
type World struct {
	np  int
	eps []*endpoint

	mu      sync.Mutex
	nextCtx int
}

func NewWorld(np int) (w *World) {
	if np < 1 {
		panic(fmt.Errorf("comm: world size %d < 1", np))
	}
	w = &World{
		np:  np,
		eps: make([]*endpoint, np),
	}
	for n := 0; n < np; n++ {
		w.eps[n] = newEndpoint()
	}
	return
}

// Comm is one rank's handle on a communicator: the world communicator from
// World.Comm, or a subcommunicator produced by Split.
type Comm struct {
	w     *World
	rank  int
	ctx   int
	group []int // communicator rank -> world rank
}

func (w *World) Comm(rank int) (c *Comm) {
	if rank < 0 || rank >= w.np {
		panic(fmt.Errorf("comm: rank %d out of range [0,%d)", rank, w.np))
	}
	group := make([]int, w.np)
	for n := range group {
		group[n] = n
	}
	c = &Comm{
		w:     w,
		rank:  rank,
		group: group,
	}
	return
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return len(c.group) }

func (c *Comm) checkRank(p int) {
	if p < 0 || p >= len(c.group) {
		panic(fmt.Errorf("comm: peer rank %d out of range [0,%d)", p, len(c.group)))
	}
}

// Request is an in-flight transfer handle. Sends complete immediately;
// receives block in Wait until the matching message has arrived.
type Request struct {
	wait func()
}

func (r *Request) Wait() {
	if r != nil && r.wait != nil {
		r.wait()
		r.wait = nil
	}
}

func WaitAll(reqs []*Request) {
	for _, r := range reqs {
		r.Wait()
	}
}

// Isend starts a non-blocking send of buf to dst. The buffer is copied at
// call time and may be reused immediately.
func Isend[T Scalar](c *Comm, buf []T, dst, tag int) (r *Request) {
	c.checkRank(dst)
	payload := make([]T, len(buf))
	copy(payload, buf)
	c.w.eps[c.group[dst]].put(key{src: c.rank, tag: tag, ctx: c.ctx}, payload)
	return &Request{}
}

// Irecv starts a non-blocking receive into buf from src. The transfer
// completes in Wait; buf must stay valid until then.
func Irecv[T Scalar](c *Comm, buf []T, src, tag int) (r *Request) {
	c.checkRank(src)
	k := key{src: src, tag: tag, ctx: c.ctx}
	ep := c.w.eps[c.group[c.rank]]
	return &Request{
		wait: func() {
			payload, ok := ep.take(k).([]T)
			if !ok {
				panic(fmt.Errorf("comm: payload type mismatch from rank %d tag %d", src, tag))
			}
			if len(payload) != len(buf) {
				panic(fmt.Errorf("comm: message length %d != receive buffer length %d from rank %d tag %d",
					len(payload), len(buf), src, tag))
			}
			copy(buf, payload)
		},
	}
}

func Send[T Scalar](c *Comm, buf []T, dst, tag int) {
	Isend(c, buf, dst, tag).Wait()
}

func Recv[T Scalar](c *Comm, buf []T, src, tag int) {
	Irecv(c, buf, src, tag).Wait()
}
