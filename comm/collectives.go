package comm

// Collective operations. Every rank of the communicator must call the same
// collectives in the same program order; internal traffic uses the reserved
// negative tag space so it never pairs with solver point-to-point messages.

const (
	tagGather = -(iota + 1)
	tagBcast
	tagScatter
)

// Gather collects each rank's slice at root, in rank order. Slice lengths
// may differ per rank. Non-root ranks get nil.
func Gather[T Scalar](c *Comm, send []T, root int) (parts [][]T) {
	c.checkRank(root)
	if c.rank != root {
		Send(c, send, root, tagGather)
		return nil
	}
	parts = make([][]T, len(c.group))
	for p := range c.group {
		if p == root {
			parts[p] = make([]T, len(send))
			copy(parts[p], send)
			continue
		}
		payload, ok := c.w.eps[c.group[root]].take(key{src: p, tag: tagGather, ctx: c.ctx}).([]T)
		if !ok {
			panic("comm: gather payload type mismatch")
		}
		parts[p] = payload
	}
	return
}

// bcastSlice distributes root's slice; the received slice is returned with
// its intrinsic length, so receivers need not know the size beforehand.
func bcastSlice[T Scalar](c *Comm, send []T, root int) []T {
	c.checkRank(root)
	if c.rank == root {
		for p := range c.group {
			if p != root {
				Send(c, send, p, tagBcast)
			}
		}
		return send
	}
	payload, ok := c.w.eps[c.group[c.rank]].take(key{src: root, tag: tagBcast, ctx: c.ctx}).([]T)
	if !ok {
		panic("comm: bcast payload type mismatch")
	}
	return payload
}

// Bcast distributes root's buf into every rank's buf. Lengths must agree.
func Bcast[T Scalar](c *Comm, buf []T, root int) {
	payload := bcastSlice(c, buf, root)
	if c.rank != root {
		if len(payload) != len(buf) {
			panic("comm: bcast buffer length mismatch")
		}
		copy(buf, payload)
	}
}

// Allgather concatenates every rank's contribution in rank order and returns
// the result on all ranks.
func Allgather[T Scalar](c *Comm, send []T) []T {
	parts := Gather(c, send, 0)
	var flat []T
	if c.rank == 0 {
		for _, part := range parts {
			flat = append(flat, part...)
		}
	}
	return bcastSlice(c, flat, 0)
}

// AllgatherInt gathers one int from each rank.
func AllgatherInt(c *Comm, v int) []int {
	return Allgather(c, []int{v})
}

// Gatherv assembles variable-size slabs at root: rank p's send lands at
// recv[displs[p] : displs[p]+counts[p]]. recv, counts, displs are only read
// at root.
func Gatherv[T Scalar](c *Comm, send []T, recv []T, counts, displs []int, root int) {
	c.checkRank(root)
	if c.rank != root {
		Send(c, send, root, tagScatter)
		return
	}
	for p := range c.group {
		dst := recv[displs[p] : displs[p]+counts[p]]
		if p == root {
			copy(dst, send)
			continue
		}
		Recv(c, dst, p, tagScatter)
	}
}

// AllreduceSum returns the sum of v over all ranks, identical on every rank.
func AllreduceSum(c *Comm, v float64) (sum float64) {
	all := Allgather(c, []float64{v})
	for _, val := range all {
		sum += val
	}
	return
}

// Split partitions the communicator by color. Ranks passing a negative color
// do not join any subcommunicator and get nil. Within a subcommunicator,
// ranks are ordered by their rank in the parent.
func (c *Comm) Split(color int) (sub *Comm) {
	colors := Allgather(c, []int{color})

	// Agree on a fresh context id for all subcommunicators of this split.
	id := []int{0}
	if c.rank == 0 {
		c.w.mu.Lock()
		c.w.nextCtx++
		id[0] = c.w.nextCtx
		c.w.mu.Unlock()
	}
	id = bcastSlice(c, id, 0)

	if color < 0 {
		return nil
	}
	var group []int
	rank := -1
	for p, pc := range colors {
		if pc != color {
			continue
		}
		if p == c.rank {
			rank = len(group)
		}
		group = append(group, c.group[p])
	}
	sub = &Comm{
		w:     c.w,
		rank:  rank,
		ctx:   id[0]*1024 + color + 1,
		group: group,
	}
	return
}
