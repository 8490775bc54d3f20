package deflation

import (
	"fmt"
	"sort"

	"github.com/notargets/godefl/backend"
	"github.com/notargets/godefl/comm"
	"github.com/notargets/godefl/utils"
)

// builder carries the intermediate state of the two-pass distributed
// assembly: nonzero classification, the remote-column set, the neighbour
// graph, and the deflation-vector slabs received from neighbours. It is
// discarded once the matrices have moved to the backend.
type builder struct {
	sd     *SubdomainDeflation
	astrip *backend.CSRHost

	aloc, arem, az *backend.CSRHost
	locNnz, remNnz int

	rc         map[int]int // remote global column -> compact index
	recvCols   utils.Index // compact index -> remote global column
	numRecv    utils.Index // distinct remote columns needed per rank
	commMatrix utils.Index // P x P, row-major: commMatrix[p*P+q] = columns p needs from q

	sendCols utils.Index // local columns to serve, in receiver order

	zcolPtr utils.Index // compact remote column -> offset into zrecv
	zrecv   []float64   // deflation vector rows for remote columns

	marker utils.Index
}

// firstPass classifies every nonzero of the strip as local or remote,
// collects the distinct remote columns, and counts the exact nonzeros of
// each AZ row: one block of dvSize[d] entries per domain d touched by the
// row.
func (b *builder) firstPass() error {
	var (
		sd   = b.sd
		part = sd.part
		rank = sd.c.Rank()
		n    = part.N()
	)
	b.az = backend.NewCSRHost(sd.nrows, sd.nz)
	b.rc = make(map[int]int)
	b.marker = make(utils.Index, sd.nz)
	for k := range b.marker {
		b.marker[k] = -1
	}

	for i := 0; i < sd.nrows; i++ {
		for jj := b.astrip.Ptr[i]; jj < b.astrip.Ptr[i+1]; jj++ {
			c := b.astrip.Col[jj]
			if c < 0 || c >= n {
				return fmt.Errorf("column %d of row %d outside the global range [0,%d)", c, i, n)
			}
			d := part.Owner(c)
			if d == rank {
				b.locNnz++
			} else {
				b.remNnz++
				b.rc[c] = 0
			}
			if b.marker[d] != i {
				b.marker[d] = i
				b.az.Ptr[i+1] += part.DVSize[d]
			}
		}
	}

	// Renumber remote columns in ascending global order and histogram them
	// by owning rank.
	b.recvCols = make(utils.Index, 0, len(b.rc))
	for c := range b.rc {
		b.recvCols = append(b.recvCols, c)
	}
	sort.Ints(b.recvCols)
	b.numRecv = make(utils.Index, sd.c.Size())
	curNbr := 0
	for id, c := range b.recvCols {
		b.rc[c] = id
		for c >= part.Domain[curNbr+1] {
			curNbr++
		}
		b.numRecv[curNbr]++
	}
	return nil
}

// setupComm gathers the global communication matrix, sizes both halo tables,
// and starts the exchange that tells every sender which of its local columns
// each receiver expects. These column-id transfers, whose requests are held
// in the halo tables, are still in flight when setupComm returns; the caller
// overlaps the second assembly pass with them.
func (b *builder) setupComm() {
	var (
		sd   = b.sd
		rank = sd.c.Rank()
		np   = sd.c.Size()
	)
	b.commMatrix = comm.Allgather(sd.c, []int(b.numRecv))

	var rnbr, snbr, sendSize int
	for i := 0; i < np; i++ {
		if b.commMatrix[rank*np+i] != 0 {
			rnbr++
		}
		if ns := b.commMatrix[i*np+rank]; ns != 0 {
			snbr++
			sendSize += ns
		}
	}

	sd.halo.c = sd.c
	sd.halo.recv.alloc(rnbr, len(b.recvCols))
	sd.halo.send.alloc(snbr, sendSize)

	recv, send := &sd.halo.recv, &sd.halo.send
	for i := 0; i < np; i++ {
		if nr := b.commMatrix[rank*np+i]; nr != 0 {
			recv.nbr = append(recv.nbr, i)
			recv.ptr = append(recv.ptr, recv.ptr[len(recv.ptr)-1]+nr)
		}
		if ns := b.commMatrix[i*np+rank]; ns != 0 {
			send.nbr = append(send.nbr, i)
			send.ptr = append(send.ptr, send.ptr[len(send.ptr)-1]+ns)
		}
	}

	// What columns do you need from me?
	b.sendCols = make(utils.Index, sendSize)
	for i, n := range send.nbr {
		send.req[i] = comm.Irecv(sd.c, []int(b.sendCols[send.ptr[i]:send.ptr[i+1]]), n, tagExcCols)
	}
	// Here is what I need from you:
	for i, n := range recv.nbr {
		recv.req[i] = comm.Isend(sd.c, []int(b.recvCols[recv.ptr[i]:recv.ptr[i+1]]), n, tagExcCols)
	}
}

// secondPass fills Aloc and Arem and scatters the locally-owned
// contribution of every nonzero into AZ. During this pass az.Ptr[i] is
// transiently the end cursor of row i; completeAZ restores conventional CSR.
func (b *builder) secondPass(zf func(i, j int) float64) {
	var (
		sd         = b.sd
		part       = sd.part
		rank       = sd.c.Rank()
		chunkStart = part.Domain[rank]
		chunkEnd   = part.Domain[rank+1]
	)
	b.aloc = backend.NewCSRHost(sd.nrows, sd.nrows)
	b.aloc.Col = make(utils.Index, b.locNnz)
	b.aloc.Val = make([]float64, b.locNnz)

	b.arem = backend.NewCSRHost(sd.nrows, len(b.recvCols))
	b.arem.Col = make(utils.Index, b.remNnz)
	b.arem.Val = make([]float64, b.remNnz)

	for i := 0; i < sd.nrows; i++ {
		b.az.Ptr[i+1] += b.az.Ptr[i]
	}
	b.az.Col = make(utils.Index, b.az.Ptr[sd.nrows])
	b.az.Val = make([]float64, b.az.Ptr[sd.nrows])
	for k := range b.marker {
		b.marker[k] = -1
	}

	var lc, rcur int
	for i := 0; i < sd.nrows; i++ {
		azRowBeg := b.az.Ptr[i]
		azRowEnd := azRowBeg

		for jj := b.astrip.Ptr[i]; jj < b.astrip.Ptr[i+1]; jj++ {
			c, v := b.astrip.Col[jj], b.astrip.Val[jj]

			if chunkStart <= c && c < chunkEnd {
				locC := c - chunkStart
				b.aloc.Col[lc] = locC
				b.aloc.Val[lc] = v
				lc++

				for j, k := 0, part.DVStart[rank]; j < sd.ndv; j, k = j+1, k+1 {
					if b.marker[k] < azRowBeg {
						b.marker[k] = azRowEnd
						b.az.Col[azRowEnd] = k
						b.az.Val[azRowEnd] = v * zf(locC, j)
						azRowEnd++
					} else {
						b.az.Val[b.marker[k]] += v * zf(locC, j)
					}
				}
			} else {
				b.arem.Col[rcur] = b.rc[c]
				b.arem.Val[rcur] = v
				rcur++
			}
		}

		b.az.Ptr[i] = azRowEnd
		b.aloc.Ptr[i+1] = lc
		b.arem.Ptr[i+1] = rcur
	}
}

// waitColumns completes the ghost-column exchange started by setupComm and
// shifts the received column ids into local numbering.
func (b *builder) waitColumns() {
	var (
		sd         = b.sd
		chunkStart = sd.part.Domain[sd.c.Rank()]
	)
	comm.WaitAll(sd.halo.recv.req)
	comm.WaitAll(sd.halo.send.req)
	for i := range b.sendCols {
		b.sendCols[i] -= chunkStart
	}
}

// exchangeZ ships each requested local column's deflation-vector row to its
// requester. The receive side lands in zrecv, one contiguous
// dvSize[sender]-strided slab per neighbour; zcolPtr locates the slab of a
// compact remote column.
func (b *builder) exchangeZ() {
	var (
		sd         = b.sd
		part       = sd.part
		recv, send = &sd.halo.recv, &sd.halo.send
	)
	zrecvPtr := make(utils.Index, len(recv.nbr)+1)
	b.zcolPtr = make(utils.Index, len(b.recvCols))
	for i, n := range recv.nbr {
		zrecvPtr[i+1] = zrecvPtr[i] + part.DVSize[n]*recv.count(i)
		for t := 0; t < recv.count(i); t++ {
			b.zcolPtr[recv.ptr[i]+t] = zrecvPtr[i] + t*part.DVSize[n]
		}
	}

	b.zrecv = make([]float64, zrecvPtr[len(recv.nbr)])
	for i, n := range recv.nbr {
		recv.req[i] = comm.Irecv(sd.c, b.zrecv[zrecvPtr[i]:zrecvPtr[i+1]], n, tagExcVals)
	}

	zsend := make([]float64, len(b.sendCols)*sd.ndv)
	for i, k := 0, 0; i < len(b.sendCols); i++ {
		for j := 0; j < sd.ndv; j, k = j+1, k+1 {
			zsend[k] = sd.Z[j][b.sendCols[i]]
		}
	}
	for i, n := range send.nbr {
		send.req[i] = comm.Isend(sd.c, zsend[sd.ndv*send.ptr[i]:sd.ndv*send.ptr[i+1]], n, tagExcVals)
	}

	comm.WaitAll(recv.req)
}

// completeAZ adds the Arem * Z contribution using the received deflation
// rows, then rotates az.Ptr back to conventional CSR form.
func (b *builder) completeAZ() {
	var (
		sd   = b.sd
		part = sd.part
		recv = &sd.halo.recv
	)
	for k := range b.marker {
		b.marker[k] = -1
	}

	for i := 0; i < sd.nrows; i++ {
		azRowBeg := b.az.Ptr[i]
		azRowEnd := azRowBeg

		for jj := b.arem.Ptr[i]; jj < b.arem.Ptr[i+1]; jj++ {
			c, v := b.arem.Col[jj], b.arem.Val[jj]

			d := recv.nbr[sort.SearchInts(recv.ptr, c+1)-1]
			zval := b.zrecv[b.zcolPtr[c]:]
			for j, k := 0, part.DVStart[d]; j < part.DVSize[d]; j, k = j+1, k+1 {
				if b.marker[k] < azRowBeg {
					b.marker[k] = azRowEnd
					b.az.Col[azRowEnd] = k
					b.az.Val[azRowEnd] = v * zval[j]
					azRowEnd++
				} else {
					b.az.Val[b.marker[k]] += v * zval[j]
				}
			}
		}

		b.az.Ptr[i] = azRowEnd
	}

	copy(b.az.Ptr[1:], b.az.Ptr[:sd.nrows])
	b.az.Ptr[0] = 0

	comm.WaitAll(sd.halo.send.req)
}
