package comm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func runWorld(np int, f func(c *Comm)) {
	var (
		w  = NewWorld(np)
		wg sync.WaitGroup
	)
	for r := 0; r < np; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			f(w.Comm(r))
		}(r)
	}
	wg.Wait()
}

func TestPointToPoint(t *testing.T) {
	// Non-blocking pairwise exchange with overlap
	{
		runWorld(2, func(c *Comm) {
			buf := make([]float64, 3)
			req := Irecv(c, buf, 1-c.Rank(), 7)
			Isend(c, []float64{float64(c.Rank()), 1, 2}, 1-c.Rank(), 7)
			req.Wait()
			assert.Equal(t, []float64{float64(1 - c.Rank()), 1, 2}, buf)
		})
	}
	// Send to self completes without a partner
	{
		runWorld(1, func(c *Comm) {
			Isend(c, []int{42}, 0, 3)
			got := make([]int, 1)
			Recv(c, got, 0, 3)
			assert.Equal(t, 42, got[0])
		})
	}
	// FIFO per (source, tag): messages arrive in posting order
	{
		runWorld(2, func(c *Comm) {
			if c.Rank() == 0 {
				Isend(c, []int{1}, 1, 5)
				Isend(c, []int{2}, 1, 5)
				return
			}
			a, b := make([]int, 1), make([]int, 1)
			WaitAll([]*Request{Irecv(c, a, 0, 5), Irecv(c, b, 0, 5)})
			assert.Equal(t, 1, a[0])
			assert.Equal(t, 2, b[0])
		})
	}
}

func TestCollectives(t *testing.T) {
	// Allgather with unequal contributions concatenates in rank order
	{
		runWorld(3, func(c *Comm) {
			send := make([]int, c.Rank()+1)
			for i := range send {
				send[i] = c.Rank()
			}
			got := Allgather(c, send)
			assert.Equal(t, []int{0, 1, 1, 2, 2, 2}, got)
		})
	}
	// AllgatherInt
	{
		runWorld(4, func(c *Comm) {
			assert.Equal(t, []int{0, 10, 20, 30}, AllgatherInt(c, 10*c.Rank()))
		})
	}
	// Gatherv places slabs at the given displacements
	{
		runWorld(3, func(c *Comm) {
			var (
				counts = []int{1, 2, 1}
				displs = []int{0, 1, 3}
				recv   = make([]float64, 4)
				send   = make([]float64, counts[c.Rank()])
			)
			for i := range send {
				send[i] = float64(c.Rank())
			}
			Gatherv(c, send, recv, counts, displs, 0)
			if c.Rank() == 0 {
				assert.Equal(t, []float64{0, 1, 1, 2}, recv)
			}
		})
	}
	// Bcast
	{
		runWorld(3, func(c *Comm) {
			buf := make([]float64, 2)
			if c.Rank() == 0 {
				buf[0], buf[1] = 3, 4
			}
			Bcast(c, buf, 0)
			assert.Equal(t, []float64{3, 4}, buf)
		})
	}
	// AllreduceSum is identical on every rank
	{
		runWorld(4, func(c *Comm) {
			assert.Equal(t, 6.0, AllreduceSum(c, float64(c.Rank())))
		})
	}
}

func TestSplit(t *testing.T) {
	// Even/odd split, collectives confined to the subcommunicator
	{
		runWorld(4, func(c *Comm) {
			sub := c.Split(c.Rank() % 2)
			assert.Equal(t, 2, sub.Size())
			assert.Equal(t, c.Rank()/2, sub.Rank())
			got := AllgatherInt(sub, c.Rank())
			if c.Rank()%2 == 0 {
				assert.Equal(t, []int{0, 2}, got)
			} else {
				assert.Equal(t, []int{1, 3}, got)
			}
		})
	}
	// Negative color opts out
	{
		runWorld(3, func(c *Comm) {
			color := -1
			if c.Rank() < 2 {
				color = 0
			}
			sub := c.Split(color)
			if c.Rank() < 2 {
				assert.Equal(t, 2, sub.Size())
			} else {
				assert.Nil(t, sub)
			}
		})
	}
	// Subcommunicator traffic does not pair with world traffic
	{
		runWorld(2, func(c *Comm) {
			sub := c.Split(0)
			if c.Rank() == 0 {
				Isend(c, []int{1}, 1, 9)
				Isend(sub, []int{2}, 1, 9)
				return
			}
			world, s := make([]int, 1), make([]int, 1)
			Recv(sub, s, 0, 9)
			Recv(c, world, 0, 9)
			assert.Equal(t, 1, world[0])
			assert.Equal(t, 2, s[0])
		})
	}
}
