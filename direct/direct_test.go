package direct

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/godefl/comm"
	"github.com/notargets/godefl/utils"
)

func runWorld(np int, f func(c *comm.Comm)) {
	var (
		w  = comm.NewWorld(np)
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

// stripRows returns rows [r0,r1) of the n x n matrix tridiag(-1, 2, -1).
func stripRows(n, r0, r1 int) (ptr, col utils.Index, val []float64) {
	ptr = utils.NewIndex(r1 - r0 + 1)
	for i := r0; i < r1; i++ {
		if i > 0 {
			col = append(col, i-1)
			val = append(val, -1)
		}
		col = append(col, i)
		val = append(val, 2)
		if i < n-1 {
			col = append(col, i+1)
			val = append(val, -1)
		}
		ptr[i-r0+1] = len(col)
	}
	return
}

func TestRecommendedCommSize(t *testing.T) {
	assert.Equal(t, 1, RecommendedCommSize(1))
	assert.Equal(t, 1, RecommendedCommSize(4096))
	assert.Equal(t, 2, RecommendedCommSize(4097))
}

func TestSolveSingle(t *testing.T) {
	runWorld(1, func(c *comm.Comm) {
		var (
			n             = 6
			ptr, col, val = stripRows(n, 0, n)
		)
		s, err := New(c, n, ptr, col, val, Params{})
		assert.NoError(t, err)
		assert.Equal(t, n, s.Dim())

		// f = A * [1 2 3 4 5 6]
		want := []float64{1, 2, 3, 4, 5, 6}
		f := applyTridiag(want)
		x := make([]float64, n)
		s.Solve(f, x)
		for i := range want {
			assert.InDelta(t, want[i], x[i], 1e-12)
		}
	})
}

func TestSolveDistributed(t *testing.T) {
	runWorld(2, func(c *comm.Comm) {
		var (
			n      = 8
			r0, r1 = 4 * c.Rank(), 4*c.Rank() + 4
		)
		ptr, col, val := stripRows(n, r0, r1)
		s, err := New(c, 4, ptr, col, val, Params{})
		assert.NoError(t, err)
		assert.Equal(t, n, s.Dim())

		want := make([]float64, n)
		for i := range want {
			want[i] = float64(i + 1)
		}
		f := applyTridiag(want)[r0:r1]
		x := make([]float64, 4)
		s.Solve(f, x)
		for i := 0; i < 4; i++ {
			assert.InDelta(t, want[r0+i], x[i], 1e-12)
		}
	})
}

func TestSingularRejected(t *testing.T) {
	runWorld(1, func(c *comm.Comm) {
		// Rank-deficient 2x2
		ptr := utils.Index{0, 2, 4}
		col := utils.Index{0, 1, 0, 1}
		val := []float64{1, 1, 1, 1}
		_, err := New(c, 2, ptr, col, val, Params{})
		assert.Error(t, err)
	})
}

func applyTridiag(x []float64) (f []float64) {
	n := len(x)
	f = make([]float64, n)
	for i := 0; i < n; i++ {
		f[i] = 2 * x[i]
		if i > 0 {
			f[i] -= x[i-1]
		}
		if i < n-1 {
			f[i] -= x[i+1]
		}
	}
	return
}
