package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionMap(t *testing.T) {
	{ // Balance: maximum imbalance of one item, totals preserved
		getHisto := func(K, Np int) (histo map[int]int) {
			pm := NewPartitionMap(Np, K)
			histo = make(map[int]int)
			for np := 0; np < pm.ParallelDegree; np++ {
				histo[pm.GetBucketDimension(np)]++
			}
			return
		}
		getTotal := func(histo map[int]int) (total int) {
			for key, count := range histo {
				total += key * count
			}
			return
		}
		assert.Equal(t, map[int]int{1: 32}, getHisto(32, 32))
		assert.Equal(t, map[int]int{8: 32}, getHisto(256, 32))
		assert.Equal(t, 287, getTotal(getHisto(287, 32)))
		for n := 64; n < 2000; n++ {
			var (
				keys   [2]float64
				keyNum int
			)
			histo := getHisto(n, 32)
			for key := range histo {
				keys[keyNum] = float64(key)
				keyNum++
			}
			if keyNum == 2 {
				assert.Equal(t, 1., math.Abs(keys[0]-keys[1]))
			}
			assert.Equal(t, n, getTotal(histo))
		}
	}
	{ // Bucket probe finds the containing partition for every index
		for maxIndex := 10; maxIndex < 500; maxIndex++ {
			pm := NewPartitionMap(5, maxIndex)
			for k := 0; k < maxIndex; k++ {
				bn, min, max := pm.GetBucket(k)
				mmin, mmax := pm.GetBucketRange(bn)
				assert.True(t, k >= min && k < max && min == mmin && max == mmax)
			}
		}
	}
}

func TestIndex(t *testing.T) {
	{ // PrefixSum produces a CSR row pointer
		I := Index{2, 0, 3}
		assert.Equal(t, Index{0, 2, 2, 5}, I.PrefixSum())
	}
	{
		assert.Equal(t, Index{3, 4, 5}, NewRange(3, 5))
		assert.Equal(t, Index{4, 5, 6}, NewRange(3, 5).Add(1))
		assert.Equal(t, 6, NewRange(3, 5).Add(1).Max())
	}
	{ // Out-of-range detection
		assert.Panics(t, func() { Index{5}.Validate(0, 5) })
		assert.NotPanics(t, func() { Index{4}.Validate(0, 5) })
	}
}

func TestMatrix(t *testing.T) {
	M := NewMatrix(2, 3, []float64{
		1, 2, 3,
		4, 5, 6,
	})
	assert.Equal(t, []float64{4, 5, 6}, M.Row(1))
	M.Row(1)[0] = 7
	assert.Equal(t, 7.0, M.At(1, 0))
	C := M.Copy()
	C.Set(0, 0, 9)
	assert.Equal(t, 1.0, M.At(0, 0))
}
