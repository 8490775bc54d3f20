package utils

import "fmt"

type Index []int

func NewIndex(N int) (I Index) {
	return make(Index, N)
}

func NewRange(rmin, rmax int) (r Index) {
	var (
		size = rmax - rmin + 1 // INCLUSIVE RANGE
	)
	r = make(Index, size)
	for i := range r {
		r[i] = i + rmin
	}
	return
}

func (I Index) Add(val int) (r Index) {
	r = make(Index, len(I))
	for i, ival := range I {
		r[i] = val + ival
	}
	return r
}

func (I Index) AddInPlace(val int) (r Index) {
	for i := range I {
		I[i] += val
	}
	return I
}

func (I Index) Max() (max int) {
	for _, val := range I {
		if val > max {
			max = val
		}
	}
	return
}

// PrefixSum returns the length len(I)+1 running sum of I, beginning at zero.
// The result is the CSR row pointer for per-row counts stored in I.
func (I Index) PrefixSum() (r Index) {
	r = make(Index, len(I)+1)
	for i, val := range I {
		r[i+1] = r[i] + val
	}
	return
}

func (I Index) Validate(min, max int) {
	for _, val := range I {
		if val < min || val >= max {
			err := fmt.Errorf("index value %d out of range [%d,%d)", val, min, max)
			panic(err)
		}
	}
}
