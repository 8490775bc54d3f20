package utils

import "math"

func NewVecConst(N int, val float64) (x []float64) {
	x = make([]float64, N)
	for i := 0; i < N; i++ {
		x[i] = val
	}
	return
}

func VecNorm2(x []float64) (nrm float64) {
	for _, val := range x {
		nrm += val * val
	}
	nrm = math.Sqrt(nrm)
	return
}

func VecMaxAbsDiff(x, y []float64) (max float64) {
	for i, val := range x {
		if d := math.Abs(val - y[i]); d > max {
			max = d
		}
	}
	return
}
