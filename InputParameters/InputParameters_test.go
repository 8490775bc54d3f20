package InputParameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	var (
		sp   = &SolverParameters{}
		data = []byte(`
Title: "Poisson 2D"
SolverType: cg
Tolerance: 1.e-10
MaxIterations: 200
BlockSize: 3
CoarseCommSize: 2
Verbose: true
`)
	)
	assert.NoError(t, sp.Parse(data))
	assert.Equal(t, "Poisson 2D", sp.Title)
	assert.Equal(t, "cg", sp.SolverType)
	assert.Equal(t, 1.e-10, sp.Tolerance)
	assert.Equal(t, 200, sp.MaxIterations)
	assert.Equal(t, 3, sp.BlockSize)

	prm := sp.DeflationParams()
	assert.Equal(t, "cg", prm.Solver.Type)
	assert.Equal(t, 2, prm.DirectSolver.CommSize)
	assert.True(t, prm.Verbose)
}
