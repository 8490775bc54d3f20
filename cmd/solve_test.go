package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/godefl/InputParameters"
)

func TestLaplacianStrip(t *testing.T) {
	h := LaplacianStrip(4, 4, 8)
	assert.Equal(t, 4, h.Nrows)
	assert.Equal(t, 16, h.Ncols)
	// Row 5 (interior in x, second row in y) has four neighbours plus the
	// diagonal.
	assert.Equal(t, 5, h.Ptr[2]-h.Ptr[1])
}

func TestRunPoisson(t *testing.T) {
	sp := &InputParameters.SolverParameters{
		Tolerance:     1e-8,
		MaxIterations: 100,
		BlockSize:     1,
	}
	RunPoisson(2, 8, sp)
}
