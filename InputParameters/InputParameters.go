package InputParameters

import (
	"fmt"

	"github.com/ghodss/yaml"

	"github.com/notargets/godefl/amg"
	"github.com/notargets/godefl/deflation"
	"github.com/notargets/godefl/direct"
	"github.com/notargets/godefl/krylov"
)

// Parameters obtained from the YAML input file
type SolverParameters struct {
	Title             string  `yaml:"Title"`
	SolverType        string  `yaml:"SolverType"` // cg or bicgstab
	Tolerance         float64 `yaml:"Tolerance"`
	MaxIterations     int     `yaml:"MaxIterations"`
	BlockSize         int     `yaml:"BlockSize"` // constant deflation block size
	CoarseCommSize    int     `yaml:"CoarseCommSize"`
	AMGCoarseSize     int     `yaml:"AMGCoarseSize"`
	AMGStrength       float64 `yaml:"AMGStrength"`
	AMGJacobiWeight   float64 `yaml:"AMGJacobiWeight"`
	Verbose           bool    `yaml:"Verbose"`
}

func (sp *SolverParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, sp)
}

func (sp *SolverParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", sp.Title)
	fmt.Printf("[%s]\t\t\t= SolverType\n", sp.SolverType)
	fmt.Printf("%8.2e\t\t= Tolerance\n", sp.Tolerance)
	fmt.Printf("[%d]\t\t\t= MaxIterations\n", sp.MaxIterations)
	fmt.Printf("[%d]\t\t\t= BlockSize\n", sp.BlockSize)
}

// DeflationParams maps the file-level parameters onto the solver's
// parameter tree.
func (sp *SolverParameters) DeflationParams() deflation.Params {
	return deflation.Params{
		AMG: amg.Params{
			CoarseSize:        sp.AMGCoarseSize,
			StrengthThreshold: sp.AMGStrength,
			Omega:             sp.AMGJacobiWeight,
		},
		Solver: krylov.Params{
			Type:          sp.SolverType,
			Tolerance:     sp.Tolerance,
			MaxIterations: sp.MaxIterations,
		},
		DirectSolver: direct.Params{
			CommSize: sp.CoarseCommSize,
		},
		Verbose: sp.Verbose,
	}
}
