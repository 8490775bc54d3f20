package cmd

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/notargets/godefl/InputParameters"
	"github.com/notargets/godefl/backend"
	"github.com/notargets/godefl/comm"
	"github.com/notargets/godefl/deflation"
	"github.com/notargets/godefl/utils"
)

// SolveCmd runs the model problem: a 2D 5-point Laplacian on an nx x nx
// grid, partitioned in row strips across np ranks.
var SolveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve the 2D Poisson model problem",
	Long: `
Solves the 5-point Laplacian on a square grid with unit right-hand side,
distributed across the requested number of ranks,

godefl solve -p 4 -n 64`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			sp = &InputParameters.SolverParameters{}
		)
		np, _ := cmd.Flags().GetInt("procs")
		nx, _ := cmd.Flags().GetInt("nx")
		input, _ := cmd.Flags().GetString("input")
		if input != "" {
			data, err := os.ReadFile(input)
			if err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
			if err = sp.Parse(data); err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
			sp.Print()
		}
		RunPoisson(np, nx, sp)
	},
}

func init() {
	rootCmd.AddCommand(SolveCmd)
	SolveCmd.Flags().IntP("procs", "p", 2, "number of ranks")
	SolveCmd.Flags().IntP("nx", "n", 32, "grid points per side")
	SolveCmd.Flags().StringP("input", "i", "", "path to a yaml solver parameter file")
}

// LaplacianStrip assembles rows [rowMin,rowMax) of the 5-point Laplacian on
// an nx x nx grid, with global column indices.
func LaplacianStrip(nx, rowMin, rowMax int) (h *backend.CSRHost) {
	var (
		n = nx * nx
	)
	h = backend.NewCSRHost(rowMax-rowMin, n)
	for row := rowMin; row < rowMax; row++ {
		i, j := row/nx, row%nx
		if i > 0 {
			h.Col = append(h.Col, row-nx)
			h.Val = append(h.Val, -1)
		}
		if j > 0 {
			h.Col = append(h.Col, row-1)
			h.Val = append(h.Val, -1)
		}
		h.Col = append(h.Col, row)
		h.Val = append(h.Val, 4)
		if j < nx-1 {
			h.Col = append(h.Col, row+1)
			h.Val = append(h.Val, -1)
		}
		if i < nx-1 {
			h.Col = append(h.Col, row+nx)
			h.Val = append(h.Val, -1)
		}
		h.Ptr[row-rowMin+1] = len(h.Col)
	}
	return
}

// RunPoisson spawns one goroutine per rank and solves the model problem.
func RunPoisson(np, nx int, sp *InputParameters.SolverParameters) {
	var (
		n   = nx * nx
		pm  = utils.NewPartitionMap(np, n)
		w   = comm.NewWorld(np)
		wg  sync.WaitGroup
		prm = sp.DeflationParams()
	)
	prm.Verbose = true
	for rank := 0; rank < np; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			var (
				kMin, kMax = pm.GetBucketRange(rank)
				nrows      = kMax - kMin
				c          = w.Comm(rank)
			)
			ndv, zf := deflation.ConstantDeflation(sp.BlockSize)
			sd, err := deflation.New(c, LaplacianStrip(nx, kMin, kMax), ndv, zf, prm)
			if err != nil {
				panic(err)
			}
			var (
				rhs = backend.CopyVector(utils.NewVecConst(nrows, 1))
				x   = backend.NewVector(nrows)
			)
			iters, resid := sd.Solve(rhs, x)
			if rank == 0 {
				fmt.Printf("converged in %d iterations, relative residual %.3e\n", iters, resid)
			}
		}(rank)
	}
	wg.Wait()
}
