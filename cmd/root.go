package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "godefl",
	Short: "Distributed sparse linear solver with subdomain deflation",
	Long: `
godefl solves large sparse linear systems Ax = b distributed in contiguous
row strips across cooperating ranks, combining a per-subdomain algebraic
multigrid preconditioner with a global subdomain-deflation projection.

godefl solve`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
