package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zgpcy/azure-cost-report/internal/version"
)

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}
