// Package cmd provides the command-line interface of cohsim.
package cmd

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cohsim",
	Short: "cohsim runs memory traces through a directory coherence protocol.",
	Long: `cohsim runs memory traces through a MOESI directory coherence ` +
		`protocol with ideal private caches and memory. It can record ` +
		`transactions, serve a monitoring page, and checkpoint caches and ` +
		`directories.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It returns the exit code of the process.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		return 1
	}

	return 0
}
