package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dissentd",
	Short: "dissentd runs one participant in a dissent session",
	Long: `dissentd boots a single server or client participant against a
configured overlay, joins its session negotiation protocol, and serves
Prometheus metrics for the duration of the process.`,
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
