package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "fusiond",
		Short: "Contradiction-driven signal fusion engine",
		Long: `fusiond consumes (sentiment, price window) observations, classifies
sentiment/price divergence against an adaptive threshold, simulates forward
price paths, and emits sized trading signals with a full audit trail.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to YAML config")

	root.AddCommand(runCmd())
	root.AddCommand(replayCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
