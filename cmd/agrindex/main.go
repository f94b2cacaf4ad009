package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/verdantiq/agrindex/internal/version"
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "agrindex",
	Short:   "On-device semantic index over farm records",
	Version: version.Version,
	Long: `agrindex keeps a farm's soil, water, field, and planting records in a
local semantic index and answers similarity queries against it, using an
on-device model by default and a remote API only when configured to.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(backendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
