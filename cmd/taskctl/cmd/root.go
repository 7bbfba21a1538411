// Package cmd is the cobra-based CLI, grounded on
// hortator-ai-Hortator/cmd/hortator/cmd's root.go/Execute() shape.
package cmd

import "github.com/spf13/cobra"

// Version is overridden at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "taskctl",
	Short:   "Background task subsystem control plane",
	Version: Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
