// Package cli implements the command lines of autotest: the one linked into
// every test binary and the standalone inspector.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/autotest/internal/cli/inspect"
	"github.com/coral-mesh/autotest/pkg/version"
)

// NewRootCmd creates the inspector's root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autotest",
		Short: "autotest - self-discovering native test harness",
		Long: `Test binaries linked against autotest discover their own TEST_ functions
from the symbol tables of their executable and report results as TAP.

This tool inspects ELF files the way a linked harness would, without running
them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(inspect.NewInspectCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			cmd.Printf("autotest version %s\n", info.Version)
			cmd.Printf("Git commit: %s\n", info.GitCommit)
			cmd.Printf("Build date: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s\n", info.GoVersion)
		},
	}
}

// Execute runs the inspector's root command.
func Execute() error {
	return NewRootCmd().Execute()
}
