// Package main provides the CLI entry point for the conductor agent
// runtime.
//
// Conductor runs an autonomous coding-agent session against a
// configured workspace: context assembly and compression, schema
// validated tool scheduling with approval gating, and a persistent
// session store.
//
// # Basic Usage
//
// Run a one-shot turn:
//
//	conductor run "summarize the failing tests"
//
// List stored sessions:
//
//	conductor sessions list
//
// Resume a session by id:
//
//	conductor run --session <id> --resume "continue where we left off"
//
// # Environment Variables
//
//   - CONDUCTOR_CONFIG: Path to configuration file (default: conductor.yaml)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Agent session runtime with tool scheduling and context management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildRunCmd(),
		buildSessionsCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("conductor %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("CONDUCTOR_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("conductor.yaml"); err == nil {
		return "conductor.yaml"
	}
	return ""
}
