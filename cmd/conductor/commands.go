package main

import (
	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		resume     bool
		yolo       bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run an agent turn",
		Long: `Run an agent turn against the configured workspace.

The prompt is taken from the arguments, or read from stdin when omitted.
Tool calls that modify state prompt for confirmation on the terminal
unless --yolo is set.`,
		Example: `  # One-shot turn
  conductor run "list the TODO comments in this repo"

  # Resume an earlier session
  conductor run --session 1f0c... --resume "and fix the first one"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) == 1 {
				prompt = args[0]
			}
			return runRun(cmd.Context(), runOptions{
				configPath: resolveConfigPath(configPath),
				sessionID:  sessionID,
				resume:     resume,
				yolo:       yolo,
				verbose:    verbose,
				prompt:     prompt,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (new session when empty)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume the session from its stored history")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "Approve all tool calls without prompting")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print tool lifecycle events")

	return cmd
}

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsShowCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd.Context(), resolveConfigPath(configPath), limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list")

	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's messages and checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd.Context(), resolveConfigPath(configPath), args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}
