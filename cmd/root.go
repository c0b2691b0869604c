package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "codemie-sync",
	Short: "codemie-sync - Track AI coding agent sessions",
	Long: `codemie-sync wraps AI coding agents and keeps a local, incremental record
of each session: token and tool metrics plus the canonical conversation.

Supported agents:
  - Claude Code
  - Gemini CLI

Get started:
  1. Launch an agent through the wrapper: codemie-sync run claude
  2. Optionally install hooks: codemie-sync install claude
  3. Inspect sessions: codemie-sync status`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. The wrapped agent's own exit status is not
// reported as an error message.
func Execute() error {
	err := rootCmd.Execute()
	var agentExit *exitError
	if err != nil && !errors.As(err, &agentExit) {
		rootCmd.PrintErrln("Error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Mirror logs to stderr at debug level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("codemie-sync %s\n", Version)
	},
}
