package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codemie-ai/codemie-sync/internal/hooks"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <provider>",
	Short: "Uninstall codemie-sync hooks from an AI agent",
	Long: `Remove codemie-sync hooks from the agent's settings. Hooks registered by
other tools are left untouched.

Supported providers:
  - claude: Claude Code (also accepts "claude-code")
  - gemini: Gemini CLI (also accepts "gemini-cli")`,
	Args: cobra.ExactArgs(1),
	RunE: runUninstall,
}

func runUninstall(cmd *cobra.Command, args []string) error {
	target, err := hookTarget(args[0])
	if err != nil {
		return err
	}
	removed, err := hooks.Uninstall(target)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if removed == 0 {
		fmt.Fprintf(out, "No codemie-sync hooks found for %s\n", target.DisplayName)
		return nil
	}
	fmt.Fprintf(out, "Successfully uninstalled codemie-sync hooks from %s (%d events)\n", target.DisplayName, removed)
	return nil
}
