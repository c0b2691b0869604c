package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codemie-ai/codemie-sync/internal/hooks"
	"github.com/codemie-ai/codemie-sync/internal/provider"
)

var installCmd = &cobra.Command{
	Use:   "install <provider>",
	Short: "Install codemie-sync hooks for an AI agent",
	Long: `Register codemie-sync in the agent's settings so it runs a sync pass when a
turn or session ends. Sessions launched with "codemie-sync run" are synced
either way; hooks make the conversation land sooner.

Supported providers:
  - claude: Claude Code (also accepts "claude-code")
  - gemini: Gemini CLI (also accepts "gemini-cli")`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	target, err := hookTarget(args[0])
	if err != nil {
		return err
	}

	// Get the executable path for hook commands
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	exePath, err = filepath.EvalSymlinks(exePath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	n, err := hooks.Install(target, hooks.Command(exePath, target.Provider))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Successfully installed codemie-sync hooks for %s (%d events)\n", target.DisplayName, n)
	fmt.Fprintf(out, "Settings file: %s\n", target.SettingsPath)
	return nil
}

func hookTarget(name string) (hooks.Target, error) {
	registry := provider.Default(nil)
	p, ok := registry.Get(name)
	if !ok {
		return hooks.Target{}, fmt.Errorf("unknown provider: %s. Supported: %v", name, registry.Names())
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return hooks.Target{}, fmt.Errorf("failed to get home directory: %w", err)
	}
	return hooks.TargetFor(p.Name(), userHome)
}
