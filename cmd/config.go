package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codemie-ai/codemie-sync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect codemie-sync configuration",
	Long: `Inspect the configuration read from ~/.codemie/sync.yaml.

Priority order: environment variables > config file > defaults

Environment:
  CODEMIE_HOME                  Data directory (default ~/.codemie)
  CODEMIE_DEBUG                 Debug logging
  CODEMIE_DISABLE_METRICS       Turn the sync pipeline off
  CODEMIE_CORRELATION_ATTEMPTS  Transcript discovery retries`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", cfg.Path(), data)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := config.HomeDir()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), config.Default(home).Path())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}
