package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makt28/mandown/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file",
	Long: `Validate the configuration without starting anything. Environment
overrides are applied first, so this checks the config serve would use.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	admin := "disabled"
	if cfg.Admin.PasswordHash != "" {
		admin = "enabled for " + cfg.Admin.Username
	}
	token := "missing"
	if cfg.Telegram.BotToken != "" {
		token = "set"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Bind address:   %s\n", cfg.System.BindAddress)
	fmt.Fprintf(out, "  Poll interval:  %s\n", cfg.Monitor.PollEvery())
	fmt.Fprintf(out, "  Probe timeout:  %s\n", cfg.Monitor.Timeout())
	fmt.Fprintf(out, "  Baseline sites: %d\n", len(cfg.BaselineSites))
	fmt.Fprintf(out, "  Storage:        %s\n", cfg.Storage.Driver)
	fmt.Fprintf(out, "  Bot token:      %s\n", token)
	fmt.Fprintf(out, "  Admin API:      %s\n", admin)
	return nil
}
