// Package cli implements the creditd command line.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/emailfixer/creditd/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "creditd",
	Short: "Prepaid email-validation credits with payment reconciliation",
	Long: `creditd sells email-validation credits through Paddle checkouts and
grants them exactly once when the payment webhook arrives.

Configuration is read from $CREDITD_HOME/config.toml (default ~/.creditd)
and CREDITD_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config.toml (default $CREDITD_HOME/config.toml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (daemon.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = daemon.ConfigPath()
	}
	cfg, err := daemon.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// openStore loads config and opens the ledger. Callers must Close the store.
func openStore(cmd *cobra.Command) (daemon.Store, daemon.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}
	store, err := daemon.OpenStore(commandContext(cmd), cfg.Database)
	if err != nil {
		return nil, cfg, err
	}
	return store, cfg, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
