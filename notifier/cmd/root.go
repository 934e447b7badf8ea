package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/ingest-notify/notifier/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Ingest status notification relay",
	Long: `notifier turns status messages published by digital ingest pipeline
services into human-readable notifications and delivers them to chat,
webhook, email or log targets.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/ingest-notify/config.yaml)")
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
