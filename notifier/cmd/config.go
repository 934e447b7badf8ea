package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/ingest-notify/notifier/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long:  `Prints defaults merged with the config file and NOTIFIER_* environment overrides. Secrets are masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

var configValidate bool

func init() {
	configCmd.Flags().BoolVar(&configValidate, "validate", false, "fail when the configuration is invalid")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if configValidate {
		cfg, err = loadConfig()
	} else {
		cfg, err = config.Load(cfgFile)
	}
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg.Redacted())
}
