package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/envbroker/envbroker/internal/config"
)

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			return fmt.Errorf("no configuration file given (use --config)")
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Configuration is invalid.")
			return err
		}
		log.Info().Msg("Configuration is valid.")

		if err := cfg.BrokerRequirements(); err != nil {
			log.Warn().Err(err).Msg("Broker would reject all secrets requests with this configuration.")
		} else {
			log.Info().Msg("All broker-required settings are present.")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
