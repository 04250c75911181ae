package main

import (
	"fmt"

	"github.com/aatumaykin/autotask/internal/config"
	"github.com/aatumaykin/autotask/internal/constants"
	"github.com/aatumaykin/autotask/internal/logger"
	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Validate autotask configuration files.`,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Load the configuration file, apply defaults and report every problem found.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.NewWithWriter(logger.Config{
			Level:  "info",
			Format: "text",
		}, cmd.OutOrStdout())
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		configPath := constants.DefaultConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		log.Info("Validating configuration", logger.Field{Key: "path", Value: configPath})

		if err := config.LoadEnvOptional(constants.DefaultEnvPath); err != nil {
			return fmt.Errorf("failed to load %s: %w", constants.DefaultEnvPath, err)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			log.Error("Failed to load config", err)
			return err
		}

		if errors := cfg.Validate(); len(errors) > 0 {
			for _, e := range errors {
				log.Error("Validation error", e)
			}
			return fmt.Errorf("config validation failed: %d errors", len(errors))
		}

		for _, r := range cfg.Retention {
			log.Info("Retention task",
				logger.Field{Key: "name", Value: r.Name},
				logger.Field{Key: "path", Value: r.Path},
				logger.Field{Key: "prefix", Value: r.SnapshotPrefix()},
				logger.Field{Key: "interval", Value: r.Interval.String()},
				logger.Field{Key: "max_file_count", Value: r.MaxFileCount},
				logger.Field{Key: "max_archive_size_mb", Value: r.MaxArchiveSizeMB})
		}
		log.Info("Configuration is valid")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
