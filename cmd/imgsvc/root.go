package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imgsvc/internal/config"
	"imgsvc/internal/format"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool
	var yamlOutput bool
	var logLevel string
	// structured is shared with subcommands; it is true for --json and --yaml.
	var structured bool

	cmd := &cobra.Command{
		Use:           "imgsvc",
		Short:         "Imgsvc stores uploaded images and serves their public URLs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput && yamlOutput {
				return errors.New("--json and --yaml are mutually exclusive")
			}
			structured = jsonOutput || yamlOutput
			if yamlOutput {
				outputFormatter = format.YAMLFormatter{}
			}

			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVar(&yamlOutput, "yaml", false, "output YAML")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newUploadCmd(cfg, &structured),
		newShowCmd(cfg, &structured),
		newRmCmd(cfg, &structured),
		newSweepCmd(cfg, &structured),
		newInfoCmd(cfg, &structured),
		newMigrateCmd(cfg, &structured),
		newConfigCmd(cfg, &structured),
	)

	return cmd
}
