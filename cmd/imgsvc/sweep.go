package main

import (
	"github.com/spf13/cobra"

	"imgsvc/internal/api"
	"imgsvc/internal/config"
)

func newSweepCmd(cfg *config.Config, structured *bool) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Find stored objects without image records (dry run unless --apply)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				result, err := client.Sweep(cmd.Context(), apply)
				if err != nil {
					return err
				}
				if *structured {
					return writeStructured(result)
				}
				return writePlain("%s\n", formatSweepResult(result))
			})
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "delete orphaned objects")
	return cmd
}
