package main

import (
	"github.com/spf13/cobra"

	"imgsvc/internal/api"
	"imgsvc/internal/config"
)

type removeResult struct {
	Deleted  []string `json:"deleted"`
	NotFound []string `json:"not_found,omitempty"`
}

func newRmCmd(cfg *config.Config, structured *bool) *cobra.Command {
	var ignoreMissing bool

	cmd := &cobra.Command{
		Use:   "rm <id> [<id>...]",
		Short: "Delete images and their stored objects",
		Args:  requireAtLeastOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				result := removeResult{Deleted: []string{}}
				for _, id := range args {
					err := client.DeleteImage(cmd.Context(), id)
					switch {
					case err == nil:
						result.Deleted = append(result.Deleted, id)
					case ignoreMissing && api.IsNotFound(err):
						result.NotFound = append(result.NotFound, id)
					default:
						return err
					}
				}

				if *structured {
					return writeStructured(result)
				}
				for _, id := range result.Deleted {
					_ = writePlain("deleted %s\n", id)
				}
				for _, id := range result.NotFound {
					_ = writePlain("not found %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&ignoreMissing, "ignore-missing", false, "do not fail on ids that do not exist")
	return cmd
}
