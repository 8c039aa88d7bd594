package main

import (
	"github.com/spf13/cobra"

	"imgsvc/internal/api"
	"imgsvc/internal/config"
)

func newShowCmd(cfg *config.Config, structured *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id> [<id>...]",
		Short: "Show image URLs and content types",
		Args:  requireAtLeastOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				responses := make([]api.ImageResponse, 0, len(args))
				for _, id := range args {
					resp, err := client.GetImage(cmd.Context(), id)
					if err != nil {
						return err
					}
					responses = append(responses, resp)
				}

				if len(responses) == 1 {
					if *structured {
						return writeStructured(responses[0])
					}
					return writeImageDetail(responses[0])
				}
				if *structured {
					return writeStructured(responses)
				}
				for _, resp := range responses {
					if err := writePlain("%s\n", formatImageLine(resp)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	return cmd
}
