package main

import (
	"github.com/spf13/cobra"

	"imgsvc/internal/api"
	"imgsvc/internal/config"
)

func newInfoCmd(cfg *config.Config, structured *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show database and object store info",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.GetInfo(cmd.Context())
				if err != nil {
					return err
				}

				if *structured {
					return writeStructured(resp)
				}

				_ = writePlain("db_path: %s\n", resp.DBPath)
				_ = writePlain("object_backend: %s\n", resp.ObjectBackend)
				_ = writePlain("schema_version: %d\n", resp.SchemaVersion)
				_ = writePlain("total_images: %d\n", resp.TotalImages)
				_ = writePlain("total_bytes: %d\n", resp.TotalBytes)
				_ = writePlain("cached_views: %d\n", resp.CachedViews)
				return nil
			})
		},
	}
	return cmd
}
