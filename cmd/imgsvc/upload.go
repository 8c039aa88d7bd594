package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"imgsvc/internal/api"
	"imgsvc/internal/config"
)

func newUploadCmd(cfg *config.Config, structured *bool) *cobra.Command {
	var contentType string
	var name string

	cmd := &cobra.Command{
		Use:   "upload <file> [<file>...]",
		Short: "Upload images; use - to read one from stdin",
		Args:  requireAtLeastOneFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" && len(args) > 1 {
				return fmt.Errorf("--name can only be used with a single file")
			}
			return withClient(cfg, func(client *api.Client) error {
				uploaded := make([]api.ImageResponse, 0, len(args))
				for _, path := range args {
					resp, err := uploadOne(cmd, client, path, name, contentType)
					if err != nil {
						return fmt.Errorf("upload %s: %w", path, err)
					}
					uploaded = append(uploaded, resp)
				}

				if *structured {
					if len(uploaded) == 1 {
						return writeStructured(uploaded[0])
					}
					return writeStructured(uploaded)
				}
				if len(uploaded) == 1 {
					return writeImageDetail(uploaded[0])
				}
				for _, image := range uploaded {
					if err := writePlain("%s\n", formatImageLine(image)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "declared content type (default: derived from the file name)")
	cmd.Flags().StringVar(&name, "name", "", "file name to report instead of the path's base name")
	return cmd
}

func uploadOne(cmd *cobra.Command, client *api.Client, path, name, contentType string) (api.ImageResponse, error) {
	var content io.Reader
	filename := name
	if path == "-" {
		content = cmd.InOrStdin()
		if filename == "" {
			// The server only accepts parts that carry a file name.
			filename = "stdin"
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return api.ImageResponse{}, err
		}
		defer f.Close()
		content = f
		if filename == "" {
			filename = filepath.Base(path)
		}
	}
	return client.UploadImage(cmd.Context(), filename, contentType, content)
}
