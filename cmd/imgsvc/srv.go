package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"imgsvc/internal/blobstore"
	"imgsvc/internal/cache"
	"imgsvc/internal/config"
	"imgsvc/internal/models"
	"imgsvc/internal/server"
	"imgsvc/internal/store"
)

const (
	bucketCheckTimeout = 15 * time.Second
	minJanitorInterval = time.Second
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the imgsvc API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("db path is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			logger.Info("opening database", "path", cfg.DBPath)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			objects, err := openObjectStore(ctx, cfg, logger)
			if err != nil {
				return err
			}

			images, reg, err := buildImageService(ctx, cfg, objects, st, logger)
			if err != nil {
				return err
			}

			srv := server.New(addr, images, server.Options{
				DBPath:         cfg.DBPath,
				ObjectBackend:  cfg.Objects.Backend,
				MaxUploadBytes: cfg.Uploads.MaxUploadBytes,
				Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			}, logger)
			return srv.ListenAndServe(ctx)
		},
	}
}

// buildImageService wires the view cache and metrics around the stores. The
// cache janitor runs until ctx is done.
func buildImageService(ctx context.Context, cfg *config.Config, objects blobstore.ObjectStore, records store.ImageStore, logger *slog.Logger) (*server.ImageService, *prometheus.Registry, error) {
	ttl := cfg.Cache.TTL.Duration
	views, err := cache.New[models.ImageView](cache.Options{
		DefaultTTL: ttl,
		MaxEntries: cfg.Cache.MaxEntries,
	})
	if err != nil {
		return nil, nil, err
	}
	go views.RunJanitor(ctx, max(ttl/2, minJanitorInterval))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := server.NewPrometheusObserver("", reg)
	if err != nil {
		return nil, nil, err
	}

	images := server.NewImageService(objects, records, views, server.ImageServiceOptions{
		ViewTTL:           ttl,
		OrphanGracePeriod: cfg.Sweep.GracePeriod.Duration,
		Observer:          observer,
		Logger:            logger,
	})
	return images, reg, nil
}

func openObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobstore.ObjectStore, error) {
	switch cfg.Objects.Backend {
	case config.BackendS3:
		s3 := cfg.Objects.S3
		ms, err := blobstore.NewMinioStore(blobstore.MinioConfig{
			Endpoint:      s3.Endpoint,
			Bucket:        s3.Bucket,
			AccessKey:     s3.AccessKey,
			SecretKey:     s3.SecretKey,
			UseSSL:        s3.UseSSL,
			Prefix:        s3.Prefix,
			PublicBaseURL: cfg.Objects.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		checkCtx, cancel := context.WithTimeout(ctx, bucketCheckTimeout)
		defer cancel()
		if err := ms.EnsureBucket(checkCtx); err != nil {
			return nil, err
		}
		logger.Info("using s3 object store", "endpoint", s3.Endpoint, "bucket", s3.Bucket, "prefix", s3.Prefix)
		return ms, nil
	default:
		baseURL := cfg.Objects.PublicBaseURL
		if baseURL == "" {
			baseURL = strings.TrimRight(cfg.APIURL, "/") + "/objects"
		}
		ls, err := blobstore.NewLocalStore(cfg.ObjectRoot(), baseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using local object store", "root", ls.Root(), "public_base_url", baseURL)
		return ls, nil
	}
}
