package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"imgsvc/internal/blobstore"
	"imgsvc/internal/cache"
	"imgsvc/internal/models"
	"imgsvc/internal/naming"
	"imgsvc/internal/store"
)

const defaultOrphanGracePeriod = 10 * time.Minute

// ErrEmptyContent is returned by Upload when the payload has no bytes.
var ErrEmptyContent = errors.New("image content is empty")

// ImageServiceOptions tunes an ImageService. Zero values use defaults.
type ImageServiceOptions struct {
	// ViewTTL is how long views stay cached. Zero uses the cache default.
	ViewTTL time.Duration
	// OrphanGracePeriod protects objects younger than this from sweeps, so an
	// upload that has written its object but not yet its record is never reaped.
	OrphanGracePeriod time.Duration
	Observer          Observer
	Logger            *slog.Logger
	Now               func() time.Time
}

// SweepResult reports one orphan sweep.
type SweepResult struct {
	ScannedCount   int   `json:"scanned_count"`
	CandidateCount int   `json:"candidate_count"`
	DeletedCount   int   `json:"deleted_count"`
	FailedCount    int   `json:"failed_count"`
	SkippedRecent  int   `json:"skipped_recent"`
	ReclaimedBytes int64 `json:"reclaimed_bytes"`
	DryRun         bool  `json:"dry_run"`
}

// ImageService keeps the object store, the metadata store and the view cache
// consistent across uploads, reads and deletes.
type ImageService struct {
	objects blobstore.ObjectStore
	records store.ImageStore
	views   *cache.Cache[models.ImageView]

	viewTTL     time.Duration
	gracePeriod time.Duration
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
}

// NewImageService constructs an ImageService.
func NewImageService(objects blobstore.ObjectStore, records store.ImageStore, views *cache.Cache[models.ImageView], opts ImageServiceOptions) *ImageService {
	if opts.OrphanGracePeriod <= 0 {
		opts.OrphanGracePeriod = defaultOrphanGracePeriod
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ImageService{
		objects:     objects,
		records:     records,
		views:       views,
		viewTTL:     opts.ViewTTL,
		gracePeriod: opts.OrphanGracePeriod,
		observer:    opts.Observer,
		logger:      opts.Logger.With("component", "images"),
		now:         opts.Now,
	}
}

// Upload stores content under a fresh identity, records its metadata and
// caches the resulting view. The object is written before the record; a
// failed record insert leaves an orphaned object for SweepOrphans.
func (s *ImageService) Upload(ctx context.Context, content io.Reader, originalFilename, declaredContentType string) (view models.ImageView, err error) {
	var zero models.ImageView
	var size int64
	start := time.Now()
	defer func() {
		if s != nil && s.observer != nil {
			s.observer.RecordUpload(time.Since(start), size, err)
		}
	}()

	if err := s.ready(); err != nil {
		return zero, err
	}
	if content == nil {
		return zero, badRequestCode(ErrEmptyContent, ErrCodeEmptyContent)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	body := bufio.NewReader(content)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return zero, badRequestCode(ErrEmptyContent, ErrCodeEmptyContent)
		}
		return zero, classifyReadError(ctx, err)
	}

	res := naming.Resolve(originalFilename, declaredContentType)

	put, err := s.objects.Put(ctx, res.StorageKey, body, res.ContentType)
	if err != nil {
		return zero, classifyReadError(ctx, fmt.Errorf("put object %s: %w", res.StorageKey, err))
	}
	size = put.SizeBytes

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	record := &models.ImageRecord{
		ID:               res.ID,
		StorageKey:       res.StorageKey,
		ContentType:      res.ContentType,
		OriginalFilename: strings.TrimSpace(originalFilename),
		SizeBytes:        put.SizeBytes,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.records.InsertImage(ctx, record); err != nil {
		if isContextErr(err) {
			return zero, err
		}
		return zero, storeFailure(fmt.Errorf("insert image %s: %w", res.ID, err))
	}

	view = s.views.Set(res.ID, s.viewOf(record), s.viewTTL)
	s.logger.Debug("image uploaded", "id", res.ID, "key", res.StorageKey, "content_type", res.ContentType, "size_bytes", put.SizeBytes)
	return view, nil
}

// Get returns the view for id through the cache. A missing record yields
// ok=false and is never cached. Object existence is not checked.
func (s *ImageService) Get(ctx context.Context, id string) (view models.ImageView, ok bool, err error) {
	var zero models.ImageView
	start := time.Now()
	defer func() {
		if s != nil && s.observer != nil {
			s.observer.RecordGet(time.Since(start), err)
		}
	}()

	if err := s.ready(); err != nil {
		return zero, false, err
	}

	var loaded atomic.Bool
	view, ok, err = s.views.GetOrCreate(ctx, id, func(ctx context.Context) (models.ImageView, bool, error) {
		loaded.Store(true)
		record, err := s.records.GetImage(ctx, id)
		if err != nil {
			return zero, false, err
		}
		if record == nil {
			return zero, false, nil
		}
		return s.viewOf(record), true, nil
	}, s.viewTTL)
	if err != nil {
		if isContextErr(err) {
			return zero, false, err
		}
		return zero, false, storeFailure(fmt.Errorf("get image %s: %w", id, err))
	}
	s.observer.RecordCacheLookup(!loaded.Load())
	return view, ok, nil
}

// Delete removes the object, then the record, then the cached view. It
// reports false without side effects when no record exists for id.
func (s *ImageService) Delete(ctx context.Context, id string) (deleted bool, err error) {
	start := time.Now()
	defer func() {
		if s != nil && s.observer != nil {
			s.observer.RecordDelete(time.Since(start), err)
		}
	}()

	if err := s.ready(); err != nil {
		return false, err
	}

	record, err := s.records.GetImage(ctx, id)
	if err != nil {
		if isContextErr(err) {
			return false, err
		}
		return false, storeFailure(fmt.Errorf("get image %s: %w", id, err))
	}
	if record == nil {
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.objects.Delete(ctx, record.StorageKey); err != nil {
		if isContextErr(err) {
			return false, err
		}
		return false, storeFailure(fmt.Errorf("delete object %s: %w", record.StorageKey, err))
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.records.DeleteImage(ctx, id); err != nil {
		if isContextErr(err) {
			return false, err
		}
		return false, storeFailure(fmt.Errorf("delete image %s: %w", id, err))
	}

	s.views.Remove(id)
	s.logger.Debug("image deleted", "id", id, "key", record.StorageKey)
	return true, nil
}

// SweepOrphans finds stored objects with no metadata record and, when apply
// is set, deletes them. Objects newer than the grace period are skipped.
func (s *ImageService) SweepOrphans(ctx context.Context, apply bool) (result SweepResult, err error) {
	result = SweepResult{DryRun: !apply}
	start := time.Now()
	defer func() {
		if s != nil && s.observer != nil {
			s.observer.RecordSweep(time.Since(start), result.DeletedCount, err)
		}
	}()

	if err := s.ready(); err != nil {
		return result, err
	}
	lister, ok := s.objects.(blobstore.Lister)
	if !ok {
		return result, makeAPIError(http.StatusNotImplemented, "not_implemented", ErrCodeNotImplemented, fmt.Errorf("object store does not support listing"))
	}

	objects, err := lister.List(ctx)
	if err != nil {
		if isContextErr(err) {
			return result, err
		}
		return result, storeFailure(fmt.Errorf("list objects: %w", err))
	}

	cutoff := s.now().Add(-s.gracePeriod)
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.ScannedCount++
		if obj.LastModified.After(cutoff) {
			result.SkippedRecent++
			continue
		}

		referenced, err := s.records.ImageExistsByKey(ctx, obj.Key)
		if err != nil {
			if isContextErr(err) {
				return result, err
			}
			return result, storeFailure(fmt.Errorf("lookup object %s: %w", obj.Key, err))
		}
		if referenced {
			continue
		}

		result.CandidateCount++
		if !apply {
			result.ReclaimedBytes += obj.SizeBytes
			continue
		}
		if err := s.objects.Delete(ctx, obj.Key); err != nil {
			s.logger.Warn("sweep delete failed", "key", obj.Key, "error", err)
			result.FailedCount++
			continue
		}
		result.DeletedCount++
		result.ReclaimedBytes += obj.SizeBytes
	}

	s.logger.Info("orphan sweep complete",
		"apply", apply,
		"scanned", result.ScannedCount,
		"candidates", result.CandidateCount,
		"deleted", result.DeletedCount,
		"failed", result.FailedCount,
	)
	return result, nil
}

func (s *ImageService) viewOf(record *models.ImageRecord) models.ImageView {
	return models.ImageView{
		ID:          record.ID,
		URL:         s.objects.PublicURL(record.StorageKey),
		ContentType: record.ContentType,
	}
}

func (s *ImageService) ready() error {
	if s == nil || s.objects == nil || s.records == nil || s.views == nil {
		return internalError(fmt.Errorf("image service is not configured"))
	}
	return nil
}

// classifyReadError maps failures reading the upload body. Oversized bodies
// are client errors; anything else from the object store is a store failure.
func classifyReadError(ctx context.Context, err error) error {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return badRequestCode(fmt.Errorf("upload exceeds %d bytes", maxBytesErr.Limit), ErrCodeRequestTooLarge)
	case isContextErr(err) && ctx.Err() != nil:
		return ctx.Err()
	default:
		return storeFailure(err)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
