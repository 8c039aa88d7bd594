package store

import (
	"context"

	"imgsvc/internal/models"
)

// ImageStore abstracts image metadata backends.
type ImageStore interface {
	// InsertImage creates a record. It never overwrites; an existing id yields ErrDuplicateImage.
	InsertImage(ctx context.Context, record *models.ImageRecord) error
	// GetImage returns nil, nil when no record exists for id.
	GetImage(ctx context.Context, id string) (*models.ImageRecord, error)
	DeleteImage(ctx context.Context, id string) error
	ImageExistsByKey(ctx context.Context, storageKey string) (bool, error)
	StoreInfo(ctx context.Context) (*StoreInfo, error)
}

var _ ImageStore = (*Store)(nil)
