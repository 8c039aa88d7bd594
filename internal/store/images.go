package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"imgsvc/internal/models"
)

const imageColumns = "id, storage_key, content_type, original_filename, size_bytes, created_at"

// ErrDuplicateImage is returned when an insert collides with an existing id or storage key.
var ErrDuplicateImage = errors.New("image record already exists")

// StoreInfo summarizes the metadata database.
type StoreInfo struct {
	SchemaVersion int   `json:"schema_version"`
	TotalImages   int   `json:"total_images"`
	TotalBytes    int64 `json:"total_bytes"`
}

// InsertImage inserts one image row.
func (s *Store) InsertImage(ctx context.Context, record *models.ImageRecord) error {
	if record == nil {
		return fmt.Errorf("image record is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("image id is required")
	}
	if strings.TrimSpace(record.StorageKey) == "" {
		return fmt.Errorf("storage key is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (`+imageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.StorageKey,
		record.ContentType,
		nullString(record.OriginalFilename),
		record.SizeBytes,
		formatTime(record.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateImage, record.ID)
	}
	return err
}

// GetImage returns one image row, or nil when absent.
func (s *Store) GetImage(ctx context.Context, id string) (*models.ImageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	return scanImage(row)
}

// DeleteImage deletes one image row. Missing rows are ignored.
func (s *Store) DeleteImage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE id = ?", id)
	return err
}

// ImageExistsByKey reports whether any record references storageKey.
func (s *Store) ImageExistsByKey(ctx context.Context, storageKey string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM images WHERE storage_key = ? LIMIT 1", storageKey).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StoreInfo reports schema version and image totals.
func (s *Store) StoreInfo(ctx context.Context) (*StoreInfo, error) {
	info := &StoreInfo{}
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&info.SchemaVersion); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM images").Scan(&info.TotalImages, &info.TotalBytes); err != nil {
		return nil, err
	}
	return info, nil
}

func scanImage(scanner interface {
	Scan(dest ...any) error
}) (*models.ImageRecord, error) {
	record := models.ImageRecord{}
	var originalFilename sql.NullString
	var createdAt string

	err := scanner.Scan(
		&record.ID,
		&record.StorageKey,
		&record.ContentType,
		&originalFilename,
		&record.SizeBytes,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	record.OriginalFilename = originalFilename.String
	parsed, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	record.CreatedAt = parsed
	return &record, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
