package models

import "time"

const (
	// MediaTypeOctetStream is the fallback content type for unknown payloads.
	MediaTypeOctetStream = "application/octet-stream"
	// MediaTypeSVG is the content type assigned to .svg uploads without a useful declared type.
	MediaTypeSVG = "image/svg+xml"
)

// ImageRecord is the persisted metadata row for one stored image object.
type ImageRecord struct {
	ID               string    `json:"id"`
	StorageKey       string    `json:"storage_key"`
	ContentType      string    `json:"content_type"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	SizeBytes        int64     `json:"size_bytes"`
	CreatedAt        time.Time `json:"created_at"`
}

// ImageView is the read-facing projection served to callers and kept in the view cache.
type ImageView struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}
