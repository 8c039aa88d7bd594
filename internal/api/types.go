package api

import "imgsvc/internal/models"

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// ImageResponse is the payload for a single image.
type ImageResponse struct {
	models.ImageView
}

// SweepResponse is the response from POST /v1/admin/sweep.
type SweepResponse struct {
	ScannedCount   int   `json:"scanned_count"`
	CandidateCount int   `json:"candidate_count"`
	DeletedCount   int   `json:"deleted_count"`
	FailedCount    int   `json:"failed_count"`
	SkippedRecent  int   `json:"skipped_recent"`
	ReclaimedBytes int64 `json:"reclaimed_bytes"`
	DryRun         bool  `json:"dry_run"`
}

// InfoResponse is the response from GET /v1/info.
type InfoResponse struct {
	DBPath        string `json:"db_path"`
	ObjectBackend string `json:"object_backend"`
	SchemaVersion int    `json:"schema_version"`
	TotalImages   int    `json:"total_images"`
	TotalBytes    int64  `json:"total_bytes"`
	CachedViews   int    `json:"cached_views"`
}
