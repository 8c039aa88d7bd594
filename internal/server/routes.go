package server

import (
	"net/http"

	"imgsvc/internal/blobstore"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check and info.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/info", s.handleInfo)

	// Images.
	mux.HandleFunc("POST /v1/images", s.handleUploadImage)
	mux.HandleFunc("GET /v1/images/{id}", s.handleGetImage)
	mux.HandleFunc("DELETE /v1/images/{id}", s.handleDeleteImage)

	// Admin.
	mux.HandleFunc("POST /v1/admin/sweep", s.handleSweep)

	// Stored bytes, for backends without their own public endpoint.
	if s.images != nil {
		if _, ok := s.images.objects.(blobstore.Opener); ok {
			mux.HandleFunc("GET /objects/{key}", s.handleServeObject)
		}
	}

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return mux
}
