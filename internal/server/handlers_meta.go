package server

import (
	"net/http"

	"imgsvc/internal/api"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.images.records.StoreInfo(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := api.InfoResponse{
		DBPath:        s.dbPath,
		ObjectBackend: s.objectBackend,
		SchemaVersion: info.SchemaVersion,
		TotalImages:   info.TotalImages,
		TotalBytes:    info.TotalBytes,
		CachedViews:   s.images.views.Len(),
	}

	s.writeJSON(w, http.StatusOK, resp)
}
