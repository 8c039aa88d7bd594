package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"imgsvc/internal/api"
	"imgsvc/internal/blobstore"
	"imgsvc/internal/models"
)

// handleUploadImage stores the first file part of a multipart body. Field
// names are ignored; non-file parts before it are skipped.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("request does not contain multipart form data"), ErrCodeInvalidMultipart))
		return
	}

	part, err := firstFilePart(reader)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if part == nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("no file uploaded"), ErrCodeMissingFile))
		return
	}
	defer part.Close()

	view, err := s.images.Upload(r.Context(), part, part.FileName(), part.Header.Get("Content-Type"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/images/"+view.ID)
	s.writeJSON(w, http.StatusCreated, api.ImageResponse{ImageView: view})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathIDOrBadRequest(w, r)
	if !ok {
		return
	}

	view, found, err := s.images.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !found {
		s.writeErrorReq(w, r, http.StatusNotFound, notFoundCode(fmt.Errorf("image not found"), ErrCodeImageNotFound))
		return
	}

	s.writeJSON(w, http.StatusOK, api.ImageResponse{ImageView: view})
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathIDOrBadRequest(w, r)
	if !ok {
		return
	}

	deleted, err := s.images.Delete(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !deleted {
		s.writeErrorReq(w, r, http.StatusNotFound, notFoundCode(fmt.Errorf("image not found"), ErrCodeImageNotFound))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	apply, err := queryBool(r, "apply")
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}

	s.withLimiter(w, r, s.sweepLimiter, "sweep", func() {
		result, err := s.images.SweepOrphans(r.Context(), apply)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.SweepResponse(result))
	})
}

// handleServeObject streams stored bytes for stores that implement
// blobstore.Opener.
func (s *Server) handleServeObject(w http.ResponseWriter, r *http.Request) {
	opener, ok := s.images.objects.(blobstore.Opener)
	if !ok {
		s.writeErrorReq(w, r, http.StatusNotFound, notFoundCode(fmt.Errorf("object not found"), ErrCodeObjectNotFound))
		return
	}

	rc, contentType, err := opener.Open(r.Context(), r.PathValue("key"))
	if errors.Is(err, blobstore.ErrObjectNotFound) || errors.Is(err, blobstore.ErrInvalidKey) {
		s.writeErrorReq(w, r, http.StatusNotFound, notFoundCode(fmt.Errorf("object not found"), ErrCodeObjectNotFound))
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", objectCacheControl)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if strings.EqualFold(contentType, models.MediaTypeSVG) {
		// SVG can carry script; never let it run on this origin.
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.log().Warn("serve object", "key", r.PathValue("key"), "error", err)
	}
}

func firstFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, classifyMultipartError(err)
		}
		if part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

func classifyMultipartError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return badRequestCode(fmt.Errorf("request body too large"), ErrCodeRequestTooLarge)
	}
	return badRequestCode(fmt.Errorf("invalid multipart body: %w", err), ErrCodeInvalidMultipart)
}
