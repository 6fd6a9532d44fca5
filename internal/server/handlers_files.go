package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/reportreader"
	"github.com/brightloom/transcriptor/internal/taxonomy"
	"github.com/brightloom/transcriptor/internal/uploader"
)

// maxUploadRequestBytes caps the multipart request body read, set above
// models.MaxFileSizeBytes to leave room for multipart framing overhead.
const maxUploadRequestBytes = models.MaxFileSizeBytes + 64*1024

// handleFileUpload handles POST /api/files/upload — spec.md §6's
// multipart upload endpoint, field name "file".
func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	ownerID := common.OwnerIDFromContext(r.Context())
	if ownerID == "" {
		WriteError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequestBytes)
	if err := r.ParseMultipartForm(maxUploadRequestBytes); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, "invalid multipart request", "invalid_request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, "missing file field", "invalid_request")
		return
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if int64(len(body)) > models.MaxFileSizeBytes {
		WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, "file exceeds the maximum upload size", string(taxonomy.CodeFileTooLarge))
		return
	}

	result, err := s.app.Uploader.Upload(r.Context(), uploader.Request{
		UserID:           ownerID,
		OriginalFilename: header.Filename,
		MimeType:         header.Header.Get("Content-Type"),
		Bytes:            body,
	})
	if err != nil {
		var uploadErr *uploader.Error
		if errors.As(err, &uploadErr) {
			WriteErrorWithCode(w, uploadErr.HTTPStatus, uploadErr.Message, uploadErr.Code)
			return
		}
		s.logger.Error().Err(err).Msg("upload failed")
		WriteError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{
		"id":     result.FileID,
		"status": string(result.Status),
	})
}

// handleFileReport handles GET /api/files/{id}/report.
func (s *Server) handleFileReport(w http.ResponseWriter, r *http.Request, fileID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ownerID := common.OwnerIDFromContext(r.Context())
	if ownerID == "" {
		WriteError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}
	if fileID == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "invalid file id", "invalid_id")
		return
	}

	report, err := s.app.ReportReader.GetReport(r.Context(), ownerID, fileID)
	if err != nil {
		var rerr *reportreader.Error
		if errors.As(err, &rerr) {
			WriteErrorWithCode(w, rerr.HTTPStatus, rerr.Message, string(rerr.Outcome))
			return
		}
		s.logger.Error().Err(err).Str("file_id", fileID).Msg("report lookup failed")
		WriteError(w, http.StatusInternalServerError, "report lookup failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":                 report.ID,
		"status":             string(report.Status),
		"storage_key_report": report.StorageKeyReport,
		"report":             report.ReportJSON,
	})
}

// handleFileList handles GET /api/files — the supplemental owner file
// listing from SPEC_FULL.md §14, cursor-paginated newest first.
func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ownerID := common.OwnerIDFromContext(r.Context())
	if ownerID == "" {
		WriteError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	var beforeCreatedAt *time.Time
	if v := r.URL.Query().Get("before_created_at"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			beforeCreatedAt = &t
		}
	}
	beforeID := r.URL.Query().Get("before_id")

	files, err := s.app.Files.ListOwned(r.Context(), ownerID, limit, beforeCreatedAt, beforeID)
	if err != nil {
		s.logger.Error().Err(err).Str("owner_id", ownerID).Msg("failed to list files")
		WriteError(w, http.StatusInternalServerError, "failed to list files")
		return
	}

	out := make([]map[string]interface{}, 0, len(files))
	for _, f := range files {
		out = append(out, map[string]interface{}{
			"id":                f.ID,
			"original_filename": f.OriginalFilename,
			"status":            string(f.Status),
			"error_code":        f.ErrorCode,
			"created_at":        f.CreatedAt,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"files": out})
}
