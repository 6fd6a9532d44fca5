package server

import (
	"net/http"
	"strings"

	"github.com/brightloom/transcriptor/internal/common"
)

// registerRoutes sets up all REST API routes on mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)

	// Files
	mux.HandleFunc("/api/files/upload", s.handleFileUpload)
	mux.HandleFunc("/api/files/", s.routeFiles)
	mux.HandleFunc("/api/files", s.handleFileList)

	// Admin — queue inspection, requeue, WebSocket event stream
	mux.HandleFunc("/api/admin/jobs", s.handleAdminJobCounts)
	mux.HandleFunc("/api/admin/jobs/ws", s.handleAdminJobsWS)
	mux.HandleFunc("/api/admin/jobs/", s.routeAdminJobs)
}

// routeFiles dispatches /api/files/{id}/* to the appropriate handler.
func (s *Server) routeFiles(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/report") {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	fileID := PathParam(r, "/api/files/", "/report")
	if fileID == "" {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleFileReport(w, r, fileID)
}

// routeAdminJobs dispatches /api/admin/jobs/{id}/requeue.
func (s *Server) routeAdminJobs(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/requeue") {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	jobID := PathParam(r, "/api/admin/jobs/", "/requeue")
	if jobID == "" {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleAdminJobRequeue(w, r, jobID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
