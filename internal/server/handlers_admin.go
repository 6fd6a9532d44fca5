package server

import (
	"net/http"

	"github.com/brightloom/transcriptor/internal/models"
)

// handleAdminJobCounts handles GET /api/admin/jobs — the supplemental
// queue inspection surface from SPEC_FULL.md §14.
func (s *Server) handleAdminJobCounts(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	counts, err := s.app.Admin.CountByStatus(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count jobs by status")
		WriteError(w, http.StatusInternalServerError, "failed to count jobs")
		return
	}

	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"counts": out})
}

// handleAdminJobRequeue handles POST /api/admin/jobs/{id}/requeue — an
// operator override that resets a failed job back to queued for
// immediate reclaim, in the same shape as this package's other
// operator-control handlers. A job that is not in failed status is not
// requeued and the request answers 500.
func (s *Server) handleAdminJobRequeue(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	now := s.app.Clock.Now()
	if err := s.app.Admin.Requeue(r.Context(), jobID, now); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to requeue job")
		WriteError(w, http.StatusInternalServerError, "failed to requeue job")
		return
	}

	s.app.Sink.Emit(r.Context(), "job_requeued_by_operator", map[string]any{"job_id": jobID})
	WriteJSON(w, http.StatusOK, map[string]string{"id": jobID, "status": string(models.JobStatusQueued)})
}

// handleAdminJobsWS upgrades to the admin job-event WebSocket stream from
// SPEC_FULL.md §12, §14.
func (s *Server) handleAdminJobsWS(w http.ResponseWriter, r *http.Request) {
	s.app.WorkerPool.Hub().ServeHTTP(w, r)
}
