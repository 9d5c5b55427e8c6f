package api

import "net/http"

// handleRunJob runs a lifecycle job now and returns its report.
// POST /api/jobs/{name}/run
func (s *HTTPServer) handleRunJob(w http.ResponseWriter, r *http.Request) {
	rep, err := s.jobs.RunNow(r.Context(), r.PathValue("name"))
	if err != nil && rep == nil {
		s.fail(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("job", rep.Job).Msg("job finished with error")
	}
	writeJSON(w, http.StatusOK, rep)
}
