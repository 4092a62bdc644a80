package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"mediamill/internal/model"
	"mediamill/internal/store"
)

// handleDeliverArtifact streams a succeeded job's output and then deletes
// it: delivery is one-shot. A second request finds the file gone and gets
// the same 404 a swept artifact would.
func (s *Server) handleDeliverArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for delivery", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	switch job.Status {
	case model.StatusPending, model.StatusRunning:
		s.writeError(w, http.StatusConflict, "job has not finished")
		return
	case model.StatusSucceeded:
	default:
		s.writeError(w, http.StatusNotFound, "job produced no artifact")
		return
	}
	if job.Result == nil || job.Result.Path == "" {
		s.writeError(w, http.StatusNotFound, "artifact no longer available")
		return
	}

	f, err := os.Open(job.Result.Path)
	if err != nil {
		// Already delivered or swept.
		s.writeError(w, http.StatusNotFound, "artifact no longer available")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Error("stat artifact", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(job.Result.Path); err == nil {
		contentType = mt.String()
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.Result.Filename+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		// Client went away mid-transfer; keep the file so they can retry.
		s.logger.Warn("artifact delivery interrupted", "job_id", id, "error", err)
		return
	}

	if err := s.artifacts.RemovePath(job.Result.Path); err != nil {
		s.logger.Warn("failed to remove delivered artifact", "job_id", id, "error", err)
	}
	s.logger.Info("artifact delivered", "job_id", id, "filename", job.Result.Filename, "size_bytes", info.Size())
}
