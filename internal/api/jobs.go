package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"mediamill/internal/artifact"
	"mediamill/internal/faults"
	"mediamill/internal/media"
	"mediamill/internal/model"
	"mediamill/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxJSONBodySize  = 1 << 20 // 1 MB
)

// submitJobRequest is the JSON body for POST /v1/jobs (fetch jobs only;
// file-based kinds arrive as multipart uploads).
type submitJobRequest struct {
	Kind   string `json:"kind"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		s.submitUpload(w, r)
		return
	}
	s.submitFetch(w, r)
}

// submitFetch handles JSON submissions: fetch a remote source.
func (s *Server) submitFetch(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Kind == "" {
		req.Kind = model.KindFetch
	}
	if req.Kind != model.KindFetch {
		s.writeError(w, http.StatusBadRequest, "kind "+req.Kind+" requires a file upload")
		return
	}
	if err := media.ValidateFetchURL(req.URL, s.cfg.FetchDomains); err != nil {
		s.writeError(w, faultStatus(err), faults.Detail(err))
		return
	}
	format := req.Format
	if format == "" {
		format = "mp4"
	}
	if format != "mp4" && format != "mp3" {
		s.writeError(w, http.StatusBadRequest, "format must be mp4 or mp3")
		return
	}

	opts := model.Options{URL: req.URL, Format: format}
	job, err := s.engine.Submit(r.Context(), model.KindFetch, opts, nil, req.URL)
	if err != nil {
		s.submitError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

// submitUpload handles multipart submissions: transform an uploaded file.
func (s *Server) submitUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	kind := r.FormValue("kind")
	switch kind {
	case model.KindTranscode, model.KindCompress, model.KindExtractAudio:
	case model.KindFetch:
		s.writeError(w, http.StatusBadRequest, "fetch jobs take a JSON body, not an upload")
		return
	default:
		s.writeError(w, http.StatusBadRequest, "unknown job kind "+strconv.Quote(kind))
		return
	}

	opts := model.Options{}
	if kind == model.KindTranscode {
		opts.Target = r.FormValue("target")
		if !media.ValidTarget(opts.Target) {
			s.writeError(w, http.StatusBadRequest, "unsupported target format "+strconv.Quote(opts.Target))
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	input, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.writeError(w, faultStatus(err), faults.Detail(err))
		return
	}

	job, err := s.engine.Submit(r.Context(), kind, opts, input, header.Filename)
	if err != nil {
		s.artifacts.Remove(input)
		s.submitError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

// saveUpload spools the uploaded file into the work directory and rejects
// anything that does not sniff as audio or video. Sniffing happens on the
// stored file, so a forged Content-Type header buys nothing.
func (s *Server) saveUpload(file io.Reader, filename string) (*artifact.Artifact, error) {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		ext = "bin"
	}
	input := s.artifacts.Allocate("upload", artifact.RoleInput, ext)
	input.Name = filepath.Base(filename)

	dst, err := os.Create(input.Path)
	if err != nil {
		s.artifacts.Remove(input)
		return nil, faults.Wrap(faults.ErrInternal, "failed to store upload", err)
	}
	_, copyErr := io.Copy(dst, file)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		s.artifacts.Remove(input)
		return nil, faults.Wrap(faults.ErrValidation, "upload was not fully received", errors.Join(copyErr, closeErr))
	}

	mt, err := mimetype.DetectFile(input.Path)
	if err != nil {
		s.artifacts.Remove(input)
		return nil, faults.Wrap(faults.ErrInternal, "failed to inspect upload", err)
	}
	if !strings.HasPrefix(mt.String(), "video/") && !strings.HasPrefix(mt.String(), "audio/") {
		s.artifacts.Remove(input)
		return nil, faults.Newf(faults.ErrValidation, "unsupported media type %s", mt.String())
	}
	return input, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.engine.Snapshot(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// submitError maps an engine submission failure onto an HTTP response.
func (s *Server) submitError(w http.ResponseWriter, err error) {
	status := faultStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("submit job", "error", err)
	}
	s.writeError(w, status, faults.Detail(err))
}

// faultStatus maps a fault kind to an HTTP status code.
func faultStatus(err error) int {
	switch faults.Kind(err) {
	case faults.KindValidation:
		return http.StatusBadRequest
	case faults.KindExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
