package api

import (
	"net/http"
)

type healthResponse struct {
	Status         string         `json:"status"`
	ToolchainReady bool           `json:"toolchain_ready"`
	FreeDiskMB     uint64         `json:"free_disk_mb"`
	TotalJobs      int            `json:"total_jobs"`
	JobsByStatus   map[string]int `json:"jobs_by_status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		ToolchainReady: s.tools.Ready(),
		JobsByStatus:   map[string]int{},
	}
	if !resp.ToolchainReady {
		resp.Status = "degraded"
	}
	if free, err := s.artifacts.FreeDiskBytes(); err == nil {
		resp.FreeDiskMB = free >> 20
	}
	if stats, err := s.store.Stats(r.Context()); err == nil {
		resp.TotalJobs = stats.Total
		resp.JobsByStatus = stats.CountByStatus
	} else {
		s.logger.Error("health job counts", "error", err)
		resp.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, resp)
}
