package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mediamill/internal/model"
	"mediamill/internal/store"
)

// handleStreamEvents pushes job snapshots over SSE. Snapshots are sampled:
// the stream emits at most one data event per sample interval, always the
// freshest state, and exactly one terminal snapshot followed by a "done"
// event. Streams that outlive the budget get a "timeout" event; the job
// itself is unaffected and remains pollable.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.engine.Snapshot(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	// Already terminal: one snapshot, one done event, no subscription.
	if job.TerminalState() {
		w.WriteHeader(http.StatusOK)
		_ = writeSSESnapshot(w, job)
		_ = writeSSEEvent(w, "done", "stream complete")
		flush()
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe before emitting the initial snapshot. If the job finishes
	// between the check above and this call, Subscribe returns a closed
	// channel and the loop below ends the stream on its first pass.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	if err := writeSSESnapshot(w, job); err != nil {
		return
	}
	flush()

	ticker := time.NewTicker(s.cfg.StreamSample)
	defer ticker.Stop()
	budget := time.NewTimer(s.cfg.StreamBudget)
	defer budget.Stop()

	var pending *model.Job
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				// Job finished. Emit the final state exactly once: the
				// freshest unsent snapshot if the broker delivered one,
				// otherwise whatever the store holds.
				final := pending
				if final == nil {
					if j, err := s.store.GetJob(r.Context(), id); err == nil {
						final = j
					}
				}
				if final != nil {
					_ = writeSSESnapshot(w, final)
				}
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			pending = &snap

		case <-ticker.C:
			if pending == nil {
				continue
			}
			if err := writeSSESnapshot(w, pending); err != nil {
				return // Write failed (e.g. client gone).
			}
			flush()
			if pending.TerminalState() {
				// The broker will close shortly; ending here avoids a
				// second terminal emission from the close path.
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			pending = nil

		case <-budget.C:
			_ = writeSSEEvent(w, "timeout", "stream budget exceeded, reconnect to continue")
			flush()
			return

		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSESnapshot writes a job snapshot as an SSE data event. The payload
// is a single JSON line, so no multi-line splitting is needed.
func writeSSESnapshot(w http.ResponseWriter, job *model.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
