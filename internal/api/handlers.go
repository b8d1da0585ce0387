package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/chronicle/internal/events"
	"github.com/mattjoyce/chronicle/internal/history"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Targets:       len(s.targets),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Service:       "chronicle",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Targets:       make([]TargetStatus, 0, len(s.targets)),
	}

	for _, name := range s.sortedTargetNames() {
		target := s.targets[name]
		status := TargetStatus{
			Name:             name,
			Dir:              target.Dir(),
			RetentionEnabled: target.RetentionEnabled(),
		}
		last, err := s.history.LastSweep(r.Context(), name)
		if err != nil {
			s.logger.Error("Failed to read last sweep", "target", name, "error", err)
		} else {
			status.LastSweep = last
		}
		resp.Targets = append(resp.Targets, status)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleListTargets handles GET /targets.
func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets := make([]TargetStatus, 0, len(s.targets))
	for _, name := range s.sortedTargetNames() {
		target := s.targets[name]
		targets = append(targets, TargetStatus{
			Name:             name,
			Dir:              target.Dir(),
			RetentionEnabled: target.RetentionEnabled(),
		})
	}
	s.writeJSON(w, http.StatusOK, targets)
}

// handleSweep handles POST /targets/{target}/sweep.
// The sweep itself is best-effort; a 200 means it ran, not that every stale
// file could be deleted. The returned entry carries the per-file counts.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	if _, ok := s.targets[name]; !ok {
		s.writeError(w, http.StatusNotFound, "target not found")
		return
	}

	var req SweepRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	entry, err := s.runner.RunTarget(r.Context(), name, req.Pattern, history.TriggerAPI)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("sweep failed to run: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, entry)
}

// handleAppend handles POST /targets/{target}/append.
// A failed append is not an HTTP error: the write path reports success as a
// boolean and the API preserves that shape.
func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	target, ok := s.targets[name]
	if !ok {
		s.writeError(w, http.StatusNotFound, "target not found")
		return
	}

	var req AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Line) == "" {
		s.writeError(w, http.StatusBadRequest, "line is required")
		return
	}

	ok = target.Append(req.Line)
	if !ok {
		s.events.Publish(events.TypeAppendFailed, map[string]any{
			"target": name,
			"dir":    target.Dir(),
		})
		s.logger.Warn("Append failed", "target", name, "dir", target.Dir())
	}
	s.writeJSON(w, http.StatusOK, AppendResponse{OK: ok})
}

// handleSweeps handles GET /sweeps?target=&limit=.
func (s *Server) handleSweeps(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var entries []history.Entry
	var err error
	if target := r.URL.Query().Get("target"); target != "" {
		entries, err = s.history.RecentForTarget(r.Context(), target, limit)
	} else {
		entries, err = s.history.Recent(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("Failed to read sweep history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read sweep history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	s.writeJSON(w, http.StatusOK, SweepsResponse{Sweeps: entries})
}

// handleEvents handles GET /events as a server-sent event stream. Buffered
// events newer than Last-Event-ID are replayed before live delivery begins.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var lastID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastID, _ = strconv.ParseInt(v, 10, 64)
	}

	ch, cancel := s.events.Subscribe()
	defer cancel()

	for _, ev := range s.events.SnapshotSince(lastID) {
		s.writeSSE(w, ev.ID, ev.Type, ev.Data)
		lastID = ev.ID
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.ID <= lastID {
				continue
			}
			s.writeSSE(w, ev.ID, ev.Type, ev.Data)
			flusher.Flush()
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, id int64, eventType string, data []byte) {
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, eventType, data)
}

func (s *Server) sortedTargetNames() []string {
	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
