package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/JonMunkholm/membergen/internal/export"
	"github.com/JonMunkholm/membergen/internal/logging"
)

// healthTimeout bounds the database ping behind /healthz.
const healthTimeout = 2 * time.Second

// handleGenerate fabricates a batch of members for a city.
// Members stored before a failure stay stored; the response is the error.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req core.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	members, err := s.service.Generate(r.Context(), req)
	if err != nil {
		if len(members) > 0 {
			logging.FromContext(r.Context()).Warn("generation partially stored", "stored", len(members))
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, members)
}

// handleDownload exports every member as a CSV or Excel attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	table, err := s.service.ExportMembers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	body, err := export.Render(format, table)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+format.Filename())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logging.FromContext(r.Context()).Warn("download write failed", "error", err)
	}
}

type healthResponse struct {
	Status      string                       `json:"status"`
	Database    string                       `json:"database"`
	Generations core.GenerationLimiterStatus `json:"generations"`
}

// handleHealth reports liveness after pinging the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Database:    "ok",
		Generations: s.service.Limiter().Status(),
	}
	status := http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Error("health check: database ping failed", "error", err)
		resp.Status, resp.Database = "unavailable", "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, resp)
}
