package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/go-chi/chi/v5"
)

type healthResponse struct {
	Status string                `json:"status"`
	Runs   core.RunLimiterStatus `json:"runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Runs:   s.service.Limiter().Status(),
	})
}

// ModelsResponse lists what can be run.
type ModelsResponse struct {
	Importers []string    `json:"importers"`
	Exporters []string    `json:"exporters"`
	Modes     []core.Mode `json:"modes"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	reg := s.service.Registry()
	importers, err := reg.ImporterNames()
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ModelsResponse{
		Importers: importers,
		Exporters: reg.ExporterNames(),
		Modes:     core.Modes(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}
	runs, err := s.service.RecentRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []core.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleImport runs POST /api/import/{model}?mode=append&offset=0&limit=0.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.Registry().Expand(core.RunImport, chi.URLParam(r, "model"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	opts := core.ImportOptions{Mode: core.Mode(r.URL.Query().Get("mode"))}
	if opts.Offset, err = intParam(r, "offset", 0); err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}
	if opts.Limit, err = intParam(r, "limit", 0); err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}

	res, err := s.service.Import(r.Context(), names, opts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleExport runs POST /api/export/{model}. The current file is backed up
// first unless backup=false.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.Registry().Expand(core.RunExport, chi.URLParam(r, "model"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	backup := true
	if v := r.URL.Query().Get("backup"); v != "" {
		if backup, err = strconv.ParseBool(v); err != nil {
			respondBadRequest(w, r, fmt.Sprintf("invalid backup %q", v))
			return
		}
	}

	res, err := s.service.Export(r.Context(), names, core.ExportOptions{Backup: backup})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.Registry().Expand(core.RunBackup, chi.URLParam(r, "model"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := s.service.Backup(r.Context(), names)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// intParam reads a non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}
