// ABOUTME: HTTP handlers for runs, recipes, health and stats.
// ABOUTME: Errors are JSON bodies of the form {"error": "..."} with 400/404/500 status codes.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/2389-research/controlroom/render"
	"github.com/go-chi/chi/v5"
)

// StartRequest is the body of POST /runs.
type StartRequest struct {
	RecipeID    string         `json:"recipe_id"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description"`
	SessionID   string         `json:"session_id,omitempty"`
}

// StartResponse is returned by POST /runs.
type StartResponse struct {
	RunID string `json:"run_id"`
}

// CancelResponse is returned by POST /runs/{id}/cancel.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Counts map[pipeline.Status]int `json:"counts"`
	Active []string                `json:"active"`
	Uptime string                  `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusNotFound, "run index disabled")
		return
	}
	counts, err := s.index.Counts()
	if err != nil {
		s.logger.Error("server: index counts", "error", err)
		writeError(w, http.StatusInternalServerError, "index unavailable")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Counts: counts,
		Active: s.runner.Active(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.RecipeID == "" {
		writeError(w, http.StatusBadRequest, "recipe_id is required")
		return
	}

	runID, err := s.runner.Start(req.RecipeID, req.Args, req.Description, pipeline.WithSessionID(req.SessionID))
	if errors.Is(err, pipeline.ErrRecipeNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("server: start run", "recipe_id", req.RecipeID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not start run")
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{RunID: runID})
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	filter := pipeline.RunFilter{
		Status:   pipeline.Status(r.URL.Query().Get("status")),
		RecipeID: r.URL.Query().Get("recipe"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+string(filter.Status))
		return
	}
	runs, err := s.store.ListRuns(filter)
	if err != nil {
		s.logger.Error("server: list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []*pipeline.Manifest{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.ReadManifest(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleRunSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.store.ReadSteps(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if steps == nil {
		steps = []pipeline.StepRecord{}
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) handleRunCache(w http.ResponseWriter, r *http.Request) {
	cache, err := s.store.ReadCache(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if cache == nil {
		cache = pipeline.Cache{}
	}
	writeJSON(w, http.StatusOK, cache)
}

func (s *Server) handleRunCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: s.runner.Cancel(chi.URLParam(r, "runID"))})
}

func (s *Server) handleRecipeList(w http.ResponseWriter, r *http.Request) {
	all := s.recipes.All()
	out := make([]*pipeline.Recipe, 0, len(all))
	for _, id := range s.recipes.IDs() {
		if recipe, ok := all[id]; ok {
			out = append(out, recipe)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecipeGet(w http.ResponseWriter, r *http.Request) {
	recipe, ok := s.recipes.Get(chi.URLParam(r, "recipeID"))
	if !ok {
		writeError(w, http.StatusNotFound, pipeline.ErrRecipeNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

func (s *Server) handleRecipeReload(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recipes.Reload())
}

func (s *Server) handleRunGraph(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	m, err := s.store.ReadManifest(runID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	steps, err := s.store.ReadSteps(runID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	recipe, _ := s.recipes.Get(m.RecipeID)
	s.writeGraph(w, r, render.RunDOT(m, steps, recipe))
}

func (s *Server) handleRecipeGraph(w http.ResponseWriter, r *http.Request) {
	recipe, ok := s.recipes.Get(chi.URLParam(r, "recipeID"))
	if !ok {
		writeError(w, http.StatusNotFound, pipeline.ErrRecipeNotFound.Error())
		return
	}
	s.writeGraph(w, r, render.RecipeDOT(recipe))
}

var graphContentTypes = map[string]string{
	"dot": "text/vnd.graphviz; charset=utf-8",
	"svg": "image/svg+xml",
	"png": "image/png",
}

// writeGraph renders dotText in the ?format= query value (default dot).
func (s *Server) writeGraph(w http.ResponseWriter, r *http.Request, dotText string) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "dot"
	}
	contentType, ok := graphContentTypes[format]
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported format "+format)
		return
	}
	data, err := s.graphs.Render(r.Context(), dotText, format)
	if err != nil {
		s.logger.Warn("server: render graph", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.logger.Error("server: read run", "error", err)
	writeError(w, http.StatusInternalServerError, "could not read run")
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
