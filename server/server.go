// ABOUTME: HTTP API for starting, inspecting and cancelling pipeline runs behind a chi router.
// ABOUTME: Runs execute in the background; every read goes to the run store, counts come from the optional index.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/2389-research/controlroom/pipeline/index"
	"github.com/2389-research/controlroom/render"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config wires the server to the engine.
type Config struct {
	Addr    string // listen address (default: "127.0.0.1:2390")
	Runner  *pipeline.Runner
	Store   pipeline.RunStore
	Recipes *pipeline.RecipeRegistry
	Index   *index.Index // optional
	Logger  *slog.Logger

	// Graphs caches rendered SVG/PNG run graphs (default: Render with a 5 minute TTL).
	Graphs *render.Cache
}

// Server is the control room HTTP server.
type Server struct {
	addr    string
	runner  *pipeline.Runner
	store   pipeline.RunStore
	recipes *pipeline.RecipeRegistry
	index   *index.Index
	graphs  *render.Cache
	logger  *slog.Logger
	started time.Time
	router  chi.Router
}

// New creates a Server. Runner, Store and Recipes are required.
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil || cfg.Store == nil || cfg.Recipes == nil {
		return nil, errors.New("server: runner, store and recipes are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:2390"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Graphs == nil {
		cfg.Graphs = render.NewCache(render.Render, 5*time.Minute)
	}
	s := &Server{
		addr:    cfg.Addr,
		runner:  cfg.Runner,
		store:   cfg.Store,
		recipes: cfg.Recipes,
		index:   cfg.Index,
		graphs:  cfg.Graphs,
		logger:  cfg.Logger,
		started: time.Now(),
	}
	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// Background runs are not interrupted; callers wait on the Runner separately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("server: shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleRunList)
		r.Post("/", s.handleRunStart)

		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.handleRunGet)
			r.Get("/steps", s.handleRunSteps)
			r.Get("/cache", s.handleRunCache)
			r.Get("/graph", s.handleRunGraph)
			r.Post("/cancel", s.handleRunCancel)
		})
	})

	r.Route("/recipes", func(r chi.Router) {
		r.Get("/", s.handleRecipeList)
		r.Post("/reload", s.handleRecipeReload)
		r.Get("/{recipeID}", s.handleRecipeGet)
		r.Get("/{recipeID}/graph", s.handleRecipeGraph)
	})

	return r
}
