package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/requora/reqcore/internal/orchestrator"
	"github.com/requora/reqcore/internal/scorer"
	"github.com/requora/reqcore/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/api", func(r chi.Router) {
			r.Post("/jobs", handleCreateJob(e))
			r.Get("/jobs", handleListJobs(e))
			r.Get("/jobs/{id}", handleGetJob(e))
			r.Get("/jobs/{id}/steps", handleJobSteps(e))

			r.Post("/score", handleScore(e))
			r.Post("/duplicates/check", handleDuplicateCheck(e))
			r.Post("/duplicates/scan", handleDuplicateScan(e))

			r.Get("/providers", handleListProviders(e))
			r.Post("/providers", handleSaveProvider(e))
			r.Delete("/providers/{id}", handleDeleteProvider(e))
			r.Post("/providers/refresh", handleRefreshProviders(e))
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func handleCreateJob(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Goal    string          `json:"goal"`
			Context json.RawMessage `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Goal == "" {
			writeError(w, http.StatusBadRequest, "goal is required")
			return
		}

		job, err := e.Store.CreateJob(r.Context(), req.Goal, req.Context)
		if err != nil {
			zap.L().Error("create job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "create job failed")
			return
		}

		if err := e.Orchestrator.Start(job.ID); err != nil {
			if errors.Is(err, orchestrator.ErrJobRunning) {
				writeError(w, http.StatusConflict, "job already running")
				return
			}
			zap.L().Error("start job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "start job failed")
			return
		}

		writeJSON(w, http.StatusAccepted, job)
	}
}

func handleListJobs(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := e.Store.ListJobs(r.Context(), store.JobFilter{Limit: 100})
		if err != nil {
			zap.L().Error("list jobs failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list jobs failed")
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func handleGetJob(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := e.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			zap.L().Error("get job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get job failed")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleJobSteps(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		steps, err := e.Store.ListSteps(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			zap.L().Error("list steps failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list steps failed")
			return
		}
		writeJSON(w, http.StatusOK, steps)
	}
}

func handleScore(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Candidates) == 0 {
			writeError(w, http.StatusBadRequest, "candidates are required")
			return
		}
		report := scorer.ScoreBatch(req.Candidates, e.Benchmarks, req.Industry, req.Function)
		writeJSON(w, http.StatusOK, report)
	}
}

func handleDuplicateCheck(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Title == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		verdict, err := e.Detector.CheckDuplicate(r.Context(), req.Title, req.Content)
		if err != nil {
			zap.L().Error("duplicate check failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "duplicate check failed")
			return
		}
		writeJSON(w, http.StatusOK, verdict)
	}
}

func handleDuplicateScan(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Deprecate bool `json:"deprecate"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		summary, err := e.Detector.ScanDuplicates(r.Context(), req.Deprecate)
		if err != nil {
			zap.L().Error("duplicate scan failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "duplicate scan failed")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleListProviders(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers, err := e.Store.ListProviders(r.Context(), false)
		if err != nil {
			zap.L().Error("list providers failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list providers failed")
			return
		}
		writeJSON(w, http.StatusOK, providers)
	}
}

func handleSaveProvider(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req providerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		saved, err := e.Store.SaveProvider(r.Context(), req.toConfig())
		if err != nil {
			zap.L().Error("save provider failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "save provider failed")
			return
		}
		if err := e.Executor.Refresh(r.Context()); err != nil {
			zap.L().Warn("provider refresh after save failed", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleDeleteProvider(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := e.Store.DeleteProvider(r.Context(), chi.URLParam(r, "id")); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "provider not found")
				return
			}
			zap.L().Error("delete provider failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "delete provider failed")
			return
		}
		if err := e.Executor.Refresh(r.Context()); err != nil {
			zap.L().Warn("provider refresh after delete failed", zap.Error(err))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRefreshProviders(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := e.Executor.Refresh(r.Context()); err != nil {
			zap.L().Error("provider refresh failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "provider refresh failed")
			return
		}
		names := []string{}
		for _, a := range e.Executor.Providers() {
			names = append(names, a.Name())
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": names})
	}
}
