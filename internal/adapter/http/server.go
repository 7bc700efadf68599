package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/weather-pattern-etl/internal/pipeline"
)

// Job is the view of the pipeline the server needs.
type Job interface {
	sharedobs.ReadinessChecker
	LastRun() (pipeline.RunResult, bool)
}

// Server exposes health, readiness, run status, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /status and /metrics routes.
func NewServer(addr string, job Job, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(job))
	mux.HandleFunc("GET /status", handleStatus(job))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type runStatus struct {
	RunID           string    `json:"run_id"`
	Succeeded       bool      `json:"succeeded"`
	Error           string    `json:"error,omitempty"`
	RowsRead        int       `json:"rows_read"`
	RecordsTyped    int       `json:"records_typed"`
	SchemaErrors    int       `json:"schema_errors"`
	EmptyExpansions int       `json:"empty_expansions"`
	FlatRecords     int       `json:"flat_records"`
	Summaries       int       `json:"summaries"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

func handleStatus(job Job) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		res, ok := job.LastRun()
		if !ok {
			sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"status": "no runs yet"})
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, runStatus{
			RunID:           res.RunID,
			Succeeded:       res.Err == nil,
			Error:           errString(res.Err),
			RowsRead:        res.RowsRead,
			RecordsTyped:    res.RecordsTyped,
			SchemaErrors:    res.SchemaErrors,
			EmptyExpansions: res.EmptyExpansions,
			FlatRecords:     res.FlatRecords,
			Summaries:       res.Summaries,
			StartedAt:       res.StartedAt,
			FinishedAt:      res.FinishedAt,
		})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
