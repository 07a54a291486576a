// Package server exposes plan submission, job status, payload preview and
// job statistics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-planner/internal/config"
	"github.com/sells-group/opportunity-planner/internal/model"
	"github.com/sells-group/opportunity-planner/internal/monitoring"
	"github.com/sells-group/opportunity-planner/internal/planner"
	"github.com/sells-group/opportunity-planner/internal/resilience"
)

const maxBodyBytes = 1 << 20

// Planner is the subset of planner.Planner the HTTP surface needs.
type Planner interface {
	Payload(records []model.ServiceOpportunity, prefs model.PlanPreferences) (*model.OpportunityPayload, error)
	Validate(pl *model.OpportunityPayload) error
	Submit(ctx context.Context, pl *model.OpportunityPayload) (*model.Job, error)
	Run(ctx context.Context, pl *model.OpportunityPayload) (*model.Job, error)
	Status(ctx context.Context, id string) (*model.Job, error)
}

// StatsCollector produces job metrics snapshots.
type StatsCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Server holds the HTTP handlers.
type Server struct {
	planner  Planner
	stats    StatsCollector
	breaker  monitoring.BreakerSource
	cfg      config.ServerConfig
	lookback int
}

// New creates a Server. stats may be nil, in which case /stats is not served.
func New(p Planner, stats StatsCollector, cfg config.ServerConfig, lookbackHours int) *Server {
	return &Server{planner: p, stats: stats, cfg: cfg, lookback: lookbackHours}
}

// WithBreaker reports the upstream circuit state on /health.
func (s *Server) WithBreaker(b monitoring.BreakerSource) *Server {
	s.breaker = b
	return s
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                      `json:"status"`
	Circuit *resilience.CircuitSnapshot `json:"circuit,omitempty"`
}

// PlanRequest is the body of POST /plans and POST /payloads. Either Payload
// or Records must be set; Payload wins when both are.
type PlanRequest struct {
	Records     []model.ServiceOpportunity `json:"records"`
	Preferences model.PlanPreferences      `json:"preferences"`
	Payload     *model.OpportunityPayload  `json:"payload,omitempty"`
}

// SubmitResponse is returned for asynchronous submissions.
type SubmitResponse struct {
	ID     string          `json:"id"`
	Status model.JobStatus `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/payloads", s.handlePayload)
	r.Route("/plans", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/{id}", s.handleStatus)
	})
	if s.stats != nil {
		r.Get("/stats", s.handleStats)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.breaker != nil {
		cs := s.breaker.Snapshot()
		resp.Circuit = &cs
		if cs.State == resilience.CircuitOpen.String() {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	pl, err := s.resolvePayload(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	pl, err := s.resolvePayload(req)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("mode") == "sync" {
		job, err := s.planner.Run(r.Context(), pl)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}

	job, err := s.planner.Submit(r.Context(), pl)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/plans/"+job.ID)
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: job.ID, Status: job.Status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.planner.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.stats.Collect(r.Context(), s.lookback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) resolvePayload(req *PlanRequest) (*model.OpportunityPayload, error) {
	if req.Payload != nil {
		if err := s.planner.Validate(req.Payload); err != nil {
			return nil, err
		}
		return req.Payload, nil
	}
	return s.planner.Payload(req.Records, req.Preferences)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (*PlanRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: string(model.JobErrorInput)})
		return nil, false
	}
	return &req, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, planner.ErrEmptyOpportunitySet), errors.Is(err, planner.ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: string(model.JobErrorInput)})
	case errors.Is(err, planner.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		zap.L().Error("server: request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
