package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"scoring-service/internal/common"
	"scoring-service/internal/models"
	"scoring-service/internal/queue"
	"scoring-service/internal/ratelimit"
	"scoring-service/internal/service"
	"scoring-service/internal/telemetry"
)

// Service is the set of operations the HTTP layer exposes.
type Service interface {
	CreateSubmission(ctx context.Context, in service.CreateSubmissionInput) (service.SubmissionRef, error)
	UpdateSubmission(ctx context.Context, id string, in service.UpdateSubmissionInput) (service.SubmissionRef, error)
	FinalizeSubmission(ctx context.Context, id string) (service.SubmissionRef, error)
	GetSubmission(ctx context.Context, id string) (models.Submission, error)
	CreateScoreJob(ctx context.Context, in service.CreateScoreJobInput) (service.ScoreJobRef, error)
	GetScoreJob(ctx context.Context, id string) (models.ScoreJobView, error)
	GetQueueMetrics(ctx context.Context) (queue.Metrics, error)
}

// Limiter decides whether a caller may create another resource.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the submission and scoring API.
type Server struct {
	svc     Service
	limiter Limiter
	logger  *slog.Logger
}

// New constructs the API server. A nil limiter disables rate limiting.
func New(svc Service, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, limiter: limiter, logger: logger.With("component", "api")}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/submissions", func(r chi.Router) {
			r.With(s.rateLimit).Post("/", s.handleCreateSubmission)
			r.Get("/{id}", s.handleGetSubmission)
			r.Patch("/{id}", s.handleUpdateSubmission)
			r.Post("/{id}/submit", s.handleFinalizeSubmission)
		})
		r.Route("/score-jobs", func(r chi.Router) {
			r.With(s.rateLimit).Post("/", s.handleCreateScoreJob)
			r.Get("/", s.handleQueueMetrics)
			r.Get("/{id}", s.handleGetScoreJob)
		})
	})
	return r
}

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var in service.CreateSubmissionInput
	if err := decodeJSON(r, &in); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	ref, err := s.svc.CreateSubmission(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, ref)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.svc.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, sub.View())
}

func (s *Server) handleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateSubmissionInput
	if err := decodeJSON(r, &in); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	ref, err := s.svc.UpdateSubmission(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, ref)
}

func (s *Server) handleFinalizeSubmission(w http.ResponseWriter, r *http.Request) {
	ref, err := s.svc.FinalizeSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, ref)
}

func (s *Server) handleCreateScoreJob(w http.ResponseWriter, r *http.Request) {
	var in service.CreateScoreJobInput
	if err := decodeJSON(r, &in); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	ref, err := s.svc.CreateScoreJob(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, ref)
}

func (s *Server) handleGetScoreJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetScoreJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, view)
}

func (s *Server) handleQueueMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.GetQueueMetrics(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, m)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if common.HTTPStatusFromError(err) >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	common.RespondWithDomainError(w, err)
}

// decodeJSON reads an optional JSON body. An empty body decodes to the zero value.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: invalid json: %v", common.ErrValidation, err)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := s.limiter.Allow(r.Context(), limitKey(r))
		if err != nil {
			s.logger.Error("rate limiter failed", "error", err)
			common.RespondWithError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			secs := int((d.RetryAfter + time.Second - 1) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			common.RespondWithError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitKey buckets requests by learner header, falling back to the client address.
func limitKey(r *http.Request) string {
	if v := r.Header.Get("X-Learner-ID"); v != "" {
		return "learner:" + v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		telemetry.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		s.logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
