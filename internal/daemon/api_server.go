package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quaver/internal/config"
	"quaver/internal/logging"
	"quaver/internal/queue"
	"quaver/internal/services"
	"quaver/internal/workflow"
)

// maxSubmitBody bounds the JSON submission body; sources travel by path,
// not by upload.
const maxSubmitBody = 1 << 20

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	metrics http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logging.NewComponentLogger(logger, "api"),
		daemon:  d,
		metrics: http.NotFoundHandler(),
	}

	mux := http.NewServeMux()
	guard := bearerAuth(cfg.Paths.APIToken)
	mux.Handle("POST /api/v1/jobs", guard(srv.withRequest(srv.handleSubmit)))
	mux.Handle("GET /api/v1/jobs", guard(srv.withRequest(srv.handleList)))
	mux.Handle("GET /api/v1/jobs/{id}", guard(srv.withRequest(srv.handleJob)))
	mux.Handle("GET /api/v1/jobs/{id}/result", guard(srv.withRequest(srv.handleResult)))
	mux.Handle("POST /api/v1/jobs/{id}/cancel", guard(srv.withRequest(srv.handleCancel)))
	mux.Handle("POST /api/v1/jobs/{id}/retry", guard(srv.withRequest(srv.handleRetry)))
	mux.Handle("DELETE /api/v1/jobs/{id}", guard(srv.withRequest(srv.handleDelete)))
	mux.Handle("GET /api/v1/health", srv.withRequest(srv.handleHealth))
	mux.Handle("GET /metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.metrics.ServeHTTP(w, r)
	}))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.bind, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// withRequest tags each request with an id for log correlation.
func (s *apiServer) withRequest(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := services.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next(w, r.WithContext(ctx))
	})
}

// bearerAuth requires Authorization: Bearer <token> when a token is
// configured. An empty token leaves the API open for loopback use.
func bearerAuth(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || presented != token {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxSubmitBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err), services.KindValidation)
		return
	}
	kind, ok := queue.ParseKind(req.Kind)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown job kind %q", req.Kind), services.KindValidation)
		return
	}

	job, err := s.daemon.workflow.Submit(r.Context(), workflow.SubmitRequest{
		Kind:    kind,
		Source:  req.SourcePath,
		Options: req.Options,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, JobFromQueue(job))
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(strings.TrimSpace(value))
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value), services.KindValidation)
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.daemon.workflow.List(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobView, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = JobFromQueue(job)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.workflow.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobFromQueue(job))
}

// handleResult streams the final artifact. In-flight jobs answer 409 so
// clients can poll; failed and cancelled jobs answer 404.
func (s *apiServer) handleResult(w http.ResponseWriter, r *http.Request) {
	ref, err := s.daemon.workflow.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	file, err := s.daemon.workflow.OpenArtifact(*ref)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer file.Close()

	contentType := ref.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(ref.Path)))
	if ref.SizeBytes > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", ref.SizeBytes))
	}
	if _, err := io.Copy(w, file); err != nil {
		s.logger.Debug("result stream aborted", logging.Error(err))
	}
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.workflow.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobFromQueue(job))
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	if _, err := s.daemon.workflow.Retry(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	job, err := s.daemon.workflow.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobFromQueue(job))
}

func (s *apiServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.workflow.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.daemon.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string, kind services.ErrorKind) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Kind: kind.String()})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.Classify(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrNotReady):
		status = http.StatusConflict
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrResourceExhausted):
		status = http.StatusInsufficientStorage
	}
	if status == http.StatusInternalServerError {
		requestID, _ := services.RequestIDFromContext(r.Context())
		s.logger.Error("api request failed",
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldRequestID, requestID),
			logging.Error(err),
		)
	}
	s.writeError(w, status, err.Error(), kind)
}
