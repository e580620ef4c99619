// Package chi is the HTTP transport: routing, request decoding, error
// mapping, and the SSE relay for streaming drafts.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/domain"
	logpkg "github.com/scholarlabs/citedex/internal/logger"
	"github.com/scholarlabs/citedex/internal/metrics"
	healthuc "github.com/scholarlabs/citedex/internal/usecase/health"
	ingestuc "github.com/scholarlabs/citedex/internal/usecase/ingest"
	retrieveuc "github.com/scholarlabs/citedex/internal/usecase/retrieve"
)

// tokensHeader reports embedding token usage consumed by a request.
const tokensHeader = "X-Citedex-Embedding-Tokens"

// errorHandler tries to handle a pipeline error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// SourceRepo is the source storage surface the transport needs.
type SourceRepo interface {
	Get(ctx context.Context, id string) (domain.Source, error)
	Save(ctx context.Context, src *domain.Source) error
}

// UploadStore accepts pending upload payloads.
type UploadStore interface {
	Put(ctx context.Context, sourceID string, payload domain.UploadPayload) error
}

// Server is the HTTP API server.
type Server struct {
	sources       SourceRepo
	uploads       UploadStore
	ingest        *ingestuc.Service
	retrieve      *retrieveuc.Service
	health        *healthuc.Service
	completer     domain.Completer
	logger        *zap.Logger
	apiKeys       []string
	now           func() int64
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	sources SourceRepo,
	uploads UploadStore,
	ingest *ingestuc.Service,
	retrieve *retrieveuc.Service,
	health *healthuc.Service,
	completer domain.Completer,
	apiKeys []string,
	logger *zap.Logger,
	now func() int64,
) *Server {
	s := &Server{
		sources:   sources,
		uploads:   uploads,
		ingest:    ingest,
		retrieve:  retrieve,
		health:    health,
		completer: completer,
		apiKeys:   apiKeys,
		logger:    logger,
		now:       now,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrSourceNotFound, http.StatusNotFound, "source_not_found"),
		sentinelHandler(domain.ErrUploadNotFound, http.StatusNotFound, "upload_not_found"),
		kindHandler(domain.KindEmbeddingQuotaExceeded, http.StatusPaymentRequired, "embedding_quota_exceeded"),
		kindHandler(domain.KindEmbeddingAuthFailed, http.StatusBadGateway, "embedding_provider_error"),
		kindHandler(domain.KindEmbeddingUnavailable, http.StatusBadGateway, "embedding_provider_error"),
		kindHandler(domain.KindStreamTransport, http.StatusBadGateway, "completion_provider_error"),
	}
	return s
}

// Router assembles the chi router with middleware and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(requestLogger(s.logger))
	r.Use(BearerAuthMiddleware(s.apiKeys))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/projects/{projectID}/sources", s.handleCreateSource)
		r.Post("/projects/{projectID}/retrieve", s.handleRetrieve)
		r.Put("/sources/{sourceID}/upload", s.handleUpload)
		r.Post("/sources/{sourceID}/ingest", s.handleIngest)
		r.Get("/sources/{sourceID}", s.handleGetSource)
		r.Post("/draft/stream", s.handleDraftStream)
	})

	return r
}

type createSourceRequest struct {
	ID          string  `json:"id,omitempty"`
	UserID      string  `json:"userId"`
	Title       string  `json:"title"`
	Kind        string  `json:"kind"`
	Reliability float64 `json:"reliability,omitempty"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	kind := domain.SourceKind(req.Kind)
	if kind == "" {
		kind = domain.SourceKindText
	}
	reliability := req.Reliability
	if reliability == 0 {
		reliability = -1 // no metadata, neutral default applies
	}

	src, err := domain.NewSource(req.ID, req.UserID, projectID, req.Title, kind, reliability, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if err := s.sources.Save(r.Context(), &src); err != nil {
		s.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sourceToResponse(&src))
}

type uploadRequest struct {
	Kind    string `json:"kind,omitempty"`
	Content string `json:"content"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "Upload content is required")
		return
	}

	src, err := s.sources.Get(r.Context(), sourceID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	kind := domain.SourceKind(req.Kind)
	if kind == "" {
		kind = src.Kind()
	}

	payload := domain.UploadPayload{Kind: kind, Content: req.Content}
	if err := s.uploads.Put(r.Context(), sourceID, payload); err != nil {
		s.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"sourceId": sourceID, "status": "uploaded"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	ctx, usage := domain.NewContextWithUsage(r.Context())
	result, err := s.ingest.Ingest(ctx, sourceID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	if usage.Used {
		w.Header().Set(tokensHeader, strconv.Itoa(usage.TotalTokens))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.sources.Get(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceToResponse(&src))
}

type retrieveRequest struct {
	Query   string          `json:"query"`
	TopK    int             `json:"topK,omitempty"`
	Context string          `json:"context,omitempty"`
	Weights *weightsPayload `json:"weights,omitempty"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "Query is required")
		return
	}

	opts := retrieveuc.Options{TopK: req.TopK, Context: req.Context}
	if req.Weights != nil {
		opts.Weights = req.Weights.toDomain()
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	ranked, err := s.retrieve.Retrieve(ctx, projectID, req.Query, opts)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	if usage.Used {
		w.Header().Set(tokensHeader, strconv.Itoa(usage.TotalTokens))
	}
	writeJSON(w, http.StatusOK, rankedToResponse(ranked))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	msg := safeMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	logpkg.FromContext(r.Context()).Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

// safeMessage exposes only sentinel and taxonomy text to clients.
func safeMessage(err error) string {
	for _, sentinel := range []error{domain.ErrSourceNotFound, domain.ErrUploadNotFound} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if kind, ok := domain.KindOf(err); ok {
		return string(kind)
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler matching a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// kindHandler returns an errorHandler matching one taxonomy kind.
func kindHandler(kind domain.ErrorKind, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		got, ok := domain.KindOf(err)
		if !ok || got != kind {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

// requestLogger attaches a request-scoped logger to the context so handlers
// and error mapping log with the request fields attached.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := logger.With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			ctx := logpkg.ContextWithLogger(r.Context(), reqLog)
			next.ServeHTTP(w, r.WithContext(ctx))
			reqLog.Debug("request")
		})
	}
}
