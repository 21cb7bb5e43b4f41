package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/imagepipe/internal/cache"
	"github.com/JakeFAU/imagepipe/internal/loader"
	"github.com/JakeFAU/imagepipe/internal/markdown"
	"github.com/JakeFAU/imagepipe/internal/metrics"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

const maxDocumentBytes = 16 << 20

// ModuleLoader runs the load phase for one module.
type ModuleLoader interface {
	Load(ctx context.Context, moduleID string) (loader.Module, error)
}

// DocumentRewriter rewrites compiled Markdown documents.
type DocumentRewriter interface {
	Rewrite(code, id string) (markdown.Result, error)
}

// Config controls the dev server.
type Config struct {
	// StaticRoot is served for requests no route or cached asset claims. Empty disables it.
	StaticRoot string
	// RequestTimeout bounds the /@imagepipe routes.
	RequestTimeout time.Duration
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Cache    cache.Reader
	Buffers  BufferSource
	Loader   ModuleLoader
	Rewriter DocumentRewriter
	// Ready reports readiness; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the load phase and the cache.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(AssetMiddleware(deps.Cache, deps.Buffers, logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/@imagepipe", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Get("/load", s.load)
		r.Post("/markdown", s.rewriteMarkdown)
	})

	if cfg.StaticRoot != "" {
		static := http.FileServer(http.Dir(cfg.StaticRoot))
		r.NotFound(static.ServeHTTP)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	mod, err := s.deps.Loader.Load(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrInvalidConfiguration) {
			status = http.StatusBadRequest
		}
		s.logger.Warn("module load failed", zap.String("module_id", id), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	if !mod.Handled {
		writeError(w, http.StatusNotFound, "not an image module")
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, mod.Body); err != nil {
		s.logger.Debug("module write aborted", zap.Error(err))
	}
}

func (s *Server) rewriteMarkdown(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if len(body) > maxDocumentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	}
	res, err := s.deps.Rewriter.Rewrite(string(body), id)
	if err != nil {
		s.logger.Warn("markdown rewrite failed", zap.String("document_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
