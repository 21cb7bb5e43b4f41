package devserver

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/imagepipe/internal/cache"
	"github.com/JakeFAU/imagepipe/internal/metrics"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// BufferSource materializes artifact bytes.
type BufferSource interface {
	Bytes(ctx context.Context, art *pipeline.Artifact) ([]byte, error)
}

// AssetMiddleware serves cached artifacts by request path and hands every other request to
// next. It only reads from the cache.
func AssetMiddleware(lookup cache.Reader, buffers BufferSource, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			entry, ok := lookup.Get(r.URL.Path)
			if !ok || entry.Artifact == nil {
				metrics.ObserveDevAsset("passthrough")
				next.ServeHTTP(w, r)
				return
			}

			data, err := buffers.Bytes(r.Context(), entry.Artifact)
			if err != nil {
				metrics.ObserveDevAsset("error")
				logger.Error("encode asset failed", zap.String("path", r.URL.Path), zap.Error(err))
				http.Error(w, "failed to encode asset", http.StatusInternalServerError)
				return
			}

			h := w.Header()
			h.Set("Content-Type", entry.Artifact.MimeType)
			h.Set("Cache-Control", "no-cache")
			h.Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			metrics.ObserveDevAsset("served")
			if r.Method == http.MethodHead {
				return
			}
			if _, err := w.Write(data); err != nil {
				logger.Debug("asset write aborted", zap.String("path", r.URL.Path), zap.Error(err))
			}
		})
	}
}
