// Package resolver maps module identifiers to image files under the project root and
// decodes each source once per session.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/imagepipe/internal/cache"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// Resolver implements reference resolution and source loading.
type Resolver struct {
	root       string
	extensions []string
	cache      *cache.Cache
	codec      pipeline.Codec
	logger     *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithExtensions overrides the accepted source extensions.
func WithExtensions(exts ...string) Option {
	return func(r *Resolver) {
		r.extensions = make([]string, 0, len(exts))
		for _, ext := range exts {
			r.extensions = append(r.extensions, strings.ToLower(strings.TrimPrefix(ext, ".")))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Resolver rooted at root.
func New(root string, c *cache.Cache, codec pipeline.Codec, opts ...Option) (*Resolver, error) {
	if c == nil || codec == nil {
		return nil, errors.New("resolver: cache and codec are required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root %q: %w", root, err)
	}
	r := &Resolver{
		root:       strings.TrimSuffix(filepath.ToSlash(abs), "/"),
		extensions: []string{"jpeg", "jpg", "png", "gif", "webp", "tiff", "bmp"},
		cache:      c,
		codec:      codec,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root returns the normalized project root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve parses moduleID into a Reference. It returns ErrUnresolvableReference or
// ErrUnsupportedMediaType when the module is not an image this pipeline owns.
func (r *Resolver) Resolve(moduleID string) (pipeline.Reference, error) {
	if moduleID == "" {
		return pipeline.Reference{}, fmt.Errorf("%w: empty module id", pipeline.ErrUnresolvableReference)
	}
	parsed, err := url.Parse("file://" + moduleID)
	if err != nil {
		return pipeline.Reference{}, fmt.Errorf("%w: %v", pipeline.ErrUnresolvableReference, err)
	}
	filePath, _, _ := strings.Cut(moduleID, "?")

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filePath), "."))
	if ext == "" || !slices.Contains(r.extensions, ext) {
		return pipeline.Reference{}, fmt.Errorf("%w: %q", pipeline.ErrUnsupportedMediaType, filePath)
	}

	abs := path.Clean(filePath)
	if !strings.HasPrefix(abs, r.root+"/") {
		abs = path.Join("/", r.root, filePath)
	}
	if !strings.HasPrefix(abs, r.root+"/") {
		return pipeline.Reference{}, fmt.Errorf("%w: %q escapes the project root", pipeline.ErrUnresolvableReference, filePath)
	}

	base := path.Base(abs)
	return pipeline.Reference{
		ModuleID:     moduleID,
		AbsolutePath: abs,
		Extension:    ext,
		BaseName:     strings.TrimSuffix(base, path.Ext(base)),
		Params:       pipeline.ParseQuery(parsed.RawQuery),
	}, nil
}

// Source returns the decoded image for ref. The first caller for an absolute path decodes it
// and every later or concurrent caller shares that record.
func (r *Resolver) Source(ctx context.Context, ref pipeline.Reference) (*pipeline.SourceRecord, error) {
	entry, err := r.cache.GetOrBuild(ctx, pipeline.SourceKey(ref.AbsolutePath), func(ctx context.Context) (pipeline.Entry, error) {
		decoded, err := r.codec.Decode(ctx, filepath.FromSlash(ref.AbsolutePath), ref.Extension)
		if err != nil {
			return pipeline.Entry{}, err
		}
		r.logger.Debug("source decoded",
			zap.String("path", ref.AbsolutePath),
			zap.Int("natural_width", decoded.Width),
		)
		return pipeline.Entry{Source: &pipeline.SourceRecord{
			AbsolutePath: ref.AbsolutePath,
			Extension:    ref.Extension,
			Image:        decoded.Image,
			NaturalWidth: decoded.Width,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	if entry.Source == nil {
		return nil, errors.New("resolver: source key holds a non-source entry")
	}
	return entry.Source, nil
}
