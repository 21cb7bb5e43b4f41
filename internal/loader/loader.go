// Package loader implements the module load phase: it resolves an image reference, consults
// the transform cache for each requested width and renders the module body.
package loader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/imagepipe/internal/cache"
	"github.com/JakeFAU/imagepipe/internal/encoder"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
	"github.com/JakeFAU/imagepipe/internal/resolver"
)

// Config controls how module values are rendered.
type Config struct {
	Mode          pipeline.Mode
	ProjectBase   string
	AssetTemplate string
}

// Deps are the collaborators a Loader needs.
type Deps struct {
	Resolver      *resolver.Resolver
	Normalizer    pipeline.Normalizer
	Fingerprinter *pipeline.Fingerprinter
	Cache         *cache.Cache
	Codec         pipeline.Codec
	Encoder       *encoder.Encoder
}

// Module is a load result. Handled is false when the reference is not an image this
// pipeline owns and the host should load it unchanged.
type Module struct {
	ModuleID string
	Handled  bool
	Value    string
	Body     string
}

// Loader runs the load phase.
type Loader struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates deps and returns a Loader.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Loader, error) {
	if deps.Resolver == nil || deps.Normalizer == nil || deps.Fingerprinter == nil ||
		deps.Cache == nil || deps.Codec == nil || deps.Encoder == nil {
		return nil, errors.New("loader: missing dependency")
	}
	if cfg.Mode == "" {
		cfg.Mode = pipeline.ModeDev
	}
	if cfg.AssetTemplate == "" {
		cfg.AssetTemplate = pipeline.DefaultAssetTemplate("_astro")
	}
	cfg.AssetTemplate = pipeline.NormalizeTemplate(cfg.AssetTemplate)
	cfg.ProjectBase = pipeline.NormalizeProjectBase(cfg.ProjectBase)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cfg: cfg, deps: deps, logger: logger}, nil
}

var tracer = otel.Tracer("github.com/JakeFAU/imagepipe/internal/loader")

// Load handles one module identifier.
func (l *Loader) Load(ctx context.Context, moduleID string) (Module, error) {
	ctx, span := tracer.Start(ctx, "loader.Load", trace.WithAttributes(attribute.String("module_id", moduleID)))
	defer span.End()

	mod, err := l.load(ctx, moduleID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Module{}, err
	}
	span.SetAttributes(attribute.Bool("handled", mod.Handled))
	return mod, nil
}

func (l *Loader) load(ctx context.Context, moduleID string) (Module, error) {
	ref, err := l.deps.Resolver.Resolve(moduleID)
	if err != nil {
		if pipeline.IsPassThrough(err) {
			return Module{ModuleID: moduleID}, nil
		}
		return Module{}, err
	}

	directives, err := l.deps.Normalizer.Normalize(ref.Params, ref.Extension)
	if err != nil {
		return Module{}, fmt.Errorf("load %s: %w", moduleID, err)
	}

	src, err := l.deps.Resolver.Source(ctx, ref)
	if err != nil {
		return Module{}, fmt.Errorf("load %s: %w", moduleID, err)
	}
	widths := directives.EffectiveWidths(src.NaturalWidth)

	var value string
	if directives.Inline {
		value, err = l.loadInline(ctx, src, widths, directives)
	} else {
		value, err = l.loadAssets(ctx, ref, src, widths, directives)
	}
	if err != nil {
		return Module{}, fmt.Errorf("load %s: %w", moduleID, err)
	}

	l.logger.Debug("module loaded",
		zap.String("module_id", moduleID),
		zap.Ints("widths", widths),
		zap.Bool("inline", directives.Inline),
	)
	return Module{
		ModuleID: moduleID,
		Handled:  true,
		Value:    value,
		Body:     "export default " + strconv.Quote(value),
	}, nil
}

func (l *Loader) loadInline(
	ctx context.Context,
	src *pipeline.SourceRecord,
	widths []int,
	directives pipeline.Directives,
) (string, error) {
	if len(widths) != 1 {
		return "", pipeline.InvalidConfigurationf("inline output accepts at most one width, got %d", len(widths))
	}
	width := widths[0]
	fp, err := l.deps.Fingerprinter.Fingerprint(src.AbsolutePath, width, directives.Options.Map())
	if err != nil {
		return "", err
	}
	entry, err := l.deps.Cache.GetOrBuild(ctx, string(fp), func(ctx context.Context) (pipeline.Entry, error) {
		art, err := l.transform(ctx, src, width, directives, fp, "")
		if err != nil {
			return pipeline.Entry{}, err
		}
		data, err := l.deps.Encoder.Bytes(ctx, art)
		if err != nil {
			return pipeline.Entry{}, err
		}
		return pipeline.Entry{DataURI: "data:" + art.MimeType + ";base64," + base64.StdEncoding.EncodeToString(data)}, nil
	})
	if err != nil {
		return "", err
	}
	if entry.DataURI == "" {
		return "", fmt.Errorf("cache key %s holds a non-inline entry", fp)
	}
	return entry.DataURI, nil
}

func (l *Loader) loadAssets(
	ctx context.Context,
	ref pipeline.Reference,
	src *pipeline.SourceRecord,
	widths []int,
	directives pipeline.Directives,
) (string, error) {
	paths := make([]string, len(widths))
	options := directives.Options.Map()

	g, gctx := errgroup.WithContext(ctx)
	for i, width := range widths {
		g.Go(func() error {
			fp, err := l.deps.Fingerprinter.Fingerprint(src.AbsolutePath, width, options)
			if err != nil {
				return err
			}
			assetPath := pipeline.BuildAssetPath(ref.BaseName, l.cfg.AssetTemplate, directives.OutputExtension, width, fp)
			_, err = l.deps.Cache.GetOrBuild(gctx, assetPath, func(ctx context.Context) (pipeline.Entry, error) {
				art, err := l.transform(ctx, src, width, directives, fp, assetPath)
				if err != nil {
					return pipeline.Entry{}, err
				}
				return pipeline.Entry{Artifact: art}, nil
			})
			if err != nil {
				return err
			}
			paths[i] = pipeline.ModulePath(l.cfg.Mode, l.cfg.ProjectBase, assetPath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if len(paths) == 1 {
		return paths[0], nil
	}
	descriptors := make([]string, len(paths))
	for i, p := range paths {
		descriptors[i] = p + " " + strconv.Itoa(widths[i]) + "w"
	}
	return strings.Join(descriptors, ", "), nil
}

func (l *Loader) transform(
	ctx context.Context,
	src *pipeline.SourceRecord,
	width int,
	directives pipeline.Directives,
	fp pipeline.Fingerprint,
	assetPath string,
) (*pipeline.Artifact, error) {
	start := time.Now()
	out, err := l.deps.Codec.Transform(ctx, pipeline.TransformRequest{
		SourcePath: filepath.FromSlash(src.AbsolutePath),
		Source:     src.Image,
		Width:      width,
		Options:    directives.Options,
		MimeType:   directives.MimeType,
	})
	if err != nil {
		return nil, err
	}
	l.logger.Debug("artifact built",
		zap.String("source", src.AbsolutePath),
		zap.Int("width", width),
		zap.String("fingerprint", fp.Short(12)),
		zap.Bool("passthrough", out.Buffer != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &pipeline.Artifact{
		Fingerprint: fp,
		AssetPath:   assetPath,
		MimeType:    directives.MimeType,
		Options:     directives.Options,
		Image:       out.Image,
		Buffer:      out.Buffer,
	}, nil
}
