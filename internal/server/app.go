// Package server wires the image pipeline into a session: a dev server that answers module
// loads and serves cached assets from memory, or a production build that loads every module
// and flushes the artifacts once.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/imagepipe/internal/cache"
	"github.com/JakeFAU/imagepipe/internal/clock/system"
	"github.com/JakeFAU/imagepipe/internal/codec/imaging"
	"github.com/JakeFAU/imagepipe/internal/config"
	"github.com/JakeFAU/imagepipe/internal/devserver"
	"github.com/JakeFAU/imagepipe/internal/encoder"
	"github.com/JakeFAU/imagepipe/internal/finalizer"
	"github.com/JakeFAU/imagepipe/internal/hash/blake3"
	"github.com/JakeFAU/imagepipe/internal/id/uuid"
	"github.com/JakeFAU/imagepipe/internal/loader"
	"github.com/JakeFAU/imagepipe/internal/logging"
	"github.com/JakeFAU/imagepipe/internal/markdown"
	"github.com/JakeFAU/imagepipe/internal/normalize"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
	memorypublisher "github.com/JakeFAU/imagepipe/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/imagepipe/internal/publisher/pubsub"
	"github.com/JakeFAU/imagepipe/internal/resolver"
	"github.com/JakeFAU/imagepipe/internal/storage"
	"github.com/JakeFAU/imagepipe/internal/telemetry"
	memorystorage "github.com/JakeFAU/imagepipe/internal/storage/memory"
	pgstore "github.com/JakeFAU/imagepipe/internal/storage/postgres"
)

// App contains one session's dependencies. The transform cache and encoder memo live as
// long as the App. Output storage, the manifest and the publisher are only opened in build
// mode, so a dev session never touches the output directory.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	fs     afero.Fs

	cache     *cache.Cache
	encoder   *encoder.Encoder
	loader    *loader.Loader
	rewriter  *markdown.Rewriter
	finalizer *finalizer.Finalizer
	devServer *devserver.Server

	blobs           storage.Provider
	manifest        pipeline.ManifestStore
	pgManifest      *pgstore.ManifestStore
	publisher       pipeline.Publisher
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	tracerShutdown  func(context.Context) error
}

// Option customizes App construction.
type Option func(*App)

// WithLogger supplies the logger instead of building one from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithFs makes sources and local output use fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(a *App) {
		a.fs = fs
	}
}

// BuildResult is the outcome of a production build.
type BuildResult struct {
	// Modules are the load results in the order the ids were given.
	Modules []loader.Module
	Report  finalizer.Report
}

// New creates the application's dependencies.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}
	if app.fs == nil {
		app.fs = afero.NewOsFs()
	}

	root, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	app.logger.Info("creating application",
		zap.String("mode", cfg.Mode),
		zap.String("root", root),
		zap.String("asset_template", cfg.AssetTemplate()),
	)

	tp, err := telemetry.InitTracerProvider(ctx, "imagepipe")
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := app.setupPipeline(root); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if cfg.ModeValue() == pipeline.ModeBuild {
		if err := app.setupFinalizer(ctx); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}

	app.devServer = devserver.NewServer(devserver.Config{
		StaticRoot:     root,
		RequestTimeout: cfg.RequestTimeout(),
	}, devserver.Deps{
		Cache:    app.cache,
		Buffers:  app.encoder,
		Loader:   app.loader,
		Rewriter: app.rewriter,
	}, app.logger.Named("devserver"))

	return app, nil
}

func (a *App) setupPipeline(root string) error {
	codec := imaging.New(a.fs, imaging.Config{JPEGQuality: a.cfg.Codec.JPEGQuality}, a.logger.Named("codec"))
	a.cache = cache.New(cache.WithLogger(a.logger.Named("cache")))

	res, err := resolver.New(root, a.cache, codec, resolver.WithLogger(a.logger.Named("resolver")))
	if err != nil {
		return fmt.Errorf("resolver init failed: %w", err)
	}
	a.encoder, err = encoder.New(codec, a.cfg.Codec.EncodeCacheEntries, a.logger.Named("encoder"))
	if err != nil {
		return fmt.Errorf("encoder init failed: %w", err)
	}
	a.loader, err = loader.New(loader.Config{
		Mode:          a.cfg.ModeValue(),
		ProjectBase:   a.cfg.Project.Base,
		AssetTemplate: a.cfg.AssetTemplate(),
	}, loader.Deps{
		Resolver:      res,
		Normalizer:    normalize.New(normalize.Config{MaxWidth: a.cfg.Codec.MaxWidth}),
		Fingerprinter: pipeline.NewFingerprinter(blake3.New()),
		Cache:         a.cache,
		Codec:         codec,
		Encoder:       a.encoder,
	}, a.logger.Named("loader"))
	if err != nil {
		return fmt.Errorf("loader init failed: %w", err)
	}
	a.rewriter, err = markdown.New(markdown.Config{
		ProjectRoot:     root,
		ComponentModule: a.cfg.Markdown.ComponentModule,
		RuntimeModule:   a.cfg.Markdown.RuntimeModule,
		Mapping:         a.cfg.Build.Sourcemap,
	}, uuid.NewRandom())
	if err != nil {
		return fmt.Errorf("markdown rewriter init failed: %w", err)
	}
	return nil
}

func (a *App) setupFinalizer(ctx context.Context) error {
	var err error
	a.blobs, err = storage.Open(ctx, a.cfg, a.fs, a.logger.Named("storage"))
	if err != nil {
		return err
	}
	if err := a.setupManifest(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	clock, err := system.FromSourceDateEpoch(os.Getenv("SOURCE_DATE_EPOCH"))
	if err != nil {
		return err
	}
	a.finalizer, err = finalizer.New(finalizer.Config{
		Concurrency:  a.cfg.Build.Concurrency,
		ManifestPath: a.cfg.Build.Manifest,
		Topic:        a.cfg.PubSub.TopicName,
	}, finalizer.Deps{
		Store:     a.blobs.Store,
		Buffers:   a.encoder,
		Manifest:  a.manifest,
		Publisher: a.publisher,
		Clock:     clock,
		IDs:       uuid.New(),
	}, a.logger.Named("finalizer"))
	if err != nil {
		return fmt.Errorf("finalizer init failed: %w", err)
	}
	return nil
}

func (a *App) setupManifest(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no db.dsn configured, recording asset manifest in memory")
		a.manifest = memorystorage.NewManifestStore()
		return nil
	}
	store, err := pgstore.NewManifestStore(ctx, pgstore.ManifestStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("manifest store init failed: %w", err)
	}
	a.pgManifest = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("manifest schema init failed: %w", err)
	}
	a.manifest = store
	a.logger.Info("manifest store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	a.publisher = a.pubsubPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Handler exposes the dev HTTP surface.
func (a *App) Handler() http.Handler {
	return a.devServer.Handler()
}

// Rewriter exposes the markdown rewriter.
func (a *App) Rewriter() *markdown.Rewriter {
	return a.rewriter
}

// Serve runs the dev server until ctx is canceled or the process is signaled.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("dev server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("dev server: %w", err)
	default:
		return nil
	}
}

// Build loads every module id concurrently, then flushes the session's artifacts once.
// A load error aborts the build before anything is written.
func (a *App) Build(ctx context.Context, ids []string) (BuildResult, error) {
	if a.finalizer == nil {
		return BuildResult{}, errors.New("build requires mode build")
	}
	modules := make([]loader.Module, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Build.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			mod, err := a.loader.Load(gctx, id)
			if err != nil {
				return fmt.Errorf("load %s: %w", id, err)
			}
			modules[i] = mod
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BuildResult{}, err
	}

	report, err := a.finalizer.Flush(ctx, a.cache)
	return BuildResult{Modules: modules, Report: report}, err
}

// Close releases clients and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if err := a.blobs.Close(); err != nil {
		a.logger.Warn("blob store close failed", zap.Error(err))
	}
	if a.pgManifest != nil {
		a.pgManifest.Close()
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
