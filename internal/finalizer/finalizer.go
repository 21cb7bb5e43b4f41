// Package finalizer persists every fingerprinted cache entry at the end of a production build.
package finalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/imagepipe/internal/cache"
	"github.com/JakeFAU/imagepipe/internal/metrics"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// DefaultConcurrency bounds parallel writes when none is configured.
const DefaultConcurrency = 16

// BufferSource materializes artifact bytes.
type BufferSource interface {
	Bytes(ctx context.Context, art *pipeline.Artifact) ([]byte, error)
}

type purger interface {
	Purge()
}

// Config controls a flush.
type Config struct {
	Concurrency int
	// ManifestPath, when set, is where a JSON list of flushed assets is written via the store.
	ManifestPath string
	// Topic receives a FlushEvent after the flush. Empty disables publishing.
	Topic string
}

// Deps are the collaborators of a Finalizer. Store and Buffers are required.
type Deps struct {
	Store     pipeline.BlobStore
	Buffers   BufferSource
	Manifest  pipeline.ManifestStore
	Publisher pipeline.Publisher
	Clock     pipeline.Clock
	IDs       pipeline.IDGenerator
}

// Report summarizes a flush.
type Report struct {
	BuildID string
	Assets  []pipeline.AssetRecord
	Failed  []string
	Bytes   int64
}

// Finalizer writes build artifacts to durable storage.
type Finalizer struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	flushes atomic.Int32
}

// New validates deps and returns a Finalizer.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Finalizer, error) {
	if deps.Store == nil || deps.Buffers == nil {
		return nil, errors.New("finalizer: store and buffers are required")
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{cfg: cfg, deps: deps, logger: logger}, nil
}

// ObjectKey is the store path of an asset: the asset path without its leading slash or
// query string.
func ObjectKey(assetPath string) string {
	key, _, _ := strings.Cut(assetPath, "?")
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}

// Flush writes every fingerprinted artifact in c concurrently. A failed write does not stop
// the others; failures are returned together as a *pipeline.FlushError after all writes
// were attempted.
func (f *Finalizer) Flush(ctx context.Context, c *cache.Cache) (Report, error) {
	if n := f.flushes.Add(1); n > 1 {
		f.logger.Warn("flush invoked more than once; rewriting assets", zap.Int32("invocation", n))
	}
	start := time.Now()
	report := Report{BuildID: f.buildID()}

	var artifacts []*pipeline.Artifact
	for _, ke := range c.Entries() {
		if ke.Entry.Fingerprinted() {
			artifacts = append(artifacts, ke.Entry.Artifact)
		}
	}

	var (
		mu     sync.Mutex
		errs   error
		failed []string
	)
	fail := func(assetPath string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, assetPath)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", assetPath, err))
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(f.cfg.Concurrency)
	for _, art := range artifacts {
		g.Go(func() error {
			rec, err := f.write(gctx, art)
			metrics.ObserveFlushedAsset(err, int(rec.SizeBytes))
			if err != nil {
				f.logger.Error("asset write failed", zap.String("asset_path", art.AssetPath), zap.Error(err))
				fail(art.AssetPath, err)
				return nil
			}
			mu.Lock()
			report.Assets = append(report.Assets, rec)
			report.Bytes += rec.SizeBytes
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // writers report through fail
	sort.Slice(report.Assets, func(i, j int) bool { return report.Assets[i].AssetPath < report.Assets[j].AssetPath })
	sort.Strings(failed)
	report.Failed = failed

	if f.deps.Manifest != nil && len(report.Assets) > 0 {
		if err := f.deps.Manifest.RecordAssets(ctx, report.Assets); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("record manifest: %w", err))
		}
	}
	if f.cfg.ManifestPath != "" {
		if err := f.writeManifest(ctx, report.Assets); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	f.publish(ctx, report)

	if p, ok := f.deps.Buffers.(purger); ok {
		p.Purge()
	}

	f.logger.Info("build flush complete",
		zap.String("build_id", report.BuildID),
		zap.Int("assets", len(report.Assets)),
		zap.Int("failed", len(report.Failed)),
		zap.String("size", humanize.Bytes(uint64(report.Bytes))), //nolint:gosec // sizes are non-negative
		zap.Duration("elapsed", time.Since(start)),
	)

	if errs != nil {
		return report, &pipeline.FlushError{Failed: report.Failed, Err: errs}
	}
	return report, nil
}

func (f *Finalizer) write(ctx context.Context, art *pipeline.Artifact) (pipeline.AssetRecord, error) {
	data, err := f.deps.Buffers.Bytes(ctx, art)
	if err != nil {
		return pipeline.AssetRecord{}, err
	}
	uri, err := f.deps.Store.PutObject(ctx, ObjectKey(art.AssetPath), art.MimeType, bytes.NewReader(data))
	if err != nil {
		return pipeline.AssetRecord{}, err
	}
	f.logger.Debug("asset written",
		zap.String("asset_path", art.AssetPath),
		zap.String("uri", uri),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
	)
	return pipeline.AssetRecord{
		Fingerprint: art.Fingerprint,
		AssetPath:   art.AssetPath,
		MimeType:    art.MimeType,
		SizeBytes:   int64(len(data)),
		URI:         uri,
		FlushedAt:   f.deps.Clock.Now(),
	}, nil
}

func (f *Finalizer) writeManifest(ctx context.Context, assets []pipeline.AssetRecord) error {
	if assets == nil {
		assets = []pipeline.AssetRecord{}
	}
	data, err := json.MarshalIndent(assets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := f.deps.Store.PutObject(ctx, ObjectKey(f.cfg.ManifestPath), "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// publish announces the flush. A failed publish is logged, not returned: the assets are
// already on disk.
func (f *Finalizer) publish(ctx context.Context, report Report) {
	if f.deps.Publisher == nil || f.cfg.Topic == "" {
		return
	}
	ev := pipeline.FlushEvent{
		BuildID:   report.BuildID,
		Assets:    len(report.Assets),
		Failed:    len(report.Failed),
		Bytes:     report.Bytes,
		FlushedAt: f.deps.Clock.Now(),
	}
	id, err := f.deps.Publisher.Publish(ctx, f.cfg.Topic, ev)
	if err != nil {
		f.logger.Warn("publish flush event failed", zap.String("topic", f.cfg.Topic), zap.Error(err))
		return
	}
	f.logger.Debug("flush event published", zap.String("message_id", id))
}

func (f *Finalizer) buildID() string {
	if f.deps.IDs == nil {
		return ""
	}
	id, err := f.deps.IDs.NewID()
	if err != nil {
		f.logger.Warn("generate build id failed", zap.Error(err))
		return ""
	}
	return id
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
