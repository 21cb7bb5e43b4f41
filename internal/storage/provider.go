// Package storage selects the blob store flushed build assets are written to. The
// application depends only on pipeline.BlobStore, so local disk, memory and Google Cloud
// Storage are interchangeable.
package storage

import (
	"context"
	"fmt"
	"path/filepath"

	gcsclient "cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/imagepipe/internal/config"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
	gcsstorage "github.com/JakeFAU/imagepipe/internal/storage/gcs"
	localstorage "github.com/JakeFAU/imagepipe/internal/storage/local"
	memorystorage "github.com/JakeFAU/imagepipe/internal/storage/memory"
)

// Provider is an opened blob store plus the cleanup its backend needs.
type Provider struct {
	Store pipeline.BlobStore
	close func() error
}

// Close releases backend resources. It is safe to call on a Provider without any.
func (p Provider) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

// Open builds the blob store named by cfg.Storage.Provider. Local output lands in
// build.out_dir, resolved against project.root when relative.
func Open(ctx context.Context, cfg config.Config, fs afero.Fs, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return Provider{}, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			_ = client.Close()
			return Provider{}, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		logger.Info("using GCS storage backend", zap.String("bucket", cfg.Storage.GCSBucket))
		return Provider{Store: store, close: client.Close}, nil
	case "local":
		dir := OutputDir(cfg)
		store, err := localstorage.New(localstorage.Config{BaseDir: dir}, fs)
		if err != nil {
			return Provider{}, fmt.Errorf("local blob store init failed: %w", err)
		}
		logger.Info("using local storage backend", zap.String("path", dir))
		return Provider{Store: store}, nil
	case "memory":
		logger.Info("using in-memory storage backend")
		return Provider{Store: memorystorage.NewBlobStore()}, nil
	default:
		return Provider{}, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

// OutputDir returns the directory local storage writes to.
func OutputDir(cfg config.Config) string {
	dir := cfg.Build.OutDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.Project.Root, dir)
	}
	return dir
}
