package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/imagepipe/internal/config"
	localstorage "github.com/JakeFAU/imagepipe/internal/storage/local"
	memorystorage "github.com/JakeFAU/imagepipe/internal/storage/memory"
)

func baseConfig(provider string) config.Config {
	var cfg config.Config
	cfg.Project.Root = "/site"
	cfg.Build.OutDir = "dist"
	cfg.Storage.Provider = provider
	return cfg
}

func TestOpenMemory(t *testing.T) {
	t.Parallel()

	p, err := Open(context.Background(), baseConfig("memory"), nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &memorystorage.BlobStore{}, p.Store)
	assert.NoError(t, p.Close())
}

func TestOpenLocalUsesProjectRelativeOutDir(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	p, err := Open(context.Background(), baseConfig("local"), fs, nil)
	require.NoError(t, err)
	require.IsType(t, &localstorage.BlobStore{}, p.Store)

	_, err = p.Store.PutObject(context.Background(), "_astro/cat.png", "image/png", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	exists, err := afero.Exists(fs, filepath.Join("/site", "dist", "_astro", "cat.png"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOpenUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), baseConfig("s3"), nil, nil)
	require.ErrorContains(t, err, "unknown storage provider")
}

func TestOutputDir(t *testing.T) {
	t.Parallel()

	cfg := baseConfig("local")
	assert.Equal(t, filepath.Join("/site", "dist"), OutputDir(cfg))

	cfg.Build.OutDir = "/var/www"
	assert.Equal(t, "/var/www", OutputDir(cfg))
}
