package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/imagepipe/internal/config"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
	memorypublisher "github.com/JakeFAU/imagepipe/internal/publisher/memory"
	memorystorage "github.com/JakeFAU/imagepipe/internal/storage/memory"
)

func writePNG(t *testing.T, fs afero.Fs, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{G: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func testConfig(t *testing.T, mode pipeline.Mode) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Mode = string(mode)
	cfg.Server.Port = 4321
	cfg.Server.RequestTimeoutSeconds = 5
	cfg.Project.Root = "/site"
	cfg.Project.Base = "/docs/"
	cfg.Build.OutDir = "dist"
	cfg.Build.AssetsDir = "_astro"
	cfg.Build.Concurrency = 4
	cfg.Build.Manifest = "_astro/manifest.json"
	cfg.Codec.JPEGQuality = 80
	cfg.Codec.MaxWidth = 8192
	cfg.Codec.EncodeCacheEntries = 16
	cfg.Markdown.ComponentModule = "astro-imagetools/components"
	cfg.Storage.Provider = "memory"
	cfg.PubSub.TopicName = "builds"
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) (*App, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/site/img/cat.png", 8, 4)
	app, err := New(context.Background(), cfg, WithFs(fs), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app, fs
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, pipeline.ModeBuild)
	cfg.Build.AssetFileNames = "/assets/[name][extname]"
	_, err := New(context.Background(), cfg, WithFs(afero.NewMemMapFs()), WithLogger(zap.NewNop()))
	require.ErrorContains(t, err, "[hash]")
}

func TestBuildLoadsModulesAndFlushesOnce(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, testConfig(t, pipeline.ModeBuild))
	ids := []string{
		"/site/img/cat.png?w=2;4",
		"/site/styles.css",
		"img/cat.png?w=4",
	}

	result, err := app.Build(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, result.Modules, 3)

	responsive := result.Modules[0]
	assert.True(t, responsive.Handled)
	assert.Equal(t, ids[0], responsive.ModuleID)
	parts := strings.Split(responsive.Value, ", ")
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], "/docs/_astro/cat@2w."))
	assert.True(t, strings.HasSuffix(parts[0], ".png 2w"))
	assert.True(t, strings.HasSuffix(parts[1], ".png 4w"))
	assert.True(t, strings.HasPrefix(responsive.Body, "export default "))

	assert.False(t, result.Modules[1].Handled)

	single := result.Modules[2]
	require.True(t, single.Handled)
	assert.Equal(t, strings.TrimSuffix(parts[1], " 4w"), single.Value)

	assert.Len(t, result.Report.Assets, 2)
	assert.Empty(t, result.Report.Failed)
	assert.NotEmpty(t, result.Report.BuildID)

	blobs, ok := app.blobs.Store.(*memorystorage.BlobStore)
	require.True(t, ok)
	paths := blobs.Paths()
	assert.Contains(t, paths, "_astro/manifest.json")
	assert.Len(t, paths, 3)
	for _, p := range paths {
		if strings.HasSuffix(p, ".png") {
			obj, found := blobs.Get(p)
			require.True(t, found)
			assert.Equal(t, "image/png", obj.ContentType)
			_, err := png.Decode(bytes.NewReader(obj.Data))
			assert.NoError(t, err)
		}
	}

	manifest, ok := app.manifest.(*memorystorage.ManifestStore)
	require.True(t, ok)
	assert.Equal(t, 2, manifest.Len())

	pub, ok := app.publisher.(*memorypublisher.Publisher)
	require.True(t, ok)
	events, err := pub.FlushEvents("builds")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Assets)
}

func TestBuildAbortsOnInvalidDirectives(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, testConfig(t, pipeline.ModeBuild))
	_, err := app.Build(context.Background(), []string{"/site/img/cat.png?w=abc"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfiguration)

	blobs, ok := app.blobs.Store.(*memorystorage.BlobStore)
	require.True(t, ok)
	assert.Empty(t, blobs.Paths())
}

func TestDevHandlerServesLoadedAssetsFromMemory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, pipeline.ModeDev)
	cfg.Storage.Provider = "local"
	app, fs := newTestApp(t, cfg)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/@imagepipe/load?id=" + url.QueryEscape("/site/img/cat.png?w=4"))
	require.NoError(t, err)
	body := new(bytes.Buffer)
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mod, err := app.loader.Load(context.Background(), "/site/img/cat.png?w=4")
	require.NoError(t, err)
	assert.Equal(t, mod.Body, body.String())
	assert.True(t, strings.HasPrefix(mod.Value, "/_astro/cat@4w."))

	asset, err := http.Get(srv.URL + mod.Value)
	require.NoError(t, err)
	defer asset.Body.Close()
	require.Equal(t, http.StatusOK, asset.StatusCode)
	assert.Equal(t, "image/png", asset.Header.Get("Content-Type"))
	img, err := png.Decode(asset.Body)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	exists, err := afero.DirExists(fs, "/site/dist")
	require.NoError(t, err)
	assert.False(t, exists, "dev requests must not write to disk")
}

func TestBuildRequiresBuildMode(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, testConfig(t, pipeline.ModeDev))
	_, err := app.Build(context.Background(), []string{"/site/img/cat.png"})
	require.ErrorContains(t, err, "mode build")
}

func TestRewriterIsWired(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, testConfig(t, pipeline.ModeDev))
	code := "const html = $$render`<p><img src=\"./cat.png\" alt=\"A cat\"></p>`;"
	res, err := app.Rewriter().Rewrite(code, "/site/src/pages/post.md")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Contains(t, res.Code, `"src": "/src/pages/cat.png"`)
}
