package loader_test

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/imagepipe/internal/cache"
	"github.com/JakeFAU/imagepipe/internal/encoder"
	"github.com/JakeFAU/imagepipe/internal/hash/blake3"
	"github.com/JakeFAU/imagepipe/internal/loader"
	"github.com/JakeFAU/imagepipe/internal/normalize"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
	"github.com/JakeFAU/imagepipe/internal/resolver"
)

type fakeCodec struct {
	decodes    atomic.Int32
	transforms atomic.Int32
	encodes    atomic.Int32
	failNext   atomic.Bool
}

func (f *fakeCodec) Decode(context.Context, string, string) (pipeline.Decoded, error) {
	f.decodes.Add(1)
	return pipeline.Decoded{Image: image.NewGray(image.Rect(0, 0, 1600, 900)), Width: 1600}, nil
}

func (f *fakeCodec) Transform(_ context.Context, req pipeline.TransformRequest) (pipeline.Transformed, error) {
	f.transforms.Add(1)
	if f.failNext.CompareAndSwap(true, false) {
		return pipeline.Transformed{}, &pipeline.CodecError{Op: "transform", Path: req.SourcePath, Err: errors.New("boom")}
	}
	return pipeline.Transformed{Image: image.NewGray(image.Rect(0, 0, req.Width, req.Width))}, nil
}

func (f *fakeCodec) Encode(context.Context, image.Image, string, pipeline.Options) ([]byte, error) {
	f.encodes.Add(1)
	return []byte("encoded"), nil
}

type fixture struct {
	loader *loader.Loader
	codec  *fakeCodec
	cache  *cache.Cache
}

func newFixture(t *testing.T, cfg loader.Config) fixture {
	t.Helper()
	codec := &fakeCodec{}
	c := cache.New()
	res, err := resolver.New("/proj", c, codec)
	require.NoError(t, err)
	enc, err := encoder.New(codec, 16, nil)
	require.NoError(t, err)
	l, err := loader.New(cfg, loader.Deps{
		Resolver:      res,
		Normalizer:    normalize.New(normalize.Config{MaxWidth: 4000}),
		Fingerprinter: pipeline.NewFingerprinter(blake3.New()),
		Cache:         c,
		Codec:         codec,
		Encoder:       enc,
	}, nil)
	require.NoError(t, err)
	return fixture{loader: l, codec: codec, cache: c}
}

func TestLoadResponsiveSet(t *testing.T) {
	f := newFixture(t, loader.Config{AssetTemplate: "/_astro/[name]@[width]w.[hash:8][extname]"})

	mod, err := f.loader.Load(context.Background(), "/proj/src/photo.jpg?w=400;800;1200")
	require.NoError(t, err)
	require.True(t, mod.Handled)

	entries := strings.Split(mod.Value, ", ")
	require.Len(t, entries, 3)
	for i, suffix := range []string{" 400w", " 800w", " 1200w"} {
		assert.True(t, strings.HasSuffix(entries[i], suffix), entries[i])
		assert.True(t, strings.HasPrefix(entries[i], "/_astro/photo@"), entries[i])
		assetPath := strings.TrimSuffix(entries[i], suffix)
		entry, ok := f.cache.Get(assetPath)
		require.True(t, ok, assetPath)
		assert.True(t, entry.Fingerprinted())
		assert.Equal(t, "image/jpeg", entry.Artifact.MimeType)
	}
	assert.Equal(t, `export default "`+mod.Value+`"`, mod.Body)
}

func TestLoadPreservesRequestOrder(t *testing.T) {
	f := newFixture(t, loader.Config{})

	mod, err := f.loader.Load(context.Background(), "/proj/photo.jpg?w=1200;400")
	require.NoError(t, err)
	entries := strings.Split(mod.Value, ", ")
	require.Len(t, entries, 2)
	assert.True(t, strings.HasSuffix(entries[0], " 1200w"))
	assert.True(t, strings.HasSuffix(entries[1], " 400w"))
}

func TestLoadSingleWidthIsBarePath(t *testing.T) {
	f := newFixture(t, loader.Config{})

	mod, err := f.loader.Load(context.Background(), "/proj/photo.jpg?w=600")
	require.NoError(t, err)
	assert.NotContains(t, mod.Value, " ")
	assert.NotContains(t, mod.Value, ",")
	assert.True(t, strings.HasPrefix(mod.Value, "/_astro/photo@600w."))
	assert.True(t, strings.HasSuffix(mod.Value, ".jpg"))
	assert.True(t, f.cache.Has(mod.Value))
}

func TestLoadDefaultsToNaturalWidth(t *testing.T) {
	f := newFixture(t, loader.Config{})

	mod, err := f.loader.Load(context.Background(), "/proj/photo.png")
	require.NoError(t, err)
	assert.Contains(t, mod.Value, "@1600w.")
}

func TestLoadBuildModePrefixesProjectBase(t *testing.T) {
	f := newFixture(t, loader.Config{Mode: pipeline.ModeBuild, ProjectBase: "docs/"})

	mod, err := f.loader.Load(context.Background(), "/proj/photo.jpg?w=300")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mod.Value, "/docs/_astro/photo@300w."), mod.Value)
	assert.True(t, f.cache.Has(strings.TrimPrefix(mod.Value, "/docs")))
}

func TestLoadDecodesOncePerSource(t *testing.T) {
	f := newFixture(t, loader.Config{})

	_, err := f.loader.Load(context.Background(), "/proj/photo.jpg?w=400")
	require.NoError(t, err)
	_, err = f.loader.Load(context.Background(), "/proj/photo.jpg?w=800")
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.codec.decodes.Load())
	assert.Equal(t, int32(2), f.codec.transforms.Load())
}

func TestLoadConcurrentIdenticalModules(t *testing.T) {
	f := newFixture(t, loader.Config{})

	var wg sync.WaitGroup
	values := make([]string, 20)
	for i := range values {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mod, err := f.loader.Load(context.Background(), "/proj/photo.jpg?w=400;800")
			assert.NoError(t, err)
			values[i] = mod.Value
		}()
	}
	wg.Wait()

	for _, v := range values {
		assert.Equal(t, values[0], v)
	}
	assert.Equal(t, int32(1), f.codec.decodes.Load())
	assert.Equal(t, int32(2), f.codec.transforms.Load())
}

func TestLoadInline(t *testing.T) {
	f := newFixture(t, loader.Config{})

	mod, err := f.loader.Load(context.Background(), "/proj/icon.png?inline&w=32")
	require.NoError(t, err)
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("encoded"))
	assert.Equal(t, want, mod.Value)

	again, err := f.loader.Load(context.Background(), "/proj/icon.png?w=32&inline")
	require.NoError(t, err)
	assert.Equal(t, mod.Value, again.Value)
	assert.Equal(t, int32(1), f.codec.transforms.Load())
	assert.Equal(t, int32(1), f.codec.encodes.Load())
}

func TestLoadInlineWithSeveralWidthsFailsBeforeCodec(t *testing.T) {
	f := newFixture(t, loader.Config{})

	_, err := f.loader.Load(context.Background(), "/proj/icon.png?inline&w=32;64")
	require.ErrorIs(t, err, pipeline.ErrInvalidConfiguration)
	assert.Zero(t, f.codec.decodes.Load())
	assert.Zero(t, f.codec.transforms.Load())
	assert.Zero(t, f.cache.Len())
}

func TestLoadPassThrough(t *testing.T) {
	f := newFixture(t, loader.Config{})

	for _, id := range []string{"/proj/src/main.ts", "\x00virtual:thing", "/proj/a.svg"} {
		mod, err := f.loader.Load(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, mod.Handled)
		assert.Empty(t, mod.Body)
	}
	assert.Zero(t, f.cache.Len())
}

func TestLoadCodecFailureIsNotCached(t *testing.T) {
	f := newFixture(t, loader.Config{})
	f.codec.failNext.Store(true)

	_, err := f.loader.Load(context.Background(), "/proj/photo.jpg?w=400")
	var codecErr *pipeline.CodecError
	require.ErrorAs(t, err, &codecErr)

	mod, err := f.loader.Load(context.Background(), "/proj/photo.jpg?w=400")
	require.NoError(t, err)
	assert.True(t, f.cache.Has(mod.Value))
	assert.Equal(t, int32(2), f.codec.transforms.Load())
}

func TestNewRejectsMissingDeps(t *testing.T) {
	_, err := loader.New(loader.Config{}, loader.Deps{}, nil)
	assert.Error(t, err)
}
