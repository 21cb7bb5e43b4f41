package encoder_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/imagepipe/internal/encoder"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

type countingCodec struct {
	encodes atomic.Int32
	err     error
}

func (c *countingCodec) Decode(context.Context, string, string) (pipeline.Decoded, error) {
	return pipeline.Decoded{}, errors.New("not used")
}

func (c *countingCodec) Transform(context.Context, pipeline.TransformRequest) (pipeline.Transformed, error) {
	return pipeline.Transformed{}, errors.New("not used")
}

func (c *countingCodec) Encode(_ context.Context, _ image.Image, mimeType string, _ pipeline.Options) ([]byte, error) {
	c.encodes.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []byte(mimeType), nil
}

func TestNewRequiresCodec(t *testing.T) {
	_, err := encoder.New(nil, 4, nil)
	assert.Error(t, err)
}

func TestBytesReturnsExistingBuffer(t *testing.T) {
	codec := &countingCodec{}
	enc, err := encoder.New(codec, 4, nil)
	require.NoError(t, err)

	data, err := enc.Bytes(context.Background(), &pipeline.Artifact{AssetPath: "/a.png", Buffer: []byte("raw")})
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), data)
	assert.Zero(t, codec.encodes.Load())
}

func TestBytesEncodesOnceUnderContention(t *testing.T) {
	codec := &countingCodec{}
	enc, err := encoder.New(codec, 4, nil)
	require.NoError(t, err)

	art := &pipeline.Artifact{
		AssetPath: "/_astro/a@400w.abc.png",
		MimeType:  "image/png",
		Image:     image.NewNRGBA(image.Rect(0, 0, 1, 1)),
	}
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := enc.Bytes(context.Background(), art)
			assert.NoError(t, err)
			assert.Equal(t, []byte("image/png"), data)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), codec.encodes.Load())
	assert.Equal(t, 1, enc.Len())

	enc.Purge()
	assert.Zero(t, enc.Len())
	_, err = enc.Bytes(context.Background(), art)
	require.NoError(t, err)
	assert.Equal(t, int32(2), codec.encodes.Load())
}

func TestBytesErrors(t *testing.T) {
	boom := errors.New("boom")
	enc, err := encoder.New(&countingCodec{err: boom}, 4, nil)
	require.NoError(t, err)

	_, err = enc.Bytes(context.Background(), nil)
	assert.Error(t, err)

	_, err = enc.Bytes(context.Background(), &pipeline.Artifact{AssetPath: "/empty.png"})
	assert.Error(t, err)

	_, err = enc.Bytes(context.Background(), &pipeline.Artifact{AssetPath: "/a.png", Image: image.NewGray(image.Rect(0, 0, 1, 1))})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, enc.Len())
}
