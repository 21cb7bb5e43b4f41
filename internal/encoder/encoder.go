// Package encoder materializes artifact bytes, memoizing encodes of deferred image handles.
package encoder

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// DefaultEntries is the memo size used when none is configured.
const DefaultEntries = 256

// Encoder returns the bytes for an artifact. Artifacts that already carry a buffer are
// returned as-is; handles are encoded once per fingerprint and kept in an in-memory LRU.
type Encoder struct {
	codec   pipeline.Codec
	memo    *lru.Cache[string, []byte]
	flights singleflight.Group
	logger  *zap.Logger
}

// New creates an Encoder holding up to entries encoded buffers.
func New(codec pipeline.Codec, entries int, logger *zap.Logger) (*Encoder, error) {
	if codec == nil {
		return nil, errors.New("encoder: codec is required")
	}
	if entries <= 0 {
		entries = DefaultEntries
	}
	memo, err := lru.New[string, []byte](entries)
	if err != nil {
		return nil, fmt.Errorf("create encode memo: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{codec: codec, memo: memo, logger: logger}, nil
}

// Bytes returns the encoded form of art.
func (e *Encoder) Bytes(ctx context.Context, art *pipeline.Artifact) ([]byte, error) {
	if art == nil {
		return nil, errors.New("encoder: nil artifact")
	}
	if art.Buffer != nil {
		return art.Buffer, nil
	}
	if art.Image == nil {
		return nil, fmt.Errorf("encoder: artifact %s has neither buffer nor image", art.AssetPath)
	}

	key := string(art.Fingerprint)
	if key == "" {
		key = art.AssetPath
	}
	if data, ok := e.memo.Get(key); ok {
		return data, nil
	}
	result, err, _ := e.flights.Do(key, func() (any, error) {
		if data, ok := e.memo.Get(key); ok {
			return data, nil
		}
		data, err := e.codec.Encode(context.WithoutCancel(ctx), art.Image, art.MimeType, art.Options)
		if err != nil {
			return nil, err
		}
		e.memo.Add(key, data)
		e.logger.Debug("encoded artifact",
			zap.String("asset_path", art.AssetPath),
			zap.String("mime_type", art.MimeType),
			zap.Int("bytes", len(data)),
		)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data, _ := result.([]byte) //nolint:errcheck // always []byte when err is nil
	return data, nil
}

// Purge drops every memoized buffer.
func (e *Encoder) Purge() {
	e.memo.Purge()
}

// Len reports how many buffers are memoized.
func (e *Encoder) Len() int {
	return e.memo.Len()
}
