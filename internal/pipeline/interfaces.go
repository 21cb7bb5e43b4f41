package pipeline

import (
	"context"
	"image"
	"io"
	"net/url"
	"time"
)

// Codec decodes, transforms and encodes images.
type Codec interface {
	Decode(ctx context.Context, path string, ext string) (Decoded, error)
	Transform(ctx context.Context, req TransformRequest) (Transformed, error)
	Encode(ctx context.Context, img image.Image, mimeType string, opts Options) ([]byte, error)
}

// Normalizer turns raw query parameters into validated directives. It is the only place
// untyped input becomes Options.
type Normalizer interface {
	Normalize(params url.Values, ext string) (Directives, error)
}

// Hasher computes hex digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// BlobStore writes flushed assets and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ManifestStore persists a record of every flushed asset.
type ManifestStore interface {
	RecordAssets(ctx context.Context, records []AssetRecord) error
}

// Publisher pushes build events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique IDs.
type IDGenerator interface {
	NewID() (string, error)
}
