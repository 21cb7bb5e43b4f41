package pipeline

import (
	"image"
	"net/url"
	"time"
)

// Mode selects how asset module paths are rendered.
type Mode string

// Supported modes.
const (
	ModeDev   Mode = "dev"
	ModeBuild Mode = "build"
)

// Reference is a module identifier resolved to an image on disk.
type Reference struct {
	ModuleID     string
	AbsolutePath string
	Extension    string
	BaseName     string
	Params       url.Values
}

// SourceRecord holds a decoded source image. One record exists per absolute path and it is
// never modified after creation.
type SourceRecord struct {
	AbsolutePath string
	Extension    string
	Image        image.Image
	NaturalWidth int
}

// TransformRequest is the per-width input handed to the codec.
type TransformRequest struct {
	SourcePath string
	Source     image.Image
	Width      int
	Options    Options
	MimeType   string
}

// Transformed is a codec result. Exactly one of Image or Buffer is set.
type Transformed struct {
	Image  image.Image
	Buffer []byte
}

// Decoded is a codec decode result.
type Decoded struct {
	Image image.Image
	Width int
}

// Artifact is a write-once transform result. Buffer is set when the codec produced encoded
// bytes, Image when encoding is deferred.
type Artifact struct {
	Fingerprint Fingerprint
	AssetPath   string
	MimeType    string
	Options     Options
	Image       image.Image
	Buffer      []byte
}

// Entry is a cache value. Exactly one field is set.
type Entry struct {
	Source   *SourceRecord
	Artifact *Artifact
	DataURI  string
}

// Fingerprinted reports whether the entry is an artifact that needs materializing on flush.
func (e Entry) Fingerprinted() bool {
	return e.Artifact != nil && e.Artifact.Fingerprint != ""
}

// Directives is the normalized form of a module's query parameters.
type Directives struct {
	MimeType        string
	Widths          []int
	Options         Options
	OutputExtension string
	Inline          bool
}

// EffectiveWidths returns the requested widths, or the natural width when none were requested.
func (d Directives) EffectiveWidths(naturalWidth int) []int {
	if len(d.Widths) > 0 {
		out := make([]int, len(d.Widths))
		copy(out, d.Widths)
		return out
	}
	return []int{naturalWidth}
}

// AssetRecord describes one flushed asset.
type AssetRecord struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	AssetPath   string      `json:"asset_path"`
	MimeType    string      `json:"mime_type"`
	SizeBytes   int64       `json:"size_bytes"`
	URI         string      `json:"uri"`
	FlushedAt   time.Time   `json:"flushed_at"`
}

// FlushEvent is published once a build flush completes.
type FlushEvent struct {
	BuildID   string    `json:"build_id"`
	Assets    int       `json:"assets"`
	Failed    int       `json:"failed"`
	Bytes     int64     `json:"bytes"`
	FlushedAt time.Time `json:"flushed_at"`
}
