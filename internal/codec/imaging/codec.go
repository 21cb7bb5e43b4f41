// Package imaging implements pipeline.Codec with the standard image decoders and
// golang.org/x/image for resampling and the extra BMP, TIFF and WebP formats.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	// Register decoders with image.Decode.
	_ "golang.org/x/image/webp"

	"github.com/JakeFAU/imagepipe/internal/metrics"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// DecodableExtensions lists the source formats Decode accepts.
var DecodableExtensions = []string{"jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff"}

// EncodableFormats lists the output formats Encode produces.
var EncodableFormats = []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff"}

// Config controls encoding defaults.
type Config struct {
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

// Codec decodes from a filesystem and keeps transformed images as handles until encoded.
type Codec struct {
	fs     afero.Fs
	cfg    Config
	logger *zap.Logger
}

// New creates a Codec reading sources from fs. A nil fs reads the OS filesystem.
func New(fs afero.Fs, cfg Config, logger *zap.Logger) *Codec {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = jpeg.DefaultQuality
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{fs: fs, cfg: cfg, logger: logger}
}

// Decode reads and decodes the image at path.
func (c *Codec) Decode(ctx context.Context, p string, ext string) (decoded pipeline.Decoded, err error) {
	start := time.Now()
	defer func() { metrics.ObserveBuild("decode", err, time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return pipeline.Decoded{}, &pipeline.CodecError{Op: "decode", Path: p, Err: err}
	}
	data, err := afero.ReadFile(c.fs, p)
	if err != nil {
		return pipeline.Decoded{}, &pipeline.CodecError{Op: "decode", Path: p, Err: err}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return pipeline.Decoded{}, &pipeline.CodecError{Op: "decode", Path: p, Err: err}
	}
	c.logger.Debug("decoded source",
		zap.String("path", p),
		zap.String("ext", ext),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
	)
	return pipeline.Decoded{Image: img, Width: img.Bounds().Dx()}, nil
}

// Transform resizes and adjusts req.Source. When the request leaves pixels and format
// untouched it returns the source file bytes instead of a handle.
func (c *Codec) Transform(ctx context.Context, req pipeline.TransformRequest) (out pipeline.Transformed, err error) {
	start := time.Now()
	defer func() { metrics.ObserveBuild("transform", err, time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return pipeline.Transformed{}, &pipeline.CodecError{Op: "transform", Path: req.SourcePath, Err: err}
	}
	if req.Source == nil {
		return pipeline.Transformed{}, &pipeline.CodecError{Op: "transform", Path: req.SourcePath, Err: fmt.Errorf("no source image")}
	}
	if req.Width <= 0 {
		return pipeline.Transformed{}, &pipeline.CodecError{Op: "transform", Path: req.SourcePath, Err: fmt.Errorf("invalid width %d", req.Width)}
	}

	if c.isPassthrough(req) {
		data, err := afero.ReadFile(c.fs, req.SourcePath)
		if err != nil {
			return pipeline.Transformed{}, &pipeline.CodecError{Op: "transform", Path: req.SourcePath, Err: err}
		}
		return pipeline.Transformed{Buffer: data}, nil
	}

	img := resize(req.Source, req.Width, req.Options.Height)
	img = rotate(img, req.Options.Rotate)
	if req.Options.Flip {
		img = flipVertical(img)
	}
	if req.Options.Flop {
		img = flipHorizontal(img)
	}
	if req.Options.Grayscale {
		img = grayscale(img)
	}
	return pipeline.Transformed{Image: img}, nil
}

func (c *Codec) isPassthrough(req pipeline.TransformRequest) bool {
	if req.Width != req.Source.Bounds().Dx() || req.Options.ChangesPixels() || req.Options.Quality != 0 {
		return false
	}
	srcExt := strings.TrimPrefix(path.Ext(req.SourcePath), ".")
	return pipeline.MimeType(srcExt) == req.MimeType
}

// Encode serializes img as mimeType.
func (c *Codec) Encode(ctx context.Context, img image.Image, mimeType string, opts pipeline.Options) (data []byte, err error) {
	start := time.Now()
	defer func() { metrics.ObserveBuild("encode", err, time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return nil, &pipeline.CodecError{Op: "encode", Path: mimeType, Err: err}
	}
	if img == nil {
		return nil, &pipeline.CodecError{Op: "encode", Path: mimeType, Err: fmt.Errorf("no image")}
	}

	var buf bytes.Buffer
	switch mimeType {
	case "image/jpeg":
		quality := opts.Quality
		if quality <= 0 {
			quality = c.cfg.JPEGQuality
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case "image/png":
		err = png.Encode(&buf, img)
	case "image/gif":
		err = gif.Encode(&buf, img, &gif.Options{NumColors: 256})
	case "image/bmp":
		err = bmp.Encode(&buf, img)
	case "image/tiff":
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = fmt.Errorf("unsupported output type %q", mimeType)
	}
	if err != nil {
		return nil, &pipeline.CodecError{Op: "encode", Path: mimeType, Err: err}
	}
	return buf.Bytes(), nil
}
