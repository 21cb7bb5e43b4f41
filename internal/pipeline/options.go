package pipeline

import (
	"strconv"
	"strings"
)

// Options is the enumerated set of transform options a module may request. Width is carried
// separately because one module can request several.
type Options struct {
	Format    string `mapstructure:"format"`
	Quality   int    `mapstructure:"quality"`
	Height    int    `mapstructure:"height"`
	Grayscale bool   `mapstructure:"grayscale"`
	Flip      bool   `mapstructure:"flip"`
	Flop      bool   `mapstructure:"flop"`
	Rotate    int    `mapstructure:"rotate"`
}

// Map returns the non-zero options keyed by their query name.
func (o Options) Map() map[string]string {
	out := make(map[string]string)
	if o.Format != "" {
		out["format"] = o.Format
	}
	if o.Quality != 0 {
		out["quality"] = strconv.Itoa(o.Quality)
	}
	if o.Height != 0 {
		out["height"] = strconv.Itoa(o.Height)
	}
	if o.Grayscale {
		out["grayscale"] = "true"
	}
	if o.Flip {
		out["flip"] = "true"
	}
	if o.Flop {
		out["flop"] = "true"
	}
	if o.Rotate%360 != 0 {
		out["rotate"] = strconv.Itoa(o.Rotate)
	}
	return out
}

// ChangesPixels reports whether applying the options alters the decoded pixels, ignoring
// width and output encoding.
func (o Options) ChangesPixels() bool {
	return o.Height > 0 || o.Grayscale || o.Flip || o.Flop || o.Rotate%360 != 0
}

var mimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"tiff": "image/tiff",
	"bmp":  "image/bmp",
	"avif": "image/avif",
}

// MimeType maps a file extension (without dot) to its image MIME type.
func MimeType(ext string) string {
	if mt, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// CanonicalExtension folds extension aliases so jpg and jpeg compare equal.
func CanonicalExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}
