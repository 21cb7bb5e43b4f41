// Package normalize turns module query parameters into validated pipeline directives.
package normalize

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// Width keys accepted in a module query, in lookup order.
var widthKeys = []string{"w", "width", "widths"}

// Flags that switch a module to inline (data URI) output.
var inlineKeys = []string{"inline", "base64", "raw"}

// Boolean options that may appear as bare flags (?grayscale).
var flagKeys = []string{"grayscale", "flip", "flop"}

// Config bounds what a module may request.
type Config struct {
	// MaxWidth caps requested widths and heights.
	MaxWidth int
	// Encodable lists output formats the codec can produce.
	Encodable []string
	// Fallback is the output format for sources the codec can decode but not encode.
	Fallback string
}

// Normalizer implements pipeline.Normalizer.
type Normalizer struct {
	cfg Config
}

// New returns a Normalizer, filling unset Config fields with defaults.
func New(cfg Config) *Normalizer {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 8192
	}
	if len(cfg.Encodable) == 0 {
		cfg.Encodable = []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff"}
	}
	if cfg.Fallback == "" {
		cfg.Fallback = "png"
	}
	return &Normalizer{cfg: cfg}
}

// Normalize parses params for a source with extension ext. Unknown keys are ignored so
// bundler-added markers such as ?import or ?t= do not fail the module.
func (n *Normalizer) Normalize(params url.Values, ext string) (pipeline.Directives, error) {
	raw := make(map[string]string, len(params))
	for key, values := range params {
		if len(values) == 0 {
			continue
		}
		raw[strings.ToLower(key)] = values[len(values)-1]
	}

	widths, err := n.widths(raw)
	if err != nil {
		return pipeline.Directives{}, err
	}

	inline := false
	for _, key := range inlineKeys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		on, err := parseFlag(key, value)
		if err != nil {
			return pipeline.Directives{}, err
		}
		inline = inline || on
		delete(raw, key)
	}
	if inline && len(widths) > 1 {
		return pipeline.Directives{}, pipeline.InvalidConfigurationf("inline output accepts at most one width, got %d", len(widths))
	}

	opts, err := n.decodeOptions(raw)
	if err != nil {
		return pipeline.Directives{}, err
	}
	if err := n.validate(opts); err != nil {
		return pipeline.Directives{}, err
	}

	format := strings.ToLower(opts.Format)
	if format == "" {
		format = strings.ToLower(strings.TrimPrefix(ext, "."))
		if !slices.Contains(n.cfg.Encodable, format) {
			format = n.cfg.Fallback
		}
	} else if !slices.Contains(n.cfg.Encodable, format) {
		return pipeline.Directives{}, pipeline.InvalidConfigurationf("unsupported output format %q", opts.Format)
	}
	opts.Format = format

	return pipeline.Directives{
		MimeType:        pipeline.MimeType(format),
		Widths:          widths,
		Options:         opts,
		OutputExtension: format,
		Inline:          inline,
	}, nil
}

func (n *Normalizer) widths(raw map[string]string) ([]int, error) {
	var list string
	found := false
	for _, key := range widthKeys {
		if value, ok := raw[key]; ok {
			list, found = value, true
			delete(raw, key)
		}
	}
	if !found {
		return nil, nil
	}
	parts := strings.FieldsFunc(list, func(r rune) bool { return r == ';' || r == ',' })
	if len(parts) == 0 {
		return nil, pipeline.InvalidConfigurationf("empty width list")
	}
	widths := make([]int, 0, len(parts))
	for _, part := range parts {
		w, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, pipeline.InvalidConfigurationf("width %q is not an integer", part)
		}
		if w <= 0 || w > n.cfg.MaxWidth {
			return nil, pipeline.InvalidConfigurationf("width %d out of range 1..%d", w, n.cfg.MaxWidth)
		}
		widths = append(widths, w)
	}
	return widths, nil
}

func (n *Normalizer) decodeOptions(raw map[string]string) (pipeline.Options, error) {
	input := make(map[string]any, len(raw))
	for key, value := range raw {
		if slices.Contains(flagKeys, key) {
			on, err := parseFlag(key, value)
			if err != nil {
				return pipeline.Options{}, err
			}
			input[key] = on
			continue
		}
		input[key] = value
	}

	var opts pipeline.Options
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &opts,
		TagName:          "mapstructure",
	})
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("build options decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return pipeline.Options{}, pipeline.InvalidConfigurationf("decode options: %v", err)
	}
	return opts, nil
}

func (n *Normalizer) validate(opts pipeline.Options) error {
	if opts.Quality < 0 || opts.Quality > 100 {
		return pipeline.InvalidConfigurationf("quality %d out of range 1..100", opts.Quality)
	}
	if opts.Height < 0 || opts.Height > n.cfg.MaxWidth {
		return pipeline.InvalidConfigurationf("height %d out of range 1..%d", opts.Height, n.cfg.MaxWidth)
	}
	if opts.Rotate%90 != 0 {
		return pipeline.InvalidConfigurationf("rotate %d is not a multiple of 90", opts.Rotate)
	}
	return nil
}

// parseFlag accepts a bare key (empty value) as true.
func parseFlag(key, value string) (bool, error) {
	if value == "" {
		return true, nil
	}
	on, err := strconv.ParseBool(value)
	if err != nil {
		return false, pipeline.InvalidConfigurationf("%s=%q is not a boolean", key, value)
	}
	return on, nil
}
