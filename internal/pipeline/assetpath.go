package pipeline

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

var hashPlaceholder = regexp.MustCompile(`\[hash(?::(\d+))?\]`)

// DefaultAssetTemplate is the file name template used when none is configured.
func DefaultAssetTemplate(assetsDir string) string {
	return NormalizeTemplate("/" + strings.Trim(assetsDir, "/") + "/[name]@[width]w.[hash][extname]")
}

// NormalizeTemplate cleans a file name template and roots it at "/".
func NormalizeTemplate(template string) string {
	template = path.Clean("/" + strings.TrimSpace(template))
	return template
}

// TemplateHasFingerprint reports whether template embeds the fingerprint. Templates without
// it can map distinct transforms onto one path.
func TemplateHasFingerprint(template string) bool {
	return hashPlaceholder.MatchString(template)
}

// BuildAssetPath substitutes [name], [width], [hash], [hash:N], [ext] and [extname] in
// template and returns a root-relative path.
func BuildAssetPath(baseName, template, ext string, width int, fp Fingerprint) string {
	out := hashPlaceholder.ReplaceAllStringFunc(template, func(m string) string {
		sub := hashPlaceholder.FindStringSubmatch(m)
		if sub[1] == "" {
			return string(fp)
		}
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return string(fp)
		}
		return fp.Short(n)
	})
	ext = strings.TrimPrefix(ext, ".")
	out = strings.NewReplacer(
		"[name]", baseName,
		"[width]", strconv.Itoa(width),
		"[extname]", "."+ext,
		"[ext]", ext,
	).Replace(out)
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

// NormalizeProjectBase returns base with a leading slash and no trailing slash; "/" becomes "".
func NormalizeProjectBase(base string) string {
	base = path.Clean("/" + strings.TrimSpace(base))
	return strings.TrimSuffix(base, "/")
}

// ModulePath is the reference a module exports for an asset: the bare asset path in dev mode,
// prefixed by the project base in build mode.
func ModulePath(mode Mode, projectBase, assetPath string) string {
	if mode == ModeBuild {
		return projectBase + assetPath
	}
	return assetPath
}

// SourceKey is the cache key of the decoded source at absPath.
func SourceKey(absPath string) string {
	return "source:" + absPath
}
