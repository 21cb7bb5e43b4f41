// Package markdown rewrites <img> tags in compiled Markdown documents into Picture component
// invocations.
package markdown

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

var imgTag = regexp.MustCompile(
	`<img\s+src\s*=(?:"|')([^("|')]*)(?:"|')\s*alt\s*=\s*(?:"|')([^("|')]*)(?:"|')[^>]*>`,
)

const renderMarker = "$$render`"

// Config controls the generated imports and how image sources are resolved.
type Config struct {
	// ProjectRoot is stripped from resolved image paths to make them root-relative.
	ProjectRoot string
	// ComponentModule exports the Picture component.
	ComponentModule string
	// RuntimeModule exports renderComponent. Empty means the Astro runtime under ProjectRoot.
	RuntimeModule string
	// Mapping enables offset mapping on results.
	Mapping bool
}

// Result is the outcome of a rewrite.
type Result struct {
	Code    string   `json:"code"`
	Mapping *Mapping `json:"mapping"`
	Changed bool     `json:"changed"`
}

// Rewriter implements the Markdown rewrite.
type Rewriter struct {
	cfg Config
	ids pipeline.IDGenerator
}

// New creates a Rewriter. ids supplies the per-document identifier suffix.
func New(cfg Config, ids pipeline.IDGenerator) (*Rewriter, error) {
	if ids == nil {
		return nil, errors.New("markdown: id generator is required")
	}
	cfg.ProjectRoot = strings.TrimSuffix(cfg.ProjectRoot, "/")
	if cfg.ComponentModule == "" {
		cfg.ComponentModule = "astro-imagetools/components"
	}
	if cfg.RuntimeModule == "" {
		cfg.RuntimeModule = cfg.ProjectRoot + "/node_modules/astro/dist/runtime/server/index.js"
	}
	return &Rewriter{cfg: cfg, ids: ids}, nil
}

// Rewrite replaces image tags inside the render template of document id. Documents that are
// not Markdown, or hold no tags in the template region, are returned unchanged.
func (r *Rewriter) Rewrite(code, id string) (Result, error) {
	unchanged := Result{Code: code}
	if !strings.HasSuffix(id, ".md") || !imgTag.MatchString(code) {
		return unchanged, nil
	}

	start := strings.Index(code, renderMarker)
	end := strings.LastIndexByte(code, '`')
	if start < 0 || end <= start+len(renderMarker) {
		return unchanged, nil
	}
	regionStart := start + len(renderMarker)
	matches := imgTag.FindAllStringSubmatchIndex(code[regionStart:end], -1)
	if len(matches) == 0 {
		return unchanged, nil
	}

	suffix, err := r.suffix()
	if err != nil {
		return Result{}, err
	}
	picture := "Picture" + suffix
	render := "renderComponent" + suffix
	header := fmt.Sprintf(
		"import { Picture as %s } from %q;\nimport { renderComponent as %s } from %q\n;",
		picture, r.cfg.ComponentModule, render, r.cfg.RuntimeModule,
	)

	var b strings.Builder
	b.Grow(len(header) + len(code))
	b.WriteString(header)
	mapping := &Mapping{Prefix: len(header)}

	last := 0
	for _, m := range matches {
		tagStart, tagEnd := regionStart+m[0], regionStart+m[1]
		rawSrc := code[regionStart+m[2] : regionStart+m[3]]
		alt := code[regionStart+m[4] : regionStart+m[5]]

		b.WriteString(code[last:tagStart])
		genStart := b.Len()
		fmt.Fprintf(&b, "${%s($$result, %q, %s, { \"src\": %q, \"alt\": %q })}",
			render, picture, picture, r.resolveSource(id, rawSrc), alt)
		mapping.Edits = append(mapping.Edits, Edit{
			OriginalStart:  tagStart,
			OriginalEnd:    tagEnd,
			GeneratedStart: genStart,
			GeneratedEnd:   b.Len(),
		})
		last = tagEnd
	}
	b.WriteString(code[last:])

	out := Result{Code: b.String(), Changed: true}
	if r.cfg.Mapping {
		out.Mapping = mapping
	}
	return out, nil
}

func (r *Rewriter) suffix() (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate component suffix: %w", err)
	}
	hex := strings.ReplaceAll(id, "-", "")
	if len(hex) < 8 {
		return "", fmt.Errorf("component suffix %q too short", id)
	}
	return hex[:8], nil
}

// resolveSource makes relative sources root-relative against the document directory. Remote
// and data URIs are kept as written.
func (r *Rewriter) resolveSource(docID, src string) string {
	for _, prefix := range []string{"http://", "https://", "data:image/"} {
		if strings.Contains(src, prefix) {
			return src
		}
	}
	resolved := src
	if !path.IsAbs(src) {
		resolved = path.Join(path.Dir(docID), src)
	}
	if r.cfg.ProjectRoot != "" {
		resolved = strings.TrimPrefix(resolved, r.cfg.ProjectRoot)
	}
	return resolved
}
