package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint is a fixed-length hex digest over (source path, width, options). It keys the
// cache and appears in generated file names.
type Fingerprint string

// Short returns the first n characters of the fingerprint, or all of it when n is out of range.
func (f Fingerprint) Short(n int) string {
	if n <= 0 || n >= len(f) {
		return string(f)
	}
	return string(f[:n])
}

// Fingerprinter derives fingerprints with a pluggable hasher.
type Fingerprinter struct {
	hasher Hasher
}

// NewFingerprinter returns a Fingerprinter backed by hasher.
func NewFingerprinter(hasher Hasher) *Fingerprinter {
	return &Fingerprinter{hasher: hasher}
}

// Fingerprint hashes the canonical form of the request. Option keys are sorted first, so the
// result does not depend on map iteration or insertion order.
func (f *Fingerprinter) Fingerprint(absPath string, width int, options map[string]string) (Fingerprint, error) {
	if f == nil || f.hasher == nil {
		return "", errors.New("fingerprinter has no hasher")
	}
	digest, err := f.hasher.Hash(canonicalRequest(absPath, width, options))
	if err != nil {
		return "", fmt.Errorf("hash transform request: %w", err)
	}
	return Fingerprint(digest), nil
}

func canonicalRequest(absPath string, width int, options map[string]string) []byte {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("src=")
	b.WriteString(strconv.Quote(absPath))
	b.WriteString("\nwidth=")
	b.WriteString(strconv.Itoa(width))
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(options[k]))
	}
	return []byte(b.String())
}
