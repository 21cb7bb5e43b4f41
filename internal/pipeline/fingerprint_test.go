package pipeline_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/imagepipe/internal/hash/blake3"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

func TestFingerprintIgnoresOptionInsertionOrder(t *testing.T) {
	t.Parallel()

	fp := pipeline.NewFingerprinter(blake3.New())

	first := map[string]string{}
	first["format"] = "png"
	first["quality"] = "70"
	first["grayscale"] = "true"

	second := map[string]string{}
	second["grayscale"] = "true"
	second["quality"] = "70"
	second["format"] = "png"

	a, err := fp.Fingerprint("/src/photo.jpg", 400, first)
	require.NoError(t, err)
	b, err := fp.Fingerprint("/src/photo.jpg", 400, second)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, string(a), 64)
}

func TestFingerprintDistinguishesInputs(t *testing.T) {
	t.Parallel()

	fp := pipeline.NewFingerprinter(blake3.New())
	base, err := fp.Fingerprint("/src/photo.jpg", 400, nil)
	require.NoError(t, err)

	cases := map[string]struct {
		path    string
		width   int
		options map[string]string
	}{
		"path":   {"/src/other.jpg", 400, nil},
		"width":  {"/src/photo.jpg", 800, nil},
		"option": {"/src/photo.jpg", 400, map[string]string{"format": "png"}},
		// Field boundaries must not be ambiguous.
		"shifted": {"/src/photo.jpg\nwidth=400", 0, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := fp.Fingerprint(tc.path, tc.width, tc.options)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

type failingHasher struct{}

func (failingHasher) Hash([]byte) (string, error) { return "", errors.New("boom") }

func TestFingerprintPropagatesHasherError(t *testing.T) {
	t.Parallel()

	_, err := pipeline.NewFingerprinter(failingHasher{}).Fingerprint("/a.png", 1, nil)
	require.Error(t, err)

	_, err = pipeline.NewFingerprinter(nil).Fingerprint("/a.png", 1, nil)
	require.Error(t, err)
}

func TestFingerprintShort(t *testing.T) {
	t.Parallel()

	fp := pipeline.Fingerprint("abcdef0123")
	assert.Equal(t, "abcd", fp.Short(4))
	assert.Equal(t, "abcdef0123", fp.Short(0))
	assert.Equal(t, "abcdef0123", fp.Short(50))
}
