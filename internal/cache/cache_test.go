package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

func artifactEntry(fp string) pipeline.Entry {
	return pipeline.Entry{Artifact: &pipeline.Artifact{
		Fingerprint: pipeline.Fingerprint(fp),
		MimeType:    "image/png",
		Buffer:      []byte(fp),
	}}
}

func TestGetOrBuildRunsBuilderOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	c := New()
	var builds atomic.Int32
	release := make(chan struct{})

	build := func(context.Context) (pipeline.Entry, error) {
		builds.Add(1)
		<-release
		return artifactEntry("abc"), nil
	}

	const callers = 32
	results := make([]pipeline.Entry, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = c.GetOrBuild(context.Background(), "/assets/a.png", build)
		}()
	}
	close(start)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), builds.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, results[0].Artifact, results[i].Artifact)
	}
	assert.True(t, c.Has("/assets/a.png"))
}

func TestGetOrBuildSkipsBuilderOnHit(t *testing.T) {
	t.Parallel()

	c := New()
	require.True(t, c.Set("k", artifactEntry("one")))

	called := false
	entry, err := c.GetOrBuild(context.Background(), "k", func(context.Context) (pipeline.Entry, error) {
		called = true
		return artifactEntry("two"), nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, pipeline.Fingerprint("one"), entry.Artifact.Fingerprint)
}

func TestGetOrBuildFailureIsNotCached(t *testing.T) {
	t.Parallel()

	c := New()
	var attempts int
	build := func(context.Context) (pipeline.Entry, error) {
		attempts++
		if attempts == 1 {
			return pipeline.Entry{}, &pipeline.CodecError{Op: "decode", Path: "/bad.jpg", Err: errors.New("corrupt")}
		}
		return artifactEntry("ok"), nil
	}

	_, err := c.GetOrBuild(context.Background(), "k", build)
	var codecErr *pipeline.CodecError
	require.ErrorAs(t, err, &codecErr)
	assert.False(t, c.Has("k"))

	entry, err := c.GetOrBuild(context.Background(), "k", build)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Fingerprint("ok"), entry.Artifact.Fingerprint)
	assert.Equal(t, 2, attempts)
}

func TestGetOrBuildIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry, err := c.GetOrBuild(ctx, "k", func(buildCtx context.Context) (pipeline.Entry, error) {
		if err := buildCtx.Err(); err != nil {
			return pipeline.Entry{}, err
		}
		return pipeline.Entry{DataURI: "data:image/png;base64,AA=="}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AA==", entry.DataURI)
}

func TestGetOrBuildNilBuilder(t *testing.T) {
	t.Parallel()

	_, err := New().GetOrBuild(context.Background(), "k", nil)
	require.Error(t, err)
}

func TestUnrelatedKeysBuildInParallel(t *testing.T) {
	t.Parallel()

	c := New()
	var inFlight, peak atomic.Int32
	build := func(context.Context) (pipeline.Entry, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return artifactEntry("x"), nil
	}

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrBuild(context.Background(), key, build)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Greater(t, peak.Load(), int32(1))
	assert.Equal(t, 3, c.Len())
}

func TestSetIsWriteOnce(t *testing.T) {
	t.Parallel()

	c := New()
	require.True(t, c.Set("k", artifactEntry("first")))
	require.False(t, c.Set("k", artifactEntry("second")))

	entry, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, pipeline.Fingerprint("first"), entry.Artifact.Fingerprint)
}

func TestEntriesSnapshotSorted(t *testing.T) {
	t.Parallel()

	c := New()
	c.Set("b", artifactEntry("b"))
	c.Set(pipeline.SourceKey("/src/a.png"), pipeline.Entry{Source: &pipeline.SourceRecord{AbsolutePath: "/src/a.png"}})
	c.Set("a", pipeline.Entry{DataURI: "data:"})

	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, "b", entries[1].Key)
	assert.Equal(t, "source:/src/a.png", entries[2].Key)
	assert.True(t, entries[1].Entry.Fingerprinted())
	assert.False(t, entries[0].Entry.Fingerprinted())
	assert.False(t, entries[2].Entry.Fingerprinted())
}
