// Package cache implements the session-scoped transform cache shared by the load phase, the
// dev server and the build finalizer.
//
// The cache is a plain key→entry map that never evicts. Three key namespaces share it:
// decoded sources under pipeline.SourceKey(path), inline data URIs under their fingerprint,
// and artifacts under their public asset path. GetOrBuild guarantees that the builder for a
// key runs at most once at a time and never again after it succeeds; a failed build stores
// nothing so the next request retries.
package cache
