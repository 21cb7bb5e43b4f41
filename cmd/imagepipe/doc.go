// Package main hosts the imagepipe executable.
//
// Architecture overview:
//   - Load phase: internal/loader resolves an image module id against project.root, normalizes its query
//     (w=400;800, format=webp, inline, ...) into typed directives, decodes the source once per session and
//     builds one artifact per width. Artifacts live in the transform cache keyed by their public asset path;
//     inline data URIs are keyed by fingerprint.
//   - Dev: `imagepipe serve` exposes /@imagepipe/load and /@imagepipe/markdown and answers requests for cached
//     asset paths straight from memory. Nothing is written to disk; encodes are memoized in a bounded LRU.
//   - Build: `imagepipe build id...` loads every id concurrently, prints {id: module body} as JSON, then flushes
//     every fingerprinted artifact once to the configured blob store (local/memory/GCS), records the asset
//     manifest (memory/Postgres) and publishes a flush event (memory/Pub/Sub).
//   - Markdown: `imagepipe markdown file.md...` rewrites <img> tags in compiled markdown into Picture
//     component calls and prints the result.
//
// Quick checklist:
//   - Configure via a YAML file (--config) or IMAGEPIPE_* env vars, e.g. IMAGEPIPE_PROJECT_ROOT,
//     IMAGEPIPE_BUILD_ASSET_FILE_NAMES, IMAGEPIPE_STORAGE_PROVIDER, IMAGEPIPE_DB_DSN.
//   - Set SOURCE_DATE_EPOCH to pin manifest timestamps for reproducible builds.
//   - Run locally: go run ./cmd/imagepipe --config imagepipe.yaml serve
package main
