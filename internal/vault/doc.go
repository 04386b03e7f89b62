// Package vault defines the object vault boundary consumed by the engine: a
// path-keyed blob store with Read/Write/Delete semantics where Delete is
// idempotent and Read reports ErrNotFound for absent paths. Namespacing is by
// path prefix (cache/..., cache-meta/..., versions/{id}/v{n}/...).
//
// The package ships the backends the engine can run against (directory,
// memory, SQLite and S3-compatible object storage) plus a compression
// decorator that applies the configured CompressionLevel transparently. The
// vault has no caching logic of its own; tiering lives in internal/cache.
package vault
