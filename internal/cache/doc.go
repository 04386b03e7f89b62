// Package cache implements the tiered cache: a bounded in-memory tier with
// strict LRU eviction backed by the object vault as the durable tier.
//
// Writes are write-through (vault blob, then sidecar metadata, then memory,
// then the tag index). Reads try memory first and promote vault hits. The tag
// index maps labels to keys regardless of which tier holds the data and is
// persisted as a single object, so InvalidateByTag covers vault-only entries
// too. TTL expiry is checked on every read and by a background sweeper.
package cache
