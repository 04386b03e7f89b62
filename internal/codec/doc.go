// Package codec encodes every structure the engine persists into the object
// vault: cache sidecar metadata, the tag index, version metadata and the
// version index. Encoding is CBOR in Core Deterministic mode so that the same
// logical value always produces identical bytes, which keeps vault-side
// deduplication effective for index snapshots that did not change.
package codec
