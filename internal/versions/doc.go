// Package versions implements the append-only version store.
//
// Each resource id owns a chain of immutable snapshots numbered 1, 2, 3 ...
// without gaps. Data lives at versions/{id}/v{n}/data with a CBOR sidecar at
// versions/{id}/v{n}/meta that records the sha-256 checksum; the list of known
// numbers per resource is kept in versions/index. Reads verify the checksum
// and report an IntegrityError instead of serving damaged data.
package versions
