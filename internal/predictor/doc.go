// Package predictor records which resources each user touches together and
// predicts what they will want next by context overlap. The Prefetcher turns
// predictions into best-effort cache fills through a bounded queue drained by
// a small worker pool; the cache stays authoritative on later reads.
package predictor
