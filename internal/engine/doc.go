// Package engine composes the tiered cache, the version store and the access
// predictor behind one handle. The engine owns every component's lifecycle:
// Initialize opens the persisted indexes and starts the background tasks,
// Close flushes and stops them. All counters flow through events, so status
// and metrics are read-only snapshots of what the components reported.
package engine
