// Package server hosts the Fiber HTTP surface of the cache engine: the
// middleware chain (panic recovery, request ids, access logging) and the
// origin client used as a prefetch data source. Endpoint handlers live in the
// routes subpackage so they can depend on the engine without this package
// importing it. Every endpoint sits under the /-/ prefix; anything else is
// answered with a JSON 404.
package server
