// Package cache provides last-seen match caches for the completion detector.
//
// Backends:
//   - memory: process-local TTL map (default, and the fallback target)
//   - redis:  shared cache via go-redis
//   - sqlite: durable rows in the storage database
//
// Fallback wraps a remote backend and decides what happens when it fails.
package cache
