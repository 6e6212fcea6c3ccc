// Package storage is the SQLite persistence layer.
//
// It holds the rows the pipeline reads (bindings, destinations, analysis
// records) and, when the sqlite cache driver is selected, the durable
// last-seen match cache.
package storage
