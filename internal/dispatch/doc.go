// Package dispatch serializes playback jobs per destination.
//
// Each destination key owns a FIFO queue and at most one worker goroutine.
// Workers are spawned lazily by Enqueue and exit as soon as their queue is
// empty, so the registry only holds keys with queued or in-flight work.
//
// # Ordering
//
// Jobs for one key play in submission order and never overlap. Keys are
// independent: a slow job on one key does not delay any other key.
//
// # Failure isolation
//
// A failing or panicking player call is logged and counted; the worker keeps
// draining its queue.
package dispatch
